package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/kalambet/incidentq/internal/connectivity"
	"github.com/kalambet/incidentq/internal/delivery"
	"github.com/kalambet/incidentq/internal/payload"
	"github.com/kalambet/incidentq/internal/submission"
)

// memQueue is an in-memory Queue with never-reused ids.
type memQueue struct {
	mu     sync.Mutex
	next   int64
	items  []submission.Submission
	addErr error
	getErr error
	delErr error
}

func (q *memQueue) Add(_ context.Context, sub submission.Submission) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.addErr != nil {
		return 0, q.addErr
	}
	q.next++
	q.items = append(q.items, sub.WithID(q.next))
	return q.next, nil
}

func (q *memQueue) GetAll(context.Context) ([]submission.Submission, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.getErr != nil {
		return nil, q.getErr
	}
	return append([]submission.Submission(nil), q.items...), nil
}

func (q *memQueue) Delete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.delErr != nil {
		return q.delErr
	}
	for i, s := range q.items {
		if s.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (q *memQueue) Count(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *memQueue) ids() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]int64, 0, len(q.items))
	for _, s := range q.items {
		out = append(out, s.ID)
	}
	return out
}

func (q *memQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.items))
	for _, s := range q.items {
		v, _ := s.Get("First Name")
		out = append(out, v.Text())
	}
	return out
}

// nameEncoder puts the submitter name in the body so senders can tell items apart.
type nameEncoder struct {
	err error
}

func (e nameEncoder) Encode(sub submission.Submission) (payload.Payload, error) {
	if e.err != nil {
		return payload.Payload{}, e.err
	}
	v, _ := sub.Get("First Name")
	return payload.Payload{ContentType: "text/plain", Body: []byte(v.Text()), Fingerprint: strconv.FormatInt(sub.ID, 10)}, nil
}

// scriptedSender answers per submitter name and records call order and
// maximum concurrency.
type scriptedSender struct {
	mu       sync.Mutex
	outcomes map[string]delivery.Kind
	sent     []string
	before   func(name string)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *scriptedSender) Send(_ context.Context, p payload.Payload) delivery.Outcome {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	name := string(p.Body)
	if s.before != nil {
		s.before(name)
	}

	s.mu.Lock()
	s.sent = append(s.sent, name)
	kind, ok := s.outcomes[name]
	s.mu.Unlock()

	if !ok {
		kind = delivery.Delivered
	}
	switch kind {
	case delivery.Rejected:
		return delivery.Outcome{Kind: delivery.Rejected, StatusCode: 500, Status: "Internal Server Error"}
	case delivery.Unreachable:
		return delivery.Outcome{Kind: delivery.Unreachable, Err: errors.New("connection refused")}
	default:
		return delivery.Outcome{Kind: delivery.Delivered, StatusCode: 200, Status: "OK"}
	}
}

func (s *scriptedSender) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// recordingNotifier keeps every notification.
type recordingNotifier struct {
	mu           sync.Mutex
	statuses     []string
	queueChanged int
	caps         []connectivity.Capability
}

func (n *recordingNotifier) QueueChanged() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queueChanged++
}

func (n *recordingNotifier) SyncStatus(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, msg)
}

func (n *recordingNotifier) AttachmentCapability(c connectivity.Capability) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.caps = append(n.caps, c)
}

func (n *recordingNotifier) lastStatus() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 {
		return ""
	}
	return n.statuses[len(n.statuses)-1]
}

// onlineFlag is a switchable Status.
type onlineFlag struct{ v atomic.Bool }

func (f *onlineFlag) Online() bool { return f.v.Load() }
func (f *onlineFlag) set(v bool)   { f.v.Store(v) }

func report(name string) submission.Submission {
	return submission.New([]submission.Field{
		{Label: "First Name", Value: submission.String(name)},
		{Label: "Report Type", Value: submission.String("Fatigue")},
	}, nil)
}

func names(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("S%d", i+1)
	}
	return out
}

type harness struct {
	queue    *memQueue
	sender   *scriptedSender
	notifier *recordingNotifier
	online   *onlineFlag
	orch     *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		queue:    &memQueue{},
		sender:   &scriptedSender{outcomes: map[string]delivery.Kind{}},
		notifier: &recordingNotifier{},
		online:   &onlineFlag{},
	}
	h.orch = New(Deps{
		Queue:    h.queue,
		Encoder:  nameEncoder{},
		Sender:   h.sender,
		Status:   h.online,
		Notifier: h.notifier,
	})
	return h
}

func (h *harness) enqueue(names ...string) {
	for _, n := range names {
		h.queue.Add(context.Background(), report(n))
	}
}
