// Package syncer replays queued submissions to the remote endpoint in
// insertion order and implements the direct-submit path.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/incidentq/internal/delivery"
	"github.com/kalambet/incidentq/internal/payload"
	"github.com/kalambet/incidentq/internal/submission"
	"github.com/kalambet/incidentq/internal/telemetry"
)

// ErrRunInProgress is returned when a trigger arrives while a run is active.
// The trigger is dropped.
var ErrRunInProgress = errors.New("sync run already in progress")

// Status messages shown to the user.
const (
	MsgComplete     = "Sync complete!"
	MsgUnreachable  = "Sync failed. Check connection and try again."
	MsgOffline      = "Offline. Reports will sync when the connection returns."
	MsgStorageFault = "Error: the local queue is unavailable. Sync stopped."
)

// SyncingMessage is the progress text for a run over n reports.
func SyncingMessage(n int) string {
	return fmt.Sprintf("Syncing %d report(s)...", n)
}

// RejectedMessage is the status text for a rejected delivery.
func RejectedMessage(statusText string) string {
	return fmt.Sprintf("Error: %s. Submission failed.", statusText)
}

// Queue is the durable store the orchestrator drains.
type Queue interface {
	Add(ctx context.Context, sub submission.Submission) (int64, error)
	GetAll(ctx context.Context) ([]submission.Submission, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}

// Encoder builds wire payloads.
type Encoder interface {
	Encode(sub submission.Submission) (payload.Payload, error)
}

// Sender performs one delivery attempt.
type Sender interface {
	Send(ctx context.Context, p payload.Payload) delivery.Outcome
}

// Status reports current connectivity.
type Status interface {
	Online() bool
}

// StatusFunc adapts a function to Status.
type StatusFunc func() bool

func (f StatusFunc) Online() bool { return f() }

// State is the orchestrator's run state.
type State int32

const (
	Idle State = iota
	Running
	HaltedOnError
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case HaltedOnError:
		return "halted_on_error"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "running":
		*s = Running
	case "halted_on_error":
		*s = HaltedOnError
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Trigger names what started a run.
type Trigger string

const (
	TriggerConnectivity Trigger = "connectivity"
	TriggerManual       Trigger = "manual"
	TriggerStartup      Trigger = "startup"
	TriggerSubmit       Trigger = "submit"
)

// Result summarises how a run ended.
type Result string

const (
	ResultComplete     Result = "complete"
	ResultEmpty        Result = "empty"
	ResultHalted       Result = "halted"
	ResultOffline      Result = "offline"
	ResultStorageFault Result = "storage_fault"
)

// Report describes one run.
type Report struct {
	RunID      string    `json:"run_id"`
	Trigger    Trigger   `json:"trigger"`
	Result     Result    `json:"result"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Snapshot is the queue length when the run started.
	Snapshot  int `json:"snapshot"`
	Delivered int `json:"delivered"`
	// Remaining counts snapshot items still queued when the run stopped.
	Remaining int `json:"remaining"`
	// HaltID is the submission the run stopped on, if any.
	HaltID      int64            `json:"halt_id,omitempty"`
	HaltOutcome delivery.Outcome `json:"-"`
	// FinalState is HaltedOnError for halted runs and Idle otherwise. The
	// orchestrator itself is always back to Idle once Run returns.
	FinalState State  `json:"final_state"`
	Message    string `json:"message,omitempty"`
	Err        error  `json:"-"`
}

// Halted reports whether the run stopped before exhausting its snapshot.
func (r Report) Halted() bool { return r.Result == ResultHalted || r.Result == ResultStorageFault }

// Deps are the orchestrator's collaborators.
type Deps struct {
	Queue    Queue
	Encoder  Encoder
	Sender   Sender
	Status   Status
	Notifier Notifier
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// Orchestrator drives sync runs. At most one run executes at a time.
type Orchestrator struct {
	queue    Queue
	encoder  Encoder
	sender   Sender
	status   Status
	notifier Notifier
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	running atomic.Bool
	state   atomic.Int32

	// intake serializes Submit so queue order follows submission order.
	intake sync.Mutex

	mu   sync.Mutex
	last *Report
}

// New creates an Orchestrator. Notifier and Logger are optional.
func New(d Deps) *Orchestrator {
	if d.Notifier == nil {
		d.Notifier = NopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Orchestrator{
		queue:    d.Queue,
		encoder:  d.Encoder,
		sender:   d.Sender,
		status:   d.Status,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger.With("component", "syncer"),
	}
}

// State returns the current run state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Busy reports whether a run is in progress.
func (o *Orchestrator) Busy() bool { return o.running.Load() }

// LastReport returns the most recent run report.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	return *o.last, true
}

// OnOnline is the connectivity hook: it starts a run and logs the result.
func (o *Orchestrator) OnOnline(ctx context.Context) {
	if _, err := o.Run(ctx, TriggerConnectivity); err != nil {
		o.logger.Debug("connectivity trigger ignored", "error", err)
	}
}

// Run executes one sync pass over a snapshot of the queue. Items are sent
// strictly in order and the pass stops at the first failure. Failures are
// reported through the Notifier and the returned Report; the only error is
// ErrRunInProgress.
func (o *Orchestrator) Run(ctx context.Context, trigger Trigger) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Info("sync trigger ignored, run in progress", "trigger", trigger)
		return Report{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	rep := Report{RunID: uuid.NewString(), Trigger: trigger, StartedAt: time.Now().UTC()}
	log := o.logger.With("run_id", rep.RunID, "trigger", trigger)

	if !o.status.Online() {
		log.Info("sync skipped while offline")
		rep.Message = MsgOffline
		o.notifier.SyncStatus(MsgOffline)
		return o.finish(ctx, rep, ResultOffline), nil
	}

	o.setState(Running)
	defer o.setState(Idle)

	subs, err := o.queue.GetAll(ctx)
	if err != nil {
		log.Error("reading queue failed", "error", err)
		rep.Err = err
		rep.Message = MsgStorageFault
		rep.FinalState = HaltedOnError
		o.setState(HaltedOnError)
		o.notifier.SyncStatus(MsgStorageFault)
		return o.finish(ctx, rep, ResultStorageFault), nil
	}
	rep.Snapshot = len(subs)
	if len(subs) == 0 {
		return o.finish(ctx, rep, ResultEmpty), nil
	}

	log.Info("sync started", "queued", len(subs))
	o.notifier.SyncStatus(SyncingMessage(len(subs)))

	for i, sub := range subs {
		out := o.attempt(ctx, sub, "sync")
		if !out.OK() {
			rep.HaltID = sub.ID
			rep.HaltOutcome = out
			rep.Remaining = len(subs) - i
			rep.Message = failureMessage(out)
			rep.FinalState = HaltedOnError
			o.setState(HaltedOnError)
			log.Warn("sync halted", "submission_id", sub.ID, "outcome", out.String(), "remaining", rep.Remaining)
			o.notifier.SyncStatus(rep.Message)
			return o.finish(ctx, rep, ResultHalted), nil
		}

		if err := o.queue.Delete(ctx, sub.ID); err != nil {
			// Delivered but still queued; it will be sent again next run.
			rep.HaltID = sub.ID
			rep.Remaining = len(subs) - i
			rep.Err = err
			rep.Message = MsgStorageFault
			rep.FinalState = HaltedOnError
			o.setState(HaltedOnError)
			log.Error("removing delivered submission failed", "submission_id", sub.ID, "error", err)
			o.notifier.SyncStatus(MsgStorageFault)
			return o.finish(ctx, rep, ResultStorageFault), nil
		}
		rep.Delivered++
		log.Debug("submission delivered", "submission_id", sub.ID, "status", out.StatusCode)
		o.notifier.QueueChanged()
	}

	log.Info("sync complete", "delivered", rep.Delivered)
	rep.Message = MsgComplete
	o.notifier.SyncStatus(MsgComplete)
	o.notifier.QueueChanged()
	return o.finish(ctx, rep, ResultComplete), nil
}

// attempt encodes and sends sub once. Encoding failures count as rejections.
func (o *Orchestrator) attempt(ctx context.Context, sub submission.Submission, path string) delivery.Outcome {
	p, err := o.encoder.Encode(sub)
	if err != nil {
		o.logger.Warn("encoding submission failed", "submission_id", sub.ID, "error", err)
		out := delivery.Outcome{Kind: delivery.Rejected, Status: "Invalid payload", Err: err}
		o.metrics.RecordAttempt(ctx, path, out.Kind.String(), 0)
		return out
	}
	start := time.Now()
	out := o.sender.Send(ctx, p)
	o.metrics.RecordAttempt(ctx, path, out.Kind.String(), time.Since(start))
	return out
}

func (o *Orchestrator) finish(ctx context.Context, rep Report, result Result) Report {
	rep.Result = result
	rep.FinishedAt = time.Now().UTC()
	o.metrics.RecordRun(ctx, string(rep.Trigger), string(result))

	o.mu.Lock()
	o.last = &rep
	o.mu.Unlock()
	return rep
}

func (o *Orchestrator) setState(s State) { o.state.Store(int32(s)) }

func failureMessage(out delivery.Outcome) string {
	if out.Kind == delivery.Rejected {
		return RejectedMessage(out.Status)
	}
	return MsgUnreachable
}
