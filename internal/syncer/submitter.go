package syncer

import (
	"context"
	"fmt"

	"github.com/kalambet/incidentq/internal/submission"
)

// Disposition says where a new submission ended up.
type Disposition string

const (
	// Sent means the direct attempt was delivered; nothing was queued.
	Sent Disposition = "sent"
	// Queued means the submission is in the durable queue.
	Queued Disposition = "queued"
)

// Receipt is the result of Submit.
type Receipt struct {
	Disposition Disposition `json:"disposition"`
	// ID is the queue id when Disposition is Queued.
	ID int64 `json:"id,omitempty"`
	// Reason explains why the submission was queued.
	Reason string `json:"reason,omitempty"`
	// Sync is the run triggered after queueing behind older items.
	Sync *Report `json:"sync,omitempty"`
}

// Submitter implements the form-submit path: send directly when possible,
// otherwise fall back to the queue.
type Submitter struct {
	o *Orchestrator
}

// NewSubmitter creates a Submitter sharing o's collaborators and run guard.
func NewSubmitter(o *Orchestrator) *Submitter {
	return &Submitter{o: o}
}

// Submit accepts a new submission. A direct send is attempted only when the
// device is online, nothing older is waiting and no run is active, so remote
// ordering matches submission order. Any other case queues the submission;
// when older items are waiting and the device is online a sync run follows
// immediately. The only errors come from the queue, in which case the
// submission was not saved.
func (s *Submitter) Submit(ctx context.Context, sub submission.Submission) (Receipt, error) {
	o := s.o
	online := o.status.Online()

	rec, err := s.place(ctx, sub, online)
	if err != nil || rec.Disposition == Sent {
		return rec, err
	}
	if online && rec.Reason == reasonBacklog {
		// A run already in progress took its snapshot before this Add; the
		// next trigger picks the submission up.
		if rep, err := o.Run(ctx, TriggerSubmit); err == nil {
			rec.Sync = &rep
		}
	}
	return rec, nil
}

const reasonBacklog = "older reports are waiting"

// place sends sub directly or adds it to the queue. Calls are serialized on
// the intake lock, and the direct send holds the run guard until a failed
// submission is queued, so it never overlaps a run or another direct send.
func (s *Submitter) place(ctx context.Context, sub submission.Submission, online bool) (Receipt, error) {
	o := s.o
	o.intake.Lock()
	defer o.intake.Unlock()

	reason := "offline"
	if online {
		reason = reasonBacklog
		n, err := o.queue.Count(ctx)
		if err == nil && n == 0 && o.running.CompareAndSwap(false, true) {
			out := o.attempt(ctx, sub, "direct")
			if out.OK() {
				o.running.Store(false)
				o.logger.Info("submission sent directly", "status", out.StatusCode)
				return Receipt{Disposition: Sent}, nil
			}
			defer o.running.Store(false)
			o.logger.Warn("direct send failed, queueing", "outcome", out.String())
			reason = out.String()
		}
	}

	id, err := o.queue.Add(ctx, sub)
	if err != nil {
		o.logger.Error("queueing submission failed", "error", err)
		return Receipt{}, fmt.Errorf("saving submission: %w", err)
	}
	o.metrics.RecordEnqueued(ctx)
	o.notifier.QueueChanged()
	o.logger.Info("submission queued", "submission_id", id, "reason", reason)
	return Receipt{Disposition: Queued, ID: id, Reason: reason}, nil
}

// Delivered reports whether sub reached the endpoint during Submit, either
// directly or through the follow-up run.
func (r Receipt) Delivered() bool {
	if r.Disposition == Sent {
		return true
	}
	return r.Sync != nil && r.Sync.Result == ResultComplete
}
