// Package pending renders the user-visible list of queued reports.
package pending

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/incidentq/internal/submission"
)

// EmptyText is shown when nothing is queued.
const EmptyText = "No pending reports."

// Reader is the read side of the queue.
type Reader interface {
	GetAll(ctx context.Context) ([]submission.Submission, error)
}

// Labeler formats a row label for a submission.
type Labeler interface {
	RowLabel(sub submission.Submission) string
}

// Status reports current connectivity.
type Status interface {
	Online() bool
}

// Row is one queued submission as displayed.
type Row struct {
	ID         int64     `json:"id"`
	Label      string    `json:"label"`
	QueuedAt   time.Time `json:"queued_at"`
	Attachment string    `json:"attachment,omitempty"`
}

// View is a full projection of the queue.
type View struct {
	Rows []Row `json:"rows"`
	// ShowSync is true iff the device is online and at least one report is queued.
	ShowSync bool `json:"show_sync"`
	// Empty holds EmptyText when there are no rows.
	Empty string `json:"empty,omitempty"`
}

// Projector derives the View from the queue on every call. It holds no state.
type Projector struct {
	queue   Reader
	labeler Labeler
	status  Status
}

// NewProjector creates a Projector.
func NewProjector(queue Reader, labeler Labeler, status Status) *Projector {
	return &Projector{queue: queue, labeler: labeler, status: status}
}

// Render reads the queue and builds the view in insertion order.
func (p *Projector) Render(ctx context.Context) (View, error) {
	subs, err := p.queue.GetAll(ctx)
	if err != nil {
		return View{}, fmt.Errorf("reading queue: %w", err)
	}

	v := View{Rows: make([]Row, 0, len(subs))}
	for _, s := range subs {
		row := Row{ID: s.ID, Label: p.labeler.RowLabel(s), QueuedAt: s.CreatedAt}
		if s.Attachment != nil {
			row.Attachment = s.Attachment.Describe()
		}
		v.Rows = append(v.Rows, row)
	}

	if len(v.Rows) == 0 {
		v.Empty = EmptyText
		return v, nil
	}
	v.ShowSync = p.status.Online()
	return v, nil
}

// Lines renders the view as plain text lines.
func (v View) Lines() []string {
	if len(v.Rows) == 0 {
		return []string{v.Empty}
	}
	out := make([]string, len(v.Rows))
	for i, r := range v.Rows {
		out[i] = r.Label
	}
	return out
}
