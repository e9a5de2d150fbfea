package api

import (
	"sync"
	"time"

	"github.com/kalambet/incidentq/internal/connectivity"
)

const defaultBoardSize = 20

// StatusMessage is one sync status line.
type StatusMessage struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

// BoardSnapshot is a copy of the board's state.
type BoardSnapshot struct {
	Messages     []StatusMessage         `json:"messages"`
	Attachments  connectivity.Capability `json:"attachments"`
	QueueChanges uint64                  `json:"queue_changes"`
}

// StatusBoard collects UI notifications for clients that poll /status. It
// keeps the most recent status messages only.
type StatusBoard struct {
	mu           sync.Mutex
	max          int
	messages     []StatusMessage
	capability   connectivity.Capability
	queueChanges uint64
	now          func() time.Time
}

// NewStatusBoard creates a board holding up to size messages. If size is <= 0,
// it defaults to 20.
func NewStatusBoard(size int) *StatusBoard {
	if size <= 0 {
		size = defaultBoardSize
	}
	return &StatusBoard{max: size, now: time.Now}
}

func (b *StatusBoard) QueueChanged() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueChanges++
}

func (b *StatusBoard) SyncStatus(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, StatusMessage{At: b.now().UTC(), Text: msg})
	if over := len(b.messages) - b.max; over > 0 {
		b.messages = append([]StatusMessage(nil), b.messages[over:]...)
	}
}

func (b *StatusBoard) AttachmentCapability(c connectivity.Capability) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capability = c
}

// Snapshot returns a copy of the current state.
func (b *StatusBoard) Snapshot() BoardSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BoardSnapshot{
		Messages:     append([]StatusMessage{}, b.messages...),
		Attachments:  b.capability,
		QueueChanges: b.queueChanges,
	}
}

// Latest returns the most recent status message, if any.
func (b *StatusBoard) Latest() (StatusMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return StatusMessage{}, false
	}
	return b.messages[len(b.messages)-1], true
}
