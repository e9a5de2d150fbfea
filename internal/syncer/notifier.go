package syncer

import (
	"log/slog"

	"github.com/kalambet/incidentq/internal/connectivity"
)

// Notifier is the outbound UI collaborator contract.
type Notifier interface {
	// QueueChanged is called after every queue mutation and connectivity transition.
	QueueChanged()
	// SyncStatus carries progress and result text for the user.
	SyncStatus(msg string)
	// AttachmentCapability toggles the attachment input.
	AttachmentCapability(connectivity.Capability)
}

// NopNotifier ignores every notification.
type NopNotifier struct{}

func (NopNotifier) QueueChanged()                                {}
func (NopNotifier) SyncStatus(string)                            {}
func (NopNotifier) AttachmentCapability(connectivity.Capability) {}

// MultiNotifier fans notifications out in order.
type MultiNotifier []Notifier

func (m MultiNotifier) QueueChanged() {
	for _, n := range m {
		n.QueueChanged()
	}
}

func (m MultiNotifier) SyncStatus(msg string) {
	for _, n := range m {
		n.SyncStatus(msg)
	}
}

func (m MultiNotifier) AttachmentCapability(c connectivity.Capability) {
	for _, n := range m {
		n.AttachmentCapability(c)
	}
}

// LogNotifier writes status text and capability changes to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (LogNotifier) QueueChanged() {}

func (n LogNotifier) SyncStatus(msg string) {
	n.Logger.Info("sync status", "message", msg)
}

func (n LogNotifier) AttachmentCapability(c connectivity.Capability) {
	n.Logger.Info("attachment capability", "enabled", c.Enabled, "note", c.Note)
}
