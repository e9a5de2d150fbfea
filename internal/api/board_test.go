package api

import (
	"fmt"
	"testing"

	"github.com/kalambet/incidentq/internal/connectivity"
)

func TestStatusBoard_KeepsRecentMessages(t *testing.T) {
	b := NewStatusBoard(3)
	for i := 1; i <= 5; i++ {
		b.SyncStatus(fmt.Sprintf("msg %d", i))
	}

	snap := b.Snapshot()
	if len(snap.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(snap.Messages))
	}
	if snap.Messages[0].Text != "msg 3" || snap.Messages[2].Text != "msg 5" {
		t.Errorf("unexpected messages: %+v", snap.Messages)
	}

	latest, ok := b.Latest()
	if !ok || latest.Text != "msg 5" {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestStatusBoard_Empty(t *testing.T) {
	b := NewStatusBoard(0)
	if _, ok := b.Latest(); ok {
		t.Error("Latest() on empty board should report false")
	}
	if snap := b.Snapshot(); snap.Messages == nil || len(snap.Messages) != 0 {
		t.Errorf("expected empty non-nil messages, got %#v", snap.Messages)
	}
}

func TestStatusBoard_CapabilityAndQueueChanges(t *testing.T) {
	b := NewStatusBoard(0)
	b.AttachmentCapability(connectivity.PolicyDisable.Capability(false))
	b.QueueChanged()
	b.QueueChanged()

	snap := b.Snapshot()
	if snap.Attachments.Enabled || snap.Attachments.Note != connectivity.NoteOfflineDisabled {
		t.Errorf("unexpected capability: %+v", snap.Attachments)
	}
	if snap.QueueChanges != 2 {
		t.Errorf("QueueChanges = %d, want 2", snap.QueueChanges)
	}
}

func TestStatusBoard_SnapshotIsCopy(t *testing.T) {
	b := NewStatusBoard(0)
	b.SyncStatus("first")
	snap := b.Snapshot()
	snap.Messages[0].Text = "changed"

	if latest, _ := b.Latest(); latest.Text != "first" {
		t.Errorf("snapshot aliased board state: %q", latest.Text)
	}
}
