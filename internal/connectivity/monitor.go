// Package connectivity tracks whether the device can reach the remote
// endpoint and reacts to online/offline transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Listener receives connectivity side effects.
type Listener interface {
	QueueChanged()
	AttachmentCapability(Capability)
}

// Monitor holds the binary online/offline state. Only transitions produce
// side effects; the first observation always counts as one.
type Monitor struct {
	prober   Prober
	policy   Policy
	listener Listener
	onOnline func(ctx context.Context)
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	online bool
	known  bool
}

// NewMonitor creates a Monitor. onOnline runs synchronously on every
// transition to online; it may be nil. If interval is <= 0, it defaults to 5s.
func NewMonitor(prober Prober, policy Policy, listener Listener, onOnline func(ctx context.Context), interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		policy:   policy,
		listener: listener,
		onOnline: onOnline,
		interval: interval,
		logger:   slog.Default().With("component", "connectivity"),
	}
}

// Online reports the last observed state. It is false until the first observation.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Capability returns the attachment capability for the current state.
func (m *Monitor) Capability() Capability {
	return m.policy.Capability(m.Online())
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}

// Check probes once and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	online := m.prober.Probe(ctx)
	if ctx.Err() != nil {
		return m.Online()
	}
	m.Set(ctx, online)
	return online
}

// Set applies an observed state and reports whether it was a transition.
func (m *Monitor) Set(ctx context.Context, online bool) bool {
	m.mu.Lock()
	changed := !m.known || m.online != online
	first := !m.known
	m.online = online
	m.known = true
	m.mu.Unlock()

	if !changed {
		return false
	}
	m.logger.Info("connectivity changed", "online", online, "initial", first)

	if m.listener != nil {
		m.listener.AttachmentCapability(m.policy.Capability(online))
		m.listener.QueueChanged()
	}
	if online && m.onOnline != nil {
		m.onOnline(ctx)
	}
	return true
}
