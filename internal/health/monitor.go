// Package health tracks remote backend availability with a fixed-interval
// probe loop. The last known status gates recording start.
package health

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Abhiraj-ux/neuro-voice/internal/analysis"
)

// Status is the backend's last observed state.
type Status int

const (
	StatusChecking Status = iota
	StatusOnline
	StatusOffline
	StatusModelNotReady
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusModelNotReady:
		return "model_not_ready"
	}
	return "unknown"
}

// Prober is the probe dependency; satisfied by analysis.Client.
type Prober interface {
	Health(ctx context.Context) (*analysis.HealthReport, error)
}

// Snapshot is the monitor's externally visible state.
type Snapshot struct {
	Status      Status    `json:"-"`
	StatusName  string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Monitor polls the backend health endpoint for the life of the process,
// independent of capture state.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	mu      sync.RWMutex
	status  Status
	message string
	checked time.Time
}

// NewMonitor creates a monitor. interval is the poll cadence; timeout
// bounds each individual probe and is much shorter than the interval.
func NewMonitor(p Prober, interval, timeout time.Duration) *Monitor {
	return &Monitor{
		prober:   p,
		interval: interval,
		timeout:  timeout,
		status:   StatusChecking,
	}
}

// Run probes once eagerly, then on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	m.mu.Lock()
	prev := m.status
	m.status = StatusChecking
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	rep, err := m.prober.Health(probeCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checked = time.Now()
	switch {
	case err != nil:
		m.status = StatusOffline
		m.message = err.Error()
	case !rep.ModelReady:
		m.status = StatusModelNotReady
		m.message = rep.Message
	default:
		m.status = StatusOnline
		m.message = rep.Message
	}
	if m.status != prev {
		log.Printf("Backend status: %s -> %s", prev, m.status)
	}
}

// Status returns the last known state synchronously; never blocks on a
// probe in flight.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Snapshot returns the full last-known state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Status:      m.status,
		StatusName:  m.status.String(),
		Message:     m.message,
		LastChecked: m.checked,
	}
}
