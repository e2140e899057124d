package workflow

import (
	"context"

	"slidereel/internal/jobs"
	"slidereel/internal/stage"
)

// StatusSummary is a point-in-time snapshot of the workflow manager.
// Breakers maps each stage to its circuit breaker state (closed, half-open,
// open).
type StatusSummary struct {
	Running     bool
	LastError   string
	Queue       jobs.HealthSummary
	StageHealth map[jobs.Stage]stage.Health
	Breakers    map[jobs.Stage]string
}

// Status reports manager state, queue counts, per-stage readiness, and
// breaker states.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:     m.running,
		StageHealth: make(map[jobs.Stage]stage.Health, len(m.handlers)),
		Breakers:    make(map[jobs.Stage]string, len(m.breakers)),
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	handlers := make(map[jobs.Stage]stage.Handler, len(m.handlers))
	for stg, handler := range m.handlers {
		handlers[stg] = handler
	}
	m.mu.RUnlock()

	if queue, err := m.store.Health(ctx); err == nil {
		summary.Queue = queue
	}
	for stg, handler := range handlers {
		summary.StageHealth[stg] = handler.HealthCheck(ctx)
	}
	for stg, breaker := range m.breakers {
		summary.Breakers[stg] = breaker.State().String()
	}
	return summary
}
