// Package events delivers run lifecycle notifications to in-process
// subscribers. Delivery is non-blocking: a slow subscriber drops events
// rather than stalling the publishing run goroutine.
package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// Event types.
const (
	EventTypeRunCompleted = "run.completed"
	EventTypeRunFailed    = "run.failed"
)

// RunEvent is the payload delivered to subscribers.
type RunEvent struct {
	Type          string    `json:"type"`
	RunID         string    `json:"run_id"`
	TenantID      string    `json:"tenant_id"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	StepCount     int       `json:"step_count"`
}

// Publisher is the executor-facing side of event delivery.
type Publisher interface {
	PublishRunCompleted(run *models.TestRun)
}

// subscriberBuffer bounds each subscriber's queue.
const subscriberBuffer = 64

// Manager fans events out to subscribers. One instance per process.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]chan RunEvent
	logger      *slog.Logger
}

var _ Publisher = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{
		subscribers: make(map[string]chan RunEvent),
		logger:      slog.Default(),
	}
}

// Subscribe registers a listener. The returned cancel func must be called
// to release the subscription; the channel is closed on cancel.
func (m *Manager) Subscribe() (<-chan RunEvent, func()) {
	id := uuid.NewString()
	ch := make(chan RunEvent, subscriberBuffer)

	m.mu.Lock()
	m.subscribers[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// PublishRunCompleted broadcasts a run's terminal state.
func (m *Manager) PublishRunCompleted(run *models.TestRun) {
	eventType := EventTypeRunCompleted
	if run.Status == models.RunStatusFailed {
		eventType = EventTypeRunFailed
	}
	event := RunEvent{
		Type:          eventType,
		RunID:         run.ID,
		TenantID:      run.TenantID,
		Status:        string(run.Status),
		FailureReason: run.FailureReason,
		StepCount:     len(run.ExecutedSteps),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
			m.logger.Warn("Dropping event for slow subscriber",
				"subscriber", id, "run_id", run.ID, "type", eventType)
		}
	}
}
