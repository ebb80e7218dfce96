package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiprobe/uiprobe/pkg/models"
)

func completedRun() *models.TestRun {
	return &models.TestRun{
		ID:       "run1",
		TenantID: "t1",
		Status:   models.RunStatusCompleted,
		ExecutedSteps: []models.ExecutedStep{
			{Step: models.ActionStep{ID: "s1", Action: models.ActionNavigate}},
			{Step: models.ActionStep{ID: "s2", Action: models.ActionClick}},
		},
	}
}

func TestPublishRunCompleted(t *testing.T) {
	m := NewManager()
	ch, cancel := m.Subscribe()
	defer cancel()

	m.PublishRunCompleted(completedRun())

	event := <-ch
	assert.Equal(t, EventTypeRunCompleted, event.Type)
	assert.Equal(t, "run1", event.RunID)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, 2, event.StepCount)
}

func TestPublishFailedRun(t *testing.T) {
	m := NewManager()
	ch, cancel := m.Subscribe()
	defer cancel()

	run := completedRun()
	run.Fail(models.FailureTimeout, "budget exhausted")
	m.PublishRunCompleted(run)

	event := <-ch
	assert.Equal(t, EventTypeRunFailed, event.Type)
	assert.Contains(t, event.FailureReason, "Timeout")
}

func TestPublish_FansOutToAllSubscribers(t *testing.T) {
	m := NewManager()
	a, cancelA := m.Subscribe()
	defer cancelA()
	b, cancelB := m.Subscribe()
	defer cancelB()

	m.PublishRunCompleted(completedRun())
	assert.Equal(t, "run1", (<-a).RunID)
	assert.Equal(t, "run1", (<-b).RunID)
}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	_, cancel := m.Subscribe()
	defer cancel()

	// Overrun the buffer without draining; publishing must not stall.
	run := completedRun()
	for i := 0; i < subscriberBuffer+10; i++ {
		m.PublishRunCompleted(run)
	}
}

func TestCancel_ClosesChannelAndStopsDelivery(t *testing.T) {
	m := NewManager()
	ch, cancel := m.Subscribe()

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is safe, and cancelled subscribers get nothing.
	cancel()
	m.PublishRunCompleted(completedRun())
}

func TestSubscribe_NoEventsBeforePublish(t *testing.T) {
	m := NewManager()
	ch, cancel := m.Subscribe()
	defer cancel()

	select {
	case e := <-ch:
		require.Failf(t, "unexpected event", "%+v", e)
	default:
	}
}
