package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uiprobe/uiprobe/pkg/models"
)

func step(id string, action models.Action) models.ActionStep {
	return models.ActionStep{ID: id, Action: action}
}

func TestActionQueue_FIFO(t *testing.T) {
	q := NewActionQueue([]models.ActionStep{
		step("a", models.ActionNavigate),
		step("b", models.ActionClick),
		step("c", models.ActionScreenshot),
	})
	require.Equal(t, 3, q.Len())

	var order []string
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, s.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Zero(t, q.Len())
}

func TestActionQueue_PushAppendsAtTail(t *testing.T) {
	q := NewActionQueue([]models.ActionStep{step("a", models.ActionClick)})
	q.Push(step("retry", models.ActionClick))

	s, ok := q.Pop()
	require.True(t, ok)
	// The step already queued keeps its place; the retry waits behind it.
	assert.Equal(t, "a", s.ID)
	s, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "retry", s.ID)
}

func TestActionQueue_PushAllAppendsAtTail(t *testing.T) {
	q := NewActionQueue([]models.ActionStep{step("next", models.ActionClick)})
	q.PushAll([]models.ActionStep{
		step("repair1", models.ActionWait),
		step("repair2", models.ActionClick),
	})
	q.Push(step("retried", models.ActionClick))

	var order []string
	for {
		s, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, s.ID)
	}
	// Repair steps and the retried step all queue behind existing work,
	// repairs ahead of the retry.
	assert.Equal(t, []string{"next", "repair1", "repair2", "retried"}, order)
}

func TestActionQueue_PushAllEmpty(t *testing.T) {
	q := NewActionQueue([]models.ActionStep{step("a", models.ActionClick)})
	q.PushAll(nil)
	assert.Equal(t, 1, q.Len())
}

func TestActionQueue_CopiesInput(t *testing.T) {
	steps := []models.ActionStep{step("a", models.ActionClick)}
	q := NewActionQueue(steps)
	steps[0].ID = "mutated"

	s, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", s.ID)
}

func TestDoneQueue_PreservesOrder(t *testing.T) {
	q := NewDoneQueue()
	q.Push(models.ExecutedStep{Step: step("a", models.ActionNavigate)})
	q.PushAll([]models.ExecutedStep{
		{Step: step("dismiss", models.ActionAutoDismiss)},
		{Step: step("b", models.ActionClick)},
	})

	steps := q.Steps()
	require.Len(t, steps, 3)
	assert.Equal(t, "a", steps[0].Step.ID)
	assert.Equal(t, "dismiss", steps[1].Step.ID)
	assert.Equal(t, "b", steps[2].Step.ID)
	assert.Equal(t, 3, q.Len())
}
