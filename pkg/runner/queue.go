// Package runner executes test runs: the per-run executor lifecycle, the
// step loop, the reflector, and the orchestrating service.
package runner

import (
	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// newStepID mints IDs for steps synthesized at runtime (repair steps,
// auto-dismiss audit entries).
func newStepID() string { return uuid.NewString() }

// ActionQueue is the FIFO of steps still to execute. All pushes return to
// the tail; retried steps wait behind whatever is already queued. Owned by
// a single run goroutine, so no locking.
type ActionQueue struct {
	steps []models.ActionStep
}

func NewActionQueue(steps []models.ActionStep) *ActionQueue {
	q := &ActionQueue{steps: make([]models.ActionStep, len(steps))}
	copy(q.steps, steps)
	return q
}

// Pop removes and returns the head step.
func (q *ActionQueue) Pop() (models.ActionStep, bool) {
	if len(q.steps) == 0 {
		return models.ActionStep{}, false
	}
	head := q.steps[0]
	q.steps = q.steps[1:]
	return head, true
}

// Push appends a step at the tail.
func (q *ActionQueue) Push(step models.ActionStep) {
	q.steps = append(q.steps, step)
}

// PushAll appends steps at the tail, preserving their order.
func (q *ActionQueue) PushAll(steps []models.ActionStep) {
	q.steps = append(q.steps, steps...)
}

// Len returns the number of queued steps.
func (q *ActionQueue) Len() int { return len(q.steps) }

// DoneQueue accumulates executed steps in execution order, auto-dismiss
// audit steps interleaved.
type DoneQueue struct {
	steps []models.ExecutedStep
}

func NewDoneQueue() *DoneQueue { return &DoneQueue{} }

// Push appends an executed step.
func (q *DoneQueue) Push(step models.ExecutedStep) {
	q.steps = append(q.steps, step)
}

// PushAll appends executed steps preserving order.
func (q *DoneQueue) PushAll(steps []models.ExecutedStep) {
	q.steps = append(q.steps, steps...)
}

// Steps returns the accumulated log.
func (q *DoneQueue) Steps() []models.ExecutedStep { return q.steps }

// Len returns the number of executed steps.
func (q *DoneQueue) Len() int { return len(q.steps) }
