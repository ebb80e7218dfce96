package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, RunStatusPending.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
}

func TestTestRun_Fail(t *testing.T) {
	run := &TestRun{ID: "r1", Status: RunStatusRunning}
	run.Fail(FailureTimeout, "wall-clock budget of 30m0s exhausted")

	assert.Equal(t, RunStatusFailed, run.Status)
	assert.Equal(t, "Timeout: wall-clock budget of 30m0s exhausted", run.FailureReason)
	require.NotNil(t, run.CompletedAt)
}

func TestTestRun_Complete(t *testing.T) {
	run := &TestRun{ID: "r1", Status: RunStatusRunning}
	run.Complete()

	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Empty(t, run.FailureReason)
	require.NotNil(t, run.CompletedAt)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "SecurityRejection: host resolves to a private range",
		FailureReason(FailureSecurityRejection, "host resolves to a private range"))
}

func TestActionStep_SelectorCopies(t *testing.T) {
	s := ActionStep{ID: "s1", Action: ActionClick, Target: "buy", Selector: "#old"}

	with := s.WithSelector("#new")
	assert.Equal(t, "#new", with.Selector)
	assert.Equal(t, "s1", with.ID)
	assert.Equal(t, "#old", s.Selector)

	without := with.WithoutSelector()
	assert.Empty(t, without.Selector)
	assert.Equal(t, "s1", without.ID)
}

func TestDomSnapshot_Changed(t *testing.T) {
	a := &DomSnapshot{Content: "button \"Buy\""}
	same := &DomSnapshot{Content: "button \"Buy\"", URL: "https://other.example.com"}
	diff := &DomSnapshot{Content: "dialog \"Cookies\""}

	assert.False(t, a.Changed(same))
	assert.True(t, a.Changed(diff))
	assert.True(t, a.Changed(nil))
	assert.True(t, (*DomSnapshot)(nil).Changed(a))
}
