// Package models defines the core domain types shared across the
// orchestration pipeline: test runs, action steps, snapshots, and the
// reflection verdict variants.
package models

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a TestRun.
type RunStatus string

// Run status constants. Transitions: Pending → Running → (Completed | Failed).
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// FailureKind classifies the terminal failure reason of a run.
type FailureKind string

// Failure kind constants. LimitExceeded is surfaced synchronously to the
// caller at admission time and never appears on a Failed run.
const (
	FailureSecurityRejection FailureKind = "SecurityRejection"
	FailurePlanEmpty         FailureKind = "PlanEmpty"
	FailureIterationCap      FailureKind = "IterationCap"
	FailureTimeout           FailureKind = "Timeout"
	FailureAborted           FailureKind = "Aborted"
	FailureSystemError       FailureKind = "SystemError"
	FailureLimitExceeded     FailureKind = "LimitExceeded"
)

// FailureReason renders the user-visible reason string for a terminal run.
func FailureReason(kind FailureKind, description string) string {
	return fmt.Sprintf("%s: %s", kind, description)
}

// TestRun is a single declarative browser test driven by the Run Executor.
// Created by the caller; mutated only by the owning executor; flushed to
// storage on completion.
type TestRun struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"`
	TargetURL     string         `json:"target_url"`
	Goals         []string       `json:"goals"`
	Persona       string         `json:"persona,omitempty"`
	Status        RunStatus      `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	ExecutedSteps []ExecutedStep `json:"executed_steps,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Fail moves the run to the Failed terminal state with a classified reason.
func (r *TestRun) Fail(kind FailureKind, description string) {
	r.Status = RunStatusFailed
	r.FailureReason = FailureReason(kind, description)
	now := time.Now()
	r.CompletedAt = &now
}

// Complete moves the run to the Completed terminal state.
func (r *TestRun) Complete() {
	r.Status = RunStatusCompleted
	now := time.Now()
	r.CompletedAt = &now
}
