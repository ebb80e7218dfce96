// Package store provides persistence for runs, screenshots, and the
// admission audit trail, with Postgres and in-memory implementations.
package store

import (
	"context"
	"errors"

	"github.com/uiprobe/uiprobe/pkg/models"
)

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// RunStore persists test runs. SaveRun is an upsert; executors call it at
// start and again at the terminal state.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.TestRun) error
	GetRun(ctx context.Context, id string) (*models.TestRun, error)
	ListRuns(ctx context.Context, tenantID string, limit int) ([]*models.TestRun, error)
}

// ScreenshotStore persists captured screenshots and returns a stable
// reference for the run log.
type ScreenshotStore interface {
	SaveScreenshot(ctx context.Context, runID, stepID string, data []byte) (string, error)
}

// AuditStore persists admission audit entries.
type AuditStore interface {
	WriteAudit(ctx context.Context, entry *models.AuditEntry) error
}
