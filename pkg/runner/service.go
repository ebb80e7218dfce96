package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uiprobe/uiprobe/pkg/admission"
	"github.com/uiprobe/uiprobe/pkg/models"
	"github.com/uiprobe/uiprobe/pkg/safety"
	"github.com/uiprobe/uiprobe/pkg/store"
)

// ErrTargetRejected wraps a target-guard rejection at admission time.
var ErrTargetRejected = errors.New("target rejected")

// SubmitRequest carries everything needed to admit and start a run.
// UserAgent and RequestID come from the HTTP layer and flow into the
// admission audit trail.
type SubmitRequest struct {
	TenantID  string
	ClientIP  string
	TargetURL string
	Goals     []string
	Persona   string
	UserAgent string
	RequestID string
}

// Risk scores graded per admission stage: a guard rejection means a hostile
// or forbidden target, rate and capacity rejections are operational noise,
// and admissions carry a residual baseline.
const (
	riskGuardRejected = 90
	riskRateLimited   = 40
	riskAtCapacity    = 30
	riskAdmitted      = 10
)

// Service is the orchestration front door: it admits runs through the
// safety and capacity pipeline, then executes each admitted run on its own
// goroutine. A cancel registry supports user-initiated aborts.
type Service struct {
	guard    *safety.TargetGuard
	limits   *admission.ConcurrentLimits
	rates    *admission.RateLimiter
	audit    *admission.AuditWriter
	executor *Executor
	runs     store.RunStore
	logger   *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceDeps wires a Service.
type ServiceDeps struct {
	Guard    *safety.TargetGuard
	Limits   *admission.ConcurrentLimits
	Rates    *admission.RateLimiter
	Audit    *admission.AuditWriter
	Executor *Executor
	RunStore store.RunStore
}

func NewService(deps ServiceDeps) *Service {
	return &Service{
		guard:    deps.Guard,
		limits:   deps.Limits,
		rates:    deps.Rates,
		audit:    deps.Audit,
		executor: deps.Executor,
		runs:     deps.RunStore,
		cancels:  make(map[string]context.CancelFunc),
		logger:   slog.Default(),
	}
}

// Submit admits a run and starts it asynchronously. The admission pipeline
// runs in order: target guard, rate limits, concurrency caps. Every
// decision is audited; audit writes never affect the outcome.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*models.TestRun, error) {
	targetHost, err := safety.ApprovedHost(req.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTargetRejected, err)
	}

	if err := s.guard.CheckURL(ctx, req.TargetURL); err != nil {
		s.recordAudit(req, targetHost, models.AuditRejected, err.Error(), riskGuardRejected)
		return nil, fmt.Errorf("%w: %v", ErrTargetRejected, err)
	}

	if err := s.rates.Allow(req.TenantID, req.ClientIP, targetHost); err != nil {
		s.recordAudit(req, targetHost, models.AuditRejected, err.Error(), riskRateLimited)
		return nil, err
	}

	runID := uuid.NewString()
	if err := s.limits.Acquire(runID, req.TenantID); err != nil {
		s.recordAudit(req, targetHost, models.AuditRejected, err.Error(), riskAtCapacity)
		return nil, err
	}

	s.recordAudit(req, targetHost, models.AuditAdmitted, "", riskAdmitted)

	run := &models.TestRun{
		ID:        runID,
		TenantID:  req.TenantID,
		TargetURL: req.TargetURL,
		Goals:     req.Goals,
		Persona:   req.Persona,
		Status:    models.RunStatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.limits.Release(runID)
		return nil, fmt.Errorf("persist pending run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.limits.Release(runID)
		defer func() {
			s.mu.Lock()
			delete(s.cancels, runID)
			s.mu.Unlock()
			cancel()
		}()
		s.executor.Execute(runCtx, run)
	}()

	s.logger.Info("Run admitted", "run_id", runID,
		"tenant_id", req.TenantID, "target", targetHost)
	return run, nil
}

func (s *Service) recordAudit(req SubmitRequest, targetHost, decision, reason string, riskScore int) {
	s.audit.Record(models.AuditEntry{
		UserID:     req.TenantID,
		ClientIP:   req.ClientIP,
		TargetHost: targetHost,
		Decision:   decision,
		Reason:     reason,
		RiskScore:  riskScore,
		UserAgent:  req.UserAgent,
		RequestID:  req.RequestID,
	})
}

// Abort cancels a running run. Returns false when the run is not active.
func (s *Service) Abort(runID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// GetRun returns a run by ID.
func (s *Service) GetRun(ctx context.Context, id string) (*models.TestRun, error) {
	return s.runs.GetRun(ctx, id)
}

// ListRuns returns recent runs for a tenant.
func (s *Service) ListRuns(ctx context.Context, tenantID string, limit int) ([]*models.TestRun, error) {
	return s.runs.ListRuns(ctx, tenantID, limit)
}

// ActiveRuns returns the current in-flight run count.
func (s *Service) ActiveRuns() int { return s.limits.Active() }

// Shutdown cancels all in-flight runs and waits for their executors to
// reach terminal states.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait: %w", ctx.Err())
	}
}
