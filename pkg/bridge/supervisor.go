package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// contextRetryBackoff spaces acquisition attempts so a crashed subprocess
// has time to come back.
const contextRetryBackoff = 500 * time.Millisecond

// Sleeper abstracts the retry backoff so tests run without real delays.
// Sleep returns early with the context error on cancellation.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Supervisor wraps the Client with the context-acquisition retry protocol.
//
// There is an unavoidable race between IsRunning and CreateContext: the
// subprocess can die in between. The supervisor therefore retries the whole
// sequence (probe → maybe start → create context) with ForceRestart between
// attempts, up to the configured budget.
type Supervisor struct {
	client  *Client
	retries int
	sleeper Sleeper
	logger  *slog.Logger
}

// NewSupervisor creates a supervisor with the given retry budget. A nil
// sleeper falls back to real timer waits.
func NewSupervisor(client *Client, retries int, sleeper Sleeper) *Supervisor {
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	return &Supervisor{client: client, retries: retries, sleeper: sleeper, logger: slog.Default()}
}

// Client exposes the underlying bridge client.
func (s *Supervisor) Client() *Client { return s.client }

// EnsureContext guarantees a fresh clean-room context for the run, starting
// or restarting the subprocess as needed. Fatal after the retry budget is
// exhausted.
func (s *Supervisor) EnsureContext(ctx context.Context, runID string) error {
	var lastErr error
	for attempt := 0; attempt < s.retries; attempt++ {
		if attempt > 0 {
			s.logger.Warn("Retrying browser context acquisition",
				"run_id", runID, "attempt", attempt, "error", lastErr)
			if err := s.client.ForceRestart(ctx); err != nil {
				lastErr = err
				if err := s.sleeper.Sleep(ctx, contextRetryBackoff); err != nil {
					return err
				}
				continue
			}
		}

		if !s.client.IsRunning() {
			if err := s.client.Start(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		if err := s.client.CreateContext(ctx, runID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("browser context acquisition failed after %d attempts: %w", s.retries, lastErr)
}

// ReleaseContext closes the run's context; on failure the subprocess is
// force-restarted so the next run starts clean. Errors never propagate.
func (s *Supervisor) ReleaseContext(ctx context.Context, runID string) {
	if err := s.client.CloseContext(ctx, runID); err != nil {
		s.logger.Warn("Context close failed, force-restarting bridge",
			"run_id", runID, "error", err)
		if err := s.client.ForceRestart(ctx); err != nil {
			s.logger.Error("Bridge force restart failed during cleanup",
				"run_id", runID, "error", err)
		}
	}
}
