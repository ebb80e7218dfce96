package admission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// slot records an admitted run for stale-entry sweeping.
type slot struct {
	userID   string
	admitted time.Time
}

// ConcurrentLimits tracks in-flight runs against the global and per-user
// caps. Acquire checks and reserves both under one lock, so a run can never
// hold a user slot without a global slot or vice versa.
type ConcurrentLimits struct {
	cfg    *config.LimitsConfig
	logger *slog.Logger

	mu      sync.Mutex
	global  map[string]slot // run ID -> slot
	perUser map[string]int  // user ID -> active count
}

func NewConcurrentLimits(cfg *config.LimitsConfig) *ConcurrentLimits {
	return &ConcurrentLimits{
		cfg:     cfg,
		logger:  slog.Default(),
		global:  make(map[string]slot),
		perUser: make(map[string]int),
	}
}

// Acquire reserves a run slot. Both caps are evaluated before either
// reservation happens; on rejection no state changes.
func (c *ConcurrentLimits) Acquire(runID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.global) >= c.cfg.MaxGlobal {
		return ErrGlobalLimitExceeded
	}
	if c.perUser[userID] >= c.cfg.MaxPerUser {
		return ErrUserLimitExceeded
	}

	c.global[runID] = slot{userID: userID, admitted: time.Now()}
	c.perUser[userID]++
	return nil
}

// Release frees a run's slot. Safe to call for unknown or already-released
// IDs; the executor's deferred cleanup may race the sweeper.
func (c *ConcurrentLimits) Release(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked(runID)
}

func (c *ConcurrentLimits) releaseLocked(runID string) {
	s, ok := c.global[runID]
	if !ok {
		return
	}
	delete(c.global, runID)
	if c.perUser[s.userID] <= 1 {
		delete(c.perUser, s.userID)
	} else {
		c.perUser[s.userID]--
	}
}

// Active returns the current global slot count.
func (c *ConcurrentLimits) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.global)
}

// ActiveForUser returns the user's current slot count.
func (c *ConcurrentLimits) ActiveForUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perUser[userID]
}

// StartSweeper runs the stale-slot sweep on the configured interval until
// ctx is cancelled. Slots older than StaleAfter belong to runs whose
// cleanup never fired (process-level bugs, lost goroutines); sweeping them
// keeps a leak from permanently consuming capacity.
func (c *ConcurrentLimits) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *ConcurrentLimits) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for runID, s := range c.global {
		if now.Sub(s.admitted) > c.cfg.StaleAfter {
			c.logger.Warn("Sweeping stale run slot",
				"run_id", runID, "user_id", s.userID, "age", now.Sub(s.admitted))
			c.releaseLocked(runID)
		}
	}
}
