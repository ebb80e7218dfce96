package runner

import (
	"context"
	"time"

	"github.com/uiprobe/uiprobe/pkg/obstacle"
)

// CtxSleeper is the production Sleeper: a real timer that aborts early on
// context cancellation.
type CtxSleeper struct{}

var _ obstacle.Sleeper = CtxSleeper{}

func (CtxSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
