package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uiprobe/uiprobe/pkg/config"
)

// bucket holds the request timestamps for one key's sliding window.
type bucket struct {
	hits     []time.Time
	lastSeen time.Time
}

// window pairs a limit with its duration.
type window struct {
	scope string
	limit int
	span  time.Duration
}

// RateLimiter enforces sliding-window request limits per user, client IP,
// and target host. A request is counted only when every applicable window
// admits it.
type RateLimiter struct {
	windows map[string]window // scope -> window

	mu      sync.Mutex
	buckets map[string]*bucket // "<scope>:<key>" -> bucket

	now func() time.Time
}

func NewRateLimiter(cfg *config.LimitsConfig) *RateLimiter {
	return &RateLimiter{
		windows: map[string]window{
			"user":   {scope: "user", limit: cfg.UserPerMinute, span: time.Minute},
			"ip":     {scope: "ip", limit: cfg.IPPerHour, span: time.Hour},
			"target": {scope: "target", limit: cfg.TargetPerHour, span: time.Hour},
		},
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks all three windows for the request and records a hit in each
// when admitted. Check-then-record happens under one lock, so concurrent
// requests cannot both pass a window with one slot left.
func (r *RateLimiter) Allow(userID, clientIP, targetHost string) error {
	keys := map[string]string{
		"user":   userID,
		"ip":     clientIP,
		"target": targetHost,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	for scope, key := range keys {
		if key == "" {
			continue
		}
		w := r.windows[scope]
		b := r.bucketLocked(scope, key)
		b.hits = trimWindow(b.hits, now.Add(-w.span))
		if len(b.hits) >= w.limit {
			return &RateLimitError{Scope: scope, Key: key, Limit: w.limit, Window: w.span}
		}
	}

	for scope, key := range keys {
		if key == "" {
			continue
		}
		b := r.bucketLocked(scope, key)
		b.hits = append(b.hits, now)
		b.lastSeen = now
	}
	return nil
}

func (r *RateLimiter) bucketLocked(scope, key string) *bucket {
	id := fmt.Sprintf("%s:%s", scope, key)
	b, ok := r.buckets[id]
	if !ok {
		b = &bucket{}
		r.buckets[id] = b
	}
	return b
}

// trimWindow drops timestamps at or before the cutoff.
func trimWindow(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// StartSweeper periodically drops buckets idle for at least twice their
// window, bounding memory for one-off keys.
func (r *RateLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(r.now())
			}
		}
	}()
}

func (r *RateLimiter) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	maxSpan := time.Duration(0)
	for _, w := range r.windows {
		if w.span > maxSpan {
			maxSpan = w.span
		}
	}
	for id, b := range r.buckets {
		if now.Sub(b.lastSeen) >= 2*maxSpan {
			delete(r.buckets, id)
		}
	}
}
