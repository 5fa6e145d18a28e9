package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a process-local limiter backed by a map of rolling
// windows. Suitable for single-node deployments and tests; use the
// Redis limiter when multiple instances share one budget.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

func NewMemoryLimiter() *MemoryLimiter {
	ml := &MemoryLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
		done:    make(chan struct{}),
	}

	// Janitor drops expired windows so idle keys do not accumulate.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ml.done:
				return
			case <-ticker.C:
				ml.cleanup()
			}
		}
	}()

	return ml
}

func (ml *MemoryLimiter) Check(_ context.Context, key string, limit int, windowDur time.Duration) (Decision, error) {
	now := ml.now()

	ml.mu.Lock()
	defer ml.mu.Unlock()

	w, ok := ml.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(windowDur)}
		ml.windows[key] = w
	}

	w.count++
	return decisionFor(w.count, limit, w.resetAt.Sub(now)), nil
}

func (ml *MemoryLimiter) Peek(_ context.Context, key string, limit int, _ time.Duration) (Decision, error) {
	now := ml.now()

	ml.mu.Lock()
	defer ml.mu.Unlock()

	w, ok := ml.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	d := decisionFor(w.count, limit, w.resetAt.Sub(now))
	// Peek asks whether the next request would pass, not whether the
	// last one did.
	d.Allowed = w.count < limit
	return d, nil
}

func (ml *MemoryLimiter) Close() {
	ml.once.Do(func() { close(ml.done) })
}

func (ml *MemoryLimiter) cleanup() {
	now := ml.now()
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for key, w := range ml.windows {
		if !now.Before(w.resetAt) {
			delete(ml.windows, key)
		}
	}
}

func decisionFor(count, limit int, resetIn time.Duration) Decision {
	if resetIn < 0 {
		resetIn = 0
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}
