package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Exceeded bool
	Role     string
	Current  int
	Limit    int
	Reason   string
}

// Limiter counts appends per author role in fixed windows. Roles falling
// back to the wildcard limit are still counted separately. A nil Limiter
// allows everything.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	start time.Time
	count int
}

// New returns a Limiter for cfg, or nil when cfg sets no limits.
func New(cfg Config) *Limiter {
	if !cfg.HasLimits() {
		return nil
	}
	cp := make(Config, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return &Limiter{cfg: cp, now: time.Now, windows: make(map[string]*window)}
}

// Allow records one append by role and reports whether it exceeds the limit.
// Rejected calls are not counted.
func (l *Limiter) Allow(role string) Result {
	if l == nil {
		return Result{}
	}
	limit := l.cfg.lookup(role)
	if !limit.active() {
		return Result{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[role]
	if w == nil || now.Sub(w.start) >= limit.Window {
		w = &window{start: now}
		l.windows[role] = w
	}
	if w.count >= limit.MaxRequests {
		return Result{
			Exceeded: true,
			Role:     role,
			Current:  w.count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded for role %q: %d/%d appends in %s window",
				role, w.count, limit.MaxRequests, limit.Window),
		}
	}
	w.count++
	return Result{}
}
