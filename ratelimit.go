package invoxy

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter store defaults. Entries idle past the staleness window are swept;
// once the capacity ceiling is hit the least-recently-used entry is evicted.
const (
	defaultLimiterCapacity  = 1024
	defaultLimiterStale     = 10 * time.Minute
	defaultLimiterSweepTick = time.Minute
)

// limiterStore keeps one token bucket per rate-limited tool. The check and the
// token spend happen under one lock so two concurrent calls can never both
// pass admission on the same remaining budget. The sweep piggybacks on
// traffic instead of running a background goroutine, so the store has no
// lifecycle of its own.
type limiterStore struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	capacity  int
	stale     time.Duration
	sweepTick time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(capacity int, stale time.Duration) *limiterStore {
	if capacity <= 0 {
		capacity = defaultLimiterCapacity
	}
	if stale <= 0 {
		stale = defaultLimiterStale
	}
	return &limiterStore{
		entries:   make(map[string]*limiterEntry),
		capacity:  capacity,
		stale:     stale,
		sweepTick: defaultLimiterSweepTick,
		now:       time.Now,
	}
}

// allow admits or rejects one call for tool under the given policy. The bucket
// holds burst+1 tokens: one for the steady rate plus the declared burst
// allowance, so {1 cps, burst 0} admits exactly one call per second.
func (s *limiterStore) allow(tool string, p *RateLimitPolicy) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Sub(s.lastSweep) >= s.sweepTick {
		s.sweepLocked(now)
	}
	e, ok := s.entries[tool]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(rate.Limit(p.MaxCallsPerSecond), p.BurstAllowance+1)}
		s.entries[tool] = e
		e.lastSeen = now
		s.evictLocked()
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// sweepLocked drops entries that have seen no traffic past the staleness
// window.
func (s *limiterStore) sweepLocked(now time.Time) {
	s.lastSweep = now
	for tool, e := range s.entries {
		if now.Sub(e.lastSeen) > s.stale {
			delete(s.entries, tool)
		}
	}
}

// evictLocked enforces the capacity ceiling by dropping least-recently-used
// entries.
func (s *limiterStore) evictLocked() {
	for len(s.entries) > s.capacity {
		var oldest string
		var oldestSeen time.Time
		first := true
		for tool, e := range s.entries {
			if first || e.lastSeen.Before(oldestSeen) {
				oldest = tool
				oldestSeen = e.lastSeen
				first = false
			}
		}
		delete(s.entries, oldest)
	}
}

// size reports the number of live entries; used by tests and metrics.
func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
