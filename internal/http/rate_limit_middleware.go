package httpx

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	rateLimiterSweepInterval = 5 * time.Minute
	rateWindowDefault        = time.Minute
	rateWindowRealtime       = 30 * time.Second

	defaultEventWriteLimit = 30
	defaultFormWriteLimit  = 120
	defaultReadLimit       = 240
	defaultStreamLimit     = 30
	defaultAdminLimit      = 6
)

// RouteLimits sets how many requests one client may make per window to each route group.
// Zero selects the default; a negative value turns limiting off for the group.
type RouteLimits struct {
	EventWrite int
	FormWrite  int
	Read       int
	Stream     int
	Admin      int
}

type routeLimit struct {
	limit  int
	window time.Duration
}

type rateLimits struct {
	eventWrite routeLimit
	formWrite  routeLimit
	read       routeLimit
	stream     routeLimit
	admin      routeLimit
}

func newRateLimits(cfg RouteLimits) rateLimits {
	pick := func(configured, fallback int, window time.Duration) routeLimit {
		if configured == 0 {
			configured = fallback
		}
		return routeLimit{limit: configured, window: window}
	}
	return rateLimits{
		eventWrite: pick(cfg.EventWrite, defaultEventWriteLimit, rateWindowDefault),
		formWrite:  pick(cfg.FormWrite, defaultFormWriteLimit, rateWindowDefault),
		read:       pick(cfg.Read, defaultReadLimit, rateWindowDefault),
		stream:     pick(cfg.Stream, defaultStreamLimit, rateWindowRealtime),
		admin:      pick(cfg.Admin, defaultAdminLimit, rateWindowDefault),
	}
}

// RateLimiter counts requests per key within fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateState
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

type rateState struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateLimiter returns a process local limiter.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		entries: make(map[string]rateState),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.sweepLoop()
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || now.After(state.windowEnd) {
		state = rateState{count: 1, windowEnd: now.Add(window)}
		rl.entries[key] = state
		return rateDecision{allowed: true, count: state.count, windowEnd: state.windowEnd}
	}
	if state.count >= limit {
		return rateDecision{allowed: false, count: state.count, windowEnd: state.windowEnd}
	}
	state.count++
	rl.entries[key] = state
	return rateDecision{allowed: true, count: state.count, windowEnd: state.windowEnd}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if now.After(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
}

func (r *Router) withRateLimit(route string, rl routeLimit, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rl.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		key := r.rateLimitKey(req)
		decision := r.limiter.Allow(route+"|"+key, rl.limit, rl.window)
		r.applyRateHeaders(w, rl.limit, decision)
		if !decision.allowed {
			r.recordRateLimitHit(route, rateMetricKey(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", codeRateLimited)
			return
		}
		next(w, req)
	}
}

// rateLimitKey identifies the caller by address. Forwarded headers only count when the socket
// peer is a trusted proxy.
func (r *Router) rateLimitKey(req *http.Request) string {
	host := r.clientIP(req)
	if host == "" {
		host = "unknown"
	}
	return "ip:" + host
}

func rateMetricKey(key string) string {
	if key == "" {
		return "unknown"
	}
	if idx := strings.IndexRune(key, ':'); idx > 0 {
		return key[:idx]
	}
	return key
}
