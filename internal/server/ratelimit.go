package server

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-client limiter is kept
const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterPool manages per-client rate limiters for pipeline start requests
type limiterPool struct {
	limiters map[string]*clientLimiter
	perMin   int
	burst    int
	logger   *slog.Logger
	now      func() time.Time
	mu       sync.Mutex
}

func newLimiterPool(requestsPerMinute, burst int, logger *slog.Logger) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*clientLimiter),
		perMin:   requestsPerMinute,
		burst:    burst,
		logger:   logger,
		now:      time.Now,
	}
}

// getOrCreate returns the limiter of clientID, creating it on first use.
// Limiters idle for longer than limiterIdleTTL are dropped on the way.
func (p *limiterPool) getOrCreate(clientID string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for id, cl := range p.limiters {
		if id != clientID && now.Sub(cl.lastSeen) > limiterIdleTTL {
			delete(p.limiters, id)
		}
	}

	if cl, exists := p.limiters[clientID]; exists {
		cl.lastSeen = now
		return cl.limiter
	}

	// Convert requests per minute to requests per second
	rps := float64(p.perMin) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), p.burst)
	p.limiters[clientID] = &clientLimiter{limiter: limiter, lastSeen: now}

	p.logger.Debug("Created rate limiter",
		"client", clientID,
		"rpm", p.perMin,
		"rps", rps,
		"burst", p.burst)

	return limiter
}

// allow reports whether clientID may start another phase now. Unlike a
// blocking wait, a refused start spawns nothing and the client retries.
func (p *limiterPool) allow(clientID string) bool {
	return p.getOrCreate(clientID).AllowN(p.now(), 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}
