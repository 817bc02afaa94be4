package api

import (
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const (
	limiterBurst = 5
	limiterIdle  = 10 * time.Minute
)

// userLimiter applies a token bucket per key.
type userLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	lastSweep time.Time
	disabled  bool
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newUserLimiter(perMin int) *userLimiter {
	return &userLimiter{
		limiters:  make(map[string]*limiterEntry),
		limit:     rate.Limit(float64(perMin) / 60.0),
		lastSweep: time.Now(),
		disabled:  perMin == 0,
	}
}

func (l *userLimiter) allow(key string) bool {
	if l.disabled {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdle {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdle {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, limiterBurst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// handler limits every request by key.
func (l *userLimiter) handler(key func(*fiber.Ctx) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !l.allow(key(c)) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": "Request was throttled."})
		}
		return c.Next()
	}
}

// writes limits requests that are not reads.
func (l *userLimiter) writes(key func(*fiber.Ctx) string) fiber.Handler {
	limited := l.handler(key)
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		return limited(c)
	}
}

// visitorKey identifies an anonymous client by address.
func visitorKey(c *fiber.Ctx) string {
	ip := c.IP()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}
