package auth

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	"golang.org/x/time/rate"
)

// ClientIPLocalsKey holds the peer address set by FiberClientIP
const ClientIPLocalsKey = "learnauth.client_ip"

const (
	limiterIdleTTL       = 5 * time.Minute
	limiterSweepInterval = 3 * time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client IP
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rate      rate.Limit
	burst     int
	name      string
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows perSecond requests per IP with the given burst.
// name labels the rejection metric.
func NewRateLimiter(name string, perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		name:     name,
		now:      time.Now,
	}
}

// WithClock sets the time source, used in tests
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

// Allow reports whether ip may make a request now. When it may not, the
// returned duration is how long until it can.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	now := rl.now()
	limiter := rl.getLimiter(ip, now)

	res := limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}

	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) getLimiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) > limiterSweepInterval {
		for key, l := range rl.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	if l, ok := rl.limiters[ip]; ok {
		l.lastSeen = now
		return l.limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// Middleware rejects requests over the limit with 429 and Retry-After
func (rl *RateLimiter) Middleware() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ok, wait := rl.Allow(ClientIP(ctx))
			if ok {
				return hf(ctx)
			}

			rateLimited.WithLabelValues(rl.name).Inc()

			retryAfter := int(math.Ceil(wait.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}

			ctx.SetHeader("Retry-After", strconv.Itoa(retryAfter))
			return ctx.JSON(http.StatusTooManyRequests, router.ViewContext{
				"success": false,
				"error":   "rate limit exceeded",
			})
		}
	}
}

// FiberClientIP copies the fiber peer address into the request locals so
// router handlers can read it through ClientIP.
func FiberClientIP() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(ClientIPLocalsKey, c.IP())
		return c.Next()
	}
}

// ClientIP returns the address stored by FiberClientIP. Without it, the
// first X-Forwarded-For entry or X-Real-IP is used.
func ClientIP(ctx router.Context) string {
	if ip, ok := ctx.Locals(ClientIPLocalsKey).(string); ok && ip != "" {
		return ip
	}
	if fwd := ctx.Header("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(ctx.Header("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}
