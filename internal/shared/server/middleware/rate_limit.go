package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"studyguide-backend/internal/shared/server/respond"
	"studyguide-backend/internal/shared/telemetry"
)

// Rate limit groups. Polling and streaming get their own budgets so a long
// lived event feed does not starve ordinary requests.
const (
	GroupDefault   = "DEFAULT"
	GroupPolling   = "POLLING"
	GroupStreaming = "STREAMING"
	GroupUpload    = "UPLOAD"
)

// RateLimitRule is a token bucket: Rate tokens per second, Burst capacity.
// A zero Rate or Burst disables limiting for the group.
type RateLimitRule struct {
	Rate  float64
	Burst int
}

func (r RateLimitRule) disabled() bool { return r.Rate <= 0 || r.Burst <= 0 }

type RateLimitConfig struct {
	Rules        map[string]RateLimitRule
	DefaultGroup string
	GroupFor     func(*gin.Context) string
	Limiter      *RateLimiter
}

// idleAfter is how long an untouched bucket survives. A bucket idle that
// long has refilled anyway, so dropping it changes nothing.
const idleAfter = 10 * time.Minute

// RateLimiter holds one bucket per principal and group.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{buckets: make(map[string]*bucket), now: now}
}

// Allow takes a token for key. When none is left it reports how long until
// one will be.
func (l *RateLimiter) Allow(key string, rule RateLimitRule) (bool, time.Duration) {
	if l == nil || rule.disabled() {
		return true, 0
	}
	now := l.now()

	l.mu.Lock()
	l.sweep(now)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(rule.Rate), rule.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	r := b.lim.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// sweep drops idle buckets at most once per idleAfter. Callers hold mu.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleAfter {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if now.Sub(b.seen) >= idleAfter {
			delete(l.buckets, k)
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimit charges each request against the caller's bucket for its route
// group. Callers are keyed by user id, or client IP before auth has run.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(nil)
	}
	if cfg.DefaultGroup == "" {
		cfg.DefaultGroup = GroupDefault
	}
	return func(c *gin.Context) {
		group := cfg.DefaultGroup
		if cfg.GroupFor != nil {
			if g := strings.TrimSpace(cfg.GroupFor(c)); g != "" {
				group = g
			}
		}
		rule, ok := cfg.Rules[group]
		if !ok {
			c.Next()
			return
		}
		principal := strings.TrimSpace(UserIDFromContext(c))
		if principal == "" {
			principal = c.ClientIP()
		}
		allowed, wait := cfg.Limiter.Allow(principal+"|"+group, rule)
		if allowed {
			c.Next()
			return
		}

		waitMs := max(wait.Milliseconds(), 1)
		telemetry.Warn("request.rate_limited", map[string]any{
			"request_id":     RequestIDFromContext(c),
			"user_id":        principal,
			"group":          group,
			"retry_after_ms": waitMs,
		})
		c.Header("Retry-After", strconv.FormatInt((waitMs+999)/1000, 10))
		respond.Error(c, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down.",
			gin.H{"retryAfterMs": waitMs})
	}
}

// RouteGroup maps a request onto its rate limit group. Matching is on the
// route suffix so the API prefix stays configurable.
func RouteGroup(c *gin.Context) string {
	route := c.FullPath()
	method := c.Request.Method
	switch {
	case method == http.MethodGet && strings.HasSuffix(route, "/analyses/:id"):
		return GroupPolling
	case strings.HasSuffix(route, "/events"), strings.HasSuffix(route, "/session/chat"):
		return GroupStreaming
	case method == http.MethodPost && (strings.HasSuffix(route, "/analyses") || strings.HasSuffix(route, "/documents")):
		return GroupUpload
	}
	return GroupDefault
}

// DefaultRules returns the production budgets per group.
func DefaultRules() map[string]RateLimitRule {
	return map[string]RateLimitRule{
		GroupDefault:   {Rate: 5, Burst: 20},
		GroupPolling:   {Rate: 2, Burst: 10},
		GroupStreaming: {Rate: 0.5, Burst: 5},
		GroupUpload:    {Rate: 0.2, Burst: 10},
	}
}
