// middleware/rate_limiter.go
package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/HSouheill/barrim_referral/models"
)

type endpointLimit struct {
	limit rate.Limit
	burst int
}

// RateLimiter throttles callers per IP, with tighter or looser limits per
// route. A caller that exceeds its limit is blocked for blockDuration.
type RateLimiter struct {
	ips            map[string]*rate.Limiter
	blockedIPs     map[string]time.Time
	mu             sync.Mutex
	defaultLimit   endpointLimit
	blockDuration  time.Duration
	endpointLimits map[string]endpointLimit
	now            func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		ips:        make(map[string]*rate.Limiter),
		blockedIPs: make(map[string]time.Time),
		// 10 requests per second, bursts of 20
		defaultLimit:  endpointLimit{limit: rate.Every(100 * time.Millisecond), burst: 20},
		blockDuration: 5 * time.Minute,
		endpointLimits: map[string]endpointLimit{
			// Checkout and task completion replay events in bulk.
			"/api/commission-events": {limit: rate.Every(5 * time.Millisecond), burst: 500},
			"/api/members":           {limit: rate.Every(500 * time.Millisecond), burst: 5},
		},
		now: time.Now,
	}
}

// SetEndpointLimit overrides the limit for one route path.
func (r *RateLimiter) SetEndpointLimit(path string, limit rate.Limit, burst int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpointLimits[path] = endpointLimit{limit: limit, burst: burst}
}

// Cleanup drops expired blocks every interval until ctx is done.
func (r *RateLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			now := r.now()
			for key, blockUntil := range r.blockedIPs {
				if now.After(blockUntil) {
					delete(r.blockedIPs, key)
					delete(r.ips, key)
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *RateLimiter) RateLimit() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()
			if path == "/metrics" || path == "/health" {
				return next(c)
			}
			key := c.RealIP() + " " + path

			r.mu.Lock()
			if blockUntil, blocked := r.blockedIPs[key]; blocked {
				if r.now().Before(blockUntil) {
					r.mu.Unlock()
					return tooManyRequests(c, blockUntil)
				}
				// Block has expired - reset the limiter
				delete(r.blockedIPs, key)
				delete(r.ips, key)
			}

			limiter, ok := r.ips[key]
			if !ok {
				l, custom := r.endpointLimits[path]
				if !custom {
					l = r.defaultLimit
				}
				limiter = rate.NewLimiter(l.limit, l.burst)
				r.ips[key] = limiter
			}
			if !limiter.AllowN(r.now(), 1) {
				blockUntil := r.now().Add(r.blockDuration)
				r.blockedIPs[key] = blockUntil
				r.mu.Unlock()
				return tooManyRequests(c, blockUntil)
			}
			r.mu.Unlock()

			return next(c)
		}
	}
}

func tooManyRequests(c echo.Context, retryAfter time.Time) error {
	return c.JSON(http.StatusTooManyRequests, models.Response{
		Status:  http.StatusTooManyRequests,
		Message: "Too many requests",
		Data:    map[string]string{"retryAfter": retryAfter.UTC().Format(time.RFC3339)},
	})
}
