package api

import (
	"net"
	"sync"

	echo "github.com/labstack/echo/v5"
	"golang.org/x/time/rate"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// visitorLimiter tracks one remote address's token bucket.
type visitorLimiter struct {
	limiter *rate.Limiter
}

// rateLimiter grants each remote address its own token bucket (spec.md §5:
// per-client throttling on the HTTP surface). Loopback addresses — where
// the CLI and local tooling connect from — get a much larger allowance
// since they are not the abuse surface this guards against.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitorLimiter
	rps      rate.Limit
	burst    int
}

func newRateLimiter(rps float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitorLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(remoteAddr string) (bool, float64) {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	limit, burst := rl.rps, rl.burst
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		limit, burst = limit*20, burst*20
	}

	rl.mu.Lock()
	v, ok := rl.visitors[host]
	if !ok {
		v = &visitorLimiter{limiter: rate.NewLimiter(limit, burst)}
		rl.visitors[host] = v
	}
	rl.mu.Unlock()

	res := v.limiter.Reserve()
	if !res.OK() {
		return false, 1
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay.Seconds()
	}
	return true, 0
}

// middleware returns the Echo middleware enforcing this limiter.
func (rl *rateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			ok, retryAfter := rl.allow(c.Request().RemoteAddr)
			if !ok {
				return rateLimited(c, retryAfter)
			}
			return next(c)
		}
	}
}
