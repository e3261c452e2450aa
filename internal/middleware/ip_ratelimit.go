package middleware

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gdscore/scoreboard-server/internal/audit"
	apperrors "github.com/gdscore/scoreboard-server/internal/errors"
	"github.com/gdscore/scoreboard-server/internal/httputil"
	"github.com/gdscore/scoreboard-server/internal/ratelimit"
)

type IPRateLimitMiddleware struct {
	limiter ratelimit.Limiter
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
}

func NewIPRateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration, prefix string) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientHost(r.RemoteAddr)
		key := fmt.Sprintf("ip:%s:%s", m.prefix, ip)
		allowed, resetAt := m.limiter.Allow(r.Context(), key, m.limit, m.window)

		if !allowed {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.prefix},
			})

			secondsLeft := int(resetAt.Sub(m.now()).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientHost strips the port from addr. RealIP middleware may already have
// replaced RemoteAddr with a bare address.
func clientHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
