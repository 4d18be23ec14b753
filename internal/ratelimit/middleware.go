package ratelimit

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const tooManyRequestsHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <title>Too Many Requests</title>
  <style>
    body { font-family: sans-serif; display: flex; align-items: center; justify-content: center; height: 100vh; background-color: #f8fafc; }
    .card { text-align: center; padding: 2rem 3rem; border: 1px solid #e2e8f0; border-radius: 8px; box-shadow: 0 4px 12px rgba(0,0,0,0.05); background: white; }
    h1 { font-size: 2rem; margin-bottom: 0.5rem; color: #dc2626; }
    p { margin: 0.5rem 0; color: #475569; }
  </style>
</head>
<body>
  <div class="card">
    <h1>429: Too Many Requests</h1>
    <p>You have exceeded the allowed request rate.</p>
    <p>Please wait a minute and try again.</p>
  </div>
</body>
</html>
`

// ClientIP returns the caller address as reported by the edge proxy:
// CF-Connecting-IP, then the first X-Forwarded-For entry, else "unknown".
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return "unknown"
}

// Middleware limits requests per client IP and path. Requests over the limit
// get a 429 page with a Retry-After header. Store failures let the request
// through.
func Middleware(l *Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			route := r.URL.Path
			d, err := l.Allow(r.Context(), ip+":"+route)
			if err != nil {
				zap.L().Warn("rate limit store unavailable, allowing request",
					zap.String("ip", ip),
					zap.String("route", route),
					zap.Error(err),
				)
				next.ServeHTTP(w, r)
				return
			}

			zap.L().Debug("rate limit",
				zap.String("ip", ip),
				zap.String("route", route),
				zap.Int64("count", d.Count),
				zap.Int("max", d.Max),
			)

			if !d.Allowed {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(tooManyRequestsHTML))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
