package authapi

import (
	"net/http"
	"strconv"
	"time"

	"netreaper/cmd/internal/auth/ratelimit"
)

// rateIdentity picks the limiter key for a credential attempt.
func (h *Handler) rateIdentity(r *http.Request) string {
	if h.cfg.RateScope == ScopeGlobal {
		return ratelimit.GlobalIdentity
	}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		return ip.String()
	}
	return "unknown"
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64((retryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication attempts. Please try again later.")
}
