package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/fyuze/fyuze/pkg/common"
	"github.com/fyuze/fyuze/pkg/logger"
)

// RateLimiter caps requests per user; it must run after the auth middleware.
// Requests without a user id share one bucket.
type RateLimiter struct {
	limit      rate.Limit
	burst      int
	retryAfter int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimiter allows perMinute requests per user per minute with a burst
// of the same size. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		limit:    rate.Inf,
		limiters: make(map[string]*rate.Limiter),
	}
	if perMinute > 0 {
		rl.limit = rate.Limit(float64(perMinute) / 60)
		rl.burst = perMinute
		rl.retryAfter = int(math.Ceil(60 / float64(perMinute)))
	}
	return rl
}

func (rl *RateLimiter) get(userID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[userID] = l
	}
	return l
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := UserIDFromContext(r.Context())
		if !rl.get(userID).Allow() {
			logger.Log(r.Context()).Warnf("ratelimit: user `%s` exceeded %v req/s on %s", userID, rl.limit, r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter))
			common.WriteMsg(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
