package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/xtrntr/auction/internal/auth"
)

type ctxKey int

const claimsKey ctxKey = iota

func claimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*auth.Claims)
	return claims, ok
}

// RequireRole verifies the bearer token and that it was issued for role
func (h *Handler) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authorization header required"})
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := h.AuthService.ParseToken(tokenString)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Invalid or expired token"})
				return
			}
			if claims.Role != role {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "Insufficient permissions"})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger logs each request with its status and latency
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"latency":    time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("HTTP Request")
		})
	}
}

// limiterIdle is how long a bidder's bucket survives without bids
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// bidderLimiter keeps one token bucket per bidder. Buckets idle for longer
// than a full refill are dropped.
type bidderLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idle      time.Duration
	now       func() time.Time
	lastSweep time.Time
	limiters  map[uuid.UUID]*limiterEntry
}

func newBidderLimiter(perSecond float64, burst int) *bidderLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	idle := limiterIdle
	if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &bidderLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		limiters: make(map[uuid.UUID]*limiterEntry),
	}
}

// Allow reports whether the bidder may bid now. A nil limiter allows everything.
func (l *bidderLimiter) Allow(bidderID uuid.UUID) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for id, e := range l.limiters {
			if now.Sub(e.lastSeen) >= l.idle {
				delete(l.limiters, id)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.limiters[bidderID]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[bidderID] = e
	}
	e.lastSeen = now
	lim := e.lim
	l.mu.Unlock()

	return lim.AllowN(now, 1)
}

