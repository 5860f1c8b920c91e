package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags every request with a req_id and a scoped logger, then logs the outcome.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			log := logger.With("req_id", reqID)
			ctx := common.WithRequestID(r.Context(), reqID)
			ctx = common.WithLogger(ctx, log)
			w.Header().Set(requestIDHeader, reqID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// authenticate resolves the bearer token to a user id. Websocket clients that cannot set
// headers may pass the token as the access_token query parameter.
func authenticate(auth *Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearer(r.Header.Get("Authorization"))
			if token == "" {
				token = r.URL.Query().Get("access_token")
			}
			userID, err := auth.Verify(token)
			if err != nil {
				common.LoggerFromContext(r.Context()).Warn("http.auth.rejected", "path", r.URL.Path, "error", err)
				writeError(w, r, err)
				return
			}
			ctx := common.WithUserID(r.Context(), userID)
			ctx = common.WithLogger(ctx, common.LoggerFromContext(ctx).With("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userLimiter hands out one token bucket per user. Idle buckets expire from the cache.
type userLimiter struct {
	mu      sync.Mutex
	perMin  int
	buckets *cache.Cache
}

func newUserLimiter(perMinute int) *userLimiter {
	return &userLimiter{perMin: perMinute, buckets: cache.New(10*time.Minute, time.Minute)}
}

func (l *userLimiter) allow(userID string) bool {
	if l.perMin <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.buckets.Get(userID); ok {
		lim := v.(*rate.Limiter)
		l.buckets.SetDefault(userID, lim)
		return lim.Allow()
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
	l.buckets.SetDefault(userID, lim)
	return lim.Allow()
}

func (l *userLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := common.UserIDFromContext(r.Context())
		if !l.allow(userID) {
			common.LoggerFromContext(r.Context()).Warn("http.ratelimit.exceeded", "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "upload rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
