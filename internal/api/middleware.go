package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/signing"
)

// Middleware wraps a handler with request scoped behavior.
type Middleware func(http.Handler) http.Handler

// chain applies mws so that the first one listed runs first.
func chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogging(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log.Info("begin request", "method", r.Method, "path", r.URL.Path)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("end request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
		})
	}
}

// cronAuth rejects requests without a valid signature over the path and query.
func cronAuth(auth Authenticator, log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expires := r.Header.Get(signing.HeaderExpires)
			signature := r.Header.Get(signing.HeaderSignature)
			if auth == nil || !auth.Validate(signing.Target(r.URL), expires, signature) {
				log.Warn("rejected unsigned request", "path", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
