package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"authrax/auth"
	"authrax/pkg/authrax"
)

type userKey struct{}

// userID returns the authenticated user of a request.
func userID(ctx context.Context) string {
	uid, _ := ctx.Value(userKey{}).(string)
	return uid
}

// authenticated requires a valid bearer token and stores its uid in the
// request context.
func (s *Server) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			s.writeError(w, r, authrax.Errorf(authrax.Unauthenticated, "server.auth", "missing bearer token"))
			return
		}
		uid, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.WithValue(r.Context(), userKey{}, uid), apiTimeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	})
}

// scheduled checks the X-Scheduler-Token header when a token is configured
// and runs next under the job timeout.
func (s *Server) scheduled(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.schedulerToken != "" {
			got := r.Header.Get("X-Scheduler-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.schedulerToken)) != 1 {
				s.writeError(w, r, authrax.Errorf(authrax.Unauthenticated, "server.scheduler", "invalid scheduler token"))
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), jobTimeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slogLevelFor(rec.status)
		s.logger.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func slogLevelFor(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
