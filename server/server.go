// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"authrax/jobs"
	"authrax/pkg/authrax"
	"authrax/trending"
)

const (
	apiTimeout = 60 * time.Second
	jobTimeout = 9 * time.Minute

	forceRefreshLimit  = 10
	forceRefreshWindow = time.Hour
)

// Trending answers trending queries.
type Trending interface {
	Fetch(ctx context.Context, req trending.Request) (*trending.Result, error)
}

// Insights generates topic insights.
type Insights interface {
	Generate(ctx context.Context, topic string, force bool) []authrax.InsightItem
	Configured() bool
}

// Recommendations manages per-user recommended posts.
type Recommendations interface {
	Recommend(ctx context.Context, uid string, topics []string) ([]authrax.RecommendedPost, error)
	List(ctx context.Context, uid string) ([]authrax.RecommendedPost, error)
	MarkUsed(ctx context.Context, uid, id string) error
}

// Voice ingests voice-analysis webhooks and serves profiles.
type Voice interface {
	CheckSecret(got string) error
	Ingest(ctx context.Context, body []byte) (*authrax.VoiceProfile, error)
	Active(ctx context.Context, uid string) (*authrax.VoiceProfile, error)
}

// Cleaner runs the recommended-post cleanup job.
type Cleaner interface {
	Run(ctx context.Context) (int, error)
}

// TopicWarmer runs the topic insight job.
type TopicWarmer interface {
	Run(ctx context.Context) (*jobs.TopicReport, error)
}

// Verifier checks bearer tokens and returns the user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Config holds server configuration.
type Config struct {
	Trending        Trending
	Insights        Insights
	Recommendations Recommendations
	Voice           Voice
	Cleanup         Cleaner
	TopicWorker     TopicWarmer
	Verifier        Verifier
	Logger          *slog.Logger
	SchedulerToken  string
}

// Server handles HTTP requests.
type Server struct {
	trending        Trending
	insights        Insights
	recommendations Recommendations
	voice           Voice
	cleanup         Cleaner
	topicWorker     TopicWarmer
	verifier        Verifier
	logger          *slog.Logger
	refreshLimiter  *rateLimiter
	schedulerToken  string
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		trending:        cfg.Trending,
		insights:        cfg.Insights,
		recommendations: cfg.Recommendations,
		voice:           cfg.Voice,
		cleanup:         cfg.Cleanup,
		topicWorker:     cfg.TopicWorker,
		verifier:        cfg.Verifier,
		logger:          cfg.Logger,
		refreshLimiter:  newRateLimiter(forceRefreshLimit, forceRefreshWindow),
		schedulerToken:  cfg.SchedulerToken,
	}
}

// Handler returns the routed handler for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /api/trending", s.authenticated(s.handleTrending))
	mux.Handle("POST /api/insights", s.authenticated(s.handleInsights))
	mux.Handle("POST /api/recommendations", s.authenticated(s.handleRecommend))
	mux.Handle("GET /api/recommendations", s.authenticated(s.handleListRecommendations))
	mux.Handle("POST /api/recommendations/{id}/use", s.authenticated(s.handleUseRecommendation))
	mux.Handle("GET /api/voice-profile", s.authenticated(s.handleVoiceProfile))

	mux.HandleFunc("POST /webhooks/voice-analysis", s.handleVoiceWebhook)

	mux.Handle("POST /jobs/cleanup", s.scheduled(s.handleCleanup))
	mux.Handle("POST /jobs/topic-worker", s.scheduled(s.handleTopicWorker))

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Write timeout covers the longest job endpoint.
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      jobTimeout + time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
