package server

import (
	"net/http"
	"strings"

	"authrax/pkg/authrax"
	"authrax/trending"
)

type trendingRequest struct {
	Type         string   `json:"type"`
	Timeframe    string   `json:"timeframe"`
	Topics       []string `json:"topics"`
	Page         int      `json:"page"`
	ForceRefresh bool     `json:"forceRefresh"`
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	var req trendingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	uid := userID(r.Context())
	if req.ForceRefresh && !s.refreshLimiter.allow(uid) {
		s.logger.Warn("Force refresh rate limit exceeded", "user_id", uid)
		s.writeStatus(w, http.StatusTooManyRequests, "rate_limited", "too many refreshes, try again later")
		return
	}

	res, err := s.trending.Fetch(r.Context(), trending.Request{
		Topics:       req.Topics,
		Page:         req.Page,
		Type:         authrax.ContentType(req.Type),
		Timeframe:    authrax.Timeframe(req.Timeframe),
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type insightsRequest struct {
	Topic        string `json:"topic"`
	ForceRefresh bool   `json:"forceRefresh"`
}

type insightsResponse struct {
	Topic    string                `json:"topic"`
	Insights []authrax.InsightItem `json:"insights"`
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	var req insightsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		s.writeError(w, r, authrax.Errorf(authrax.InvalidArgument, "server.insights", "topic is required"))
		return
	}
	// Stored insights are served without an LLM; only generation needs one.
	errUnconfigured := authrax.Errorf(authrax.ConfigMissing, "server.insights", "LLM is not configured")
	if req.ForceRefresh && !s.insights.Configured() {
		s.writeError(w, r, errUnconfigured)
		return
	}

	items := s.insights.Generate(r.Context(), topic, req.ForceRefresh)
	if len(items) == 0 && !s.insights.Configured() {
		s.writeError(w, r, errUnconfigured)
		return
	}
	if items == nil {
		items = []authrax.InsightItem{}
	}
	s.writeJSON(w, http.StatusOK, insightsResponse{Topic: topic, Insights: items})
}

type recommendRequest struct {
	Topics []string `json:"topics"`
}

type postsResponse struct {
	Posts []authrax.RecommendedPost `json:"posts"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	posts, err := s.recommendations.Recommend(r.Context(), userID(r.Context()), req.Topics)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, postsResponse{Posts: posts})
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	posts, err := s.recommendations.List(r.Context(), userID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, postsResponse{Posts: posts})
}

func (s *Server) handleUseRecommendation(w http.ResponseWriter, r *http.Request) {
	if err := s.recommendations.MarkUsed(r.Context(), userID(r.Context()), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "used"})
}

func (s *Server) handleVoiceProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.voice.Active(r.Context(), userID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

type voiceWebhookResponse struct {
	Status    string  `json:"status"`
	ProfileID string  `json:"profileId"`
	Version   float64 `json:"version"`
}

func (s *Server) handleVoiceWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.voice.CheckSecret(r.Header.Get("X-Webhook-Secret")); err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	p, err := s.voice.Ingest(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, voiceWebhookResponse{Status: "success", ProfileID: p.ID, Version: p.Version})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Cleanup endpoint triggered")
	deleted, err := s.cleanup.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "completed", "deleted": deleted})
}

func (s *Server) handleTopicWorker(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Topic worker endpoint triggered")
	report, err := s.topicWorker.Run(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "completed",
		"generated": report.Generated,
		"skipped":   report.Skipped,
		"failed":    report.Failed,
	})
}
