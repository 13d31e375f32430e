package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

const (
	maxRecommendTopics = 5
	recommendParallel  = 3
	recommendationTTL  = 7 * 24 * time.Hour
	listLimit          = 50
)

// InsightSource produces insights for a topic.
type InsightSource interface {
	Generate(ctx context.Context, topic string, force bool) []authrax.InsightItem
	Configured() bool
}

// PostStore holds recommended posts.
type PostStore interface {
	AddRecommendedPosts(ctx context.Context, posts []authrax.RecommendedPost) error
	UserRecommendedPosts(ctx context.Context, uid string, now time.Time, limit int) ([]authrax.RecommendedPost, error)
	MarkRecommendedPostUsed(ctx context.Context, uid, id string, now time.Time) error
}

// RecommenderConfig holds recommender configuration.
type RecommenderConfig struct {
	Insights InsightSource
	Store    PostStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Recommender turns topic insights into per-user recommended posts.
type Recommender struct {
	insights InsightSource
	store    PostStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecommender creates a new recommender.
func NewRecommender(cfg *RecommenderConfig) *Recommender {
	r := &Recommender{
		insights: cfg.Insights,
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Recommend generates insights for up to five topics and stores one
// recommended post per insight for uid.
func (r *Recommender) Recommend(ctx context.Context, uid string, topics []string) ([]authrax.RecommendedPost, error) {
	const op = "insights.recommend"
	if !r.insights.Configured() {
		return nil, authrax.Errorf(authrax.ConfigMissing, op, "LLM is not configured")
	}
	if uid == "" {
		return nil, authrax.Errorf(authrax.Unauthenticated, op, "missing user")
	}

	var cleaned []string
	seen := make(map[string]bool)
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		cleaned = append(cleaned, t)
		if len(cleaned) == maxRecommendTopics {
			break
		}
	}
	if len(cleaned) == 0 {
		return nil, authrax.Errorf(authrax.InvalidArgument, op, "at least one topic is required")
	}

	results := make([][]authrax.InsightItem, len(cleaned))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recommendParallel)
	for i, topic := range cleaned {
		g.Go(func() error {
			results[i] = r.insights.Generate(gctx, topic, false)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.now()
	posts := make([]authrax.RecommendedPost, 0, len(cleaned)*maxInsights)
	for i, items := range results {
		for _, it := range items {
			posts = append(posts, authrax.RecommendedPost{
				ID:          ulid.Make().String(),
				UserID:      uid,
				Topic:       authrax.NormalizeTopic(cleaned[i]),
				Title:       it.Title,
				Content:     it.Content,
				SourceType:  it.SourceType,
				SourceTitle: it.SourceTitle,
				SourceURL:   it.SourceURL,
				CreatedAt:   now,
				ExpiresAt:   now.Add(recommendationTTL),
			})
		}
	}
	if len(posts) == 0 {
		r.logger.Warn("No recommendations generated", "user_id", uid, "topics", cleaned)
		return posts, nil
	}

	if err := r.store.AddRecommendedPosts(ctx, posts); err != nil {
		return nil, fmt.Errorf("store recommendations: %w", err)
	}
	r.logger.Info("Recommendations created", "user_id", uid, "topics", len(cleaned), "posts", len(posts))
	return posts, nil
}

// List returns uid's unused, unexpired recommended posts, newest first.
func (r *Recommender) List(ctx context.Context, uid string) ([]authrax.RecommendedPost, error) {
	posts, err := r.store.UserRecommendedPosts(ctx, uid, r.now(), listLimit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations: %w", err)
	}
	if posts == nil {
		posts = []authrax.RecommendedPost{}
	}
	return posts, nil
}

// MarkUsed flags one of uid's recommended posts as used.
func (r *Recommender) MarkUsed(ctx context.Context, uid, id string) error {
	if strings.TrimSpace(id) == "" {
		return authrax.Errorf(authrax.InvalidArgument, "insights.mark_used", "missing post id")
	}
	if err := r.store.MarkRecommendedPostUsed(ctx, uid, id, r.now()); err != nil {
		return fmt.Errorf("mark recommendation used: %w", err)
	}
	r.logger.Info("Recommendation marked used", "user_id", uid, "post_id", id)
	return nil
}
