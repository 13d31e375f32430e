package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"authrax/pkg/authrax"
)

const (
	// TopicWorkerInterval is how often the topic worker runs.
	TopicWorkerInterval = 12 * time.Hour

	recentPostScan = 1000
	maxWarmTopics  = 50
	insightMaxAge  = 7 * 24 * time.Hour
	generatePause  = time.Second
)

// TopicStore exposes the data the topic worker ranks and checks.
type TopicStore interface {
	RecentRecommendedPosts(ctx context.Context, limit int) ([]authrax.RecommendedPost, error)
	TopicInsight(ctx context.Context, topic string) (*authrax.TopicInsight, error)
}

// Generator produces insights for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string, force bool) []authrax.InsightItem
}

// TopicReport summarizes one topic worker run.
type TopicReport struct {
	Generated int `json:"generated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// TopicWorker regenerates insights for the most popular topics.
type TopicWorker struct {
	store     TopicStore
	generator Generator
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewTopicWorker creates a new topic worker.
func NewTopicWorker(store TopicStore, generator Generator, logger *slog.Logger) *TopicWorker {
	return &TopicWorker{
		store:     store,
		generator: generator,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

// Run ranks topics from recent recommended posts and regenerates insights
// for the top fifty that have no insight from the last seven days.
func (w *TopicWorker) Run(ctx context.Context) (*TopicReport, error) {
	posts, err := w.store.RecentRecommendedPosts(ctx, recentPostScan)
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}

	topics := rankTopics(posts, maxWarmTopics)
	w.logger.Info("Starting topic worker", "posts_scanned", len(posts), "topics", len(topics))

	report := &TopicReport{}
	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Context cancelled, stopping topic worker", "error", err)
			return report, err
		}

		ti, err := w.store.TopicInsight(ctx, topic)
		if err != nil && !authrax.IsKind(err, authrax.NotFound) {
			w.logger.Warn("Failed to load topic insight", "topic", topic, "error", err)
		}
		if err == nil && ti.FreshAt(w.now(), insightMaxAge) {
			w.logger.Debug("Skipping topic (insight is fresh)", "topic", topic, "generated_at", ti.GeneratedAt)
			report.Skipped++
			continue
		}

		if report.Generated+report.Failed > 0 {
			if err := w.sleep(ctx, generatePause); err != nil {
				return report, err
			}
		}

		if items := w.generator.Generate(ctx, topic, true); len(items) > 0 {
			report.Generated++
		} else {
			report.Failed++
		}
	}

	w.logger.Info("Topic worker completed",
		"generated", report.Generated,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report, nil
}

// rankTopics returns up to limit lowercased topics ordered by frequency,
// ties broken by name.
func rankTopics(posts []authrax.RecommendedPost, limit int) []string {
	counts := make(map[string]int)
	for _, p := range posts {
		if t := authrax.NormalizeTopic(p.Topic); t != "" {
			counts[t]++
		}
	}

	topics := make([]string, 0, len(counts))
	for t := range counts {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})

	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
