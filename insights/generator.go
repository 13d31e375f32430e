// Package insights generates LLM post concepts for trending topics and copies
// them into per-user recommended posts.
package insights

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxAge is how long a generated insight is reused before regenerating.
	MaxAge = 7 * 24 * time.Hour

	contextWindow   = 24 * time.Hour
	maxContextItems = 10
	minContextItems = 3
	maxInsights     = 3
	cacheScanRows   = 50
)

// Completer runs a single prompt against an LLM.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Store holds insights and the trending cache used as prompt context.
type Store interface {
	TopicInsight(ctx context.Context, topic string) (*authrax.TopicInsight, error)
	SaveTopicInsight(ctx context.Context, ti *authrax.TopicInsight) error
	CachedEntries(ctx context.Context, q authrax.CacheQuery) ([]authrax.CacheEntry, error)
	PutCacheEntries(ctx context.Context, entries []authrax.CacheEntry) error
}

// Sources fetches fresh context when the cache is thin.
type Sources interface {
	SearchNews(ctx context.Context, topic string) ([]authrax.NewsItem, error)
	SearchLinkedIn(ctx context.Context, topic string) ([]authrax.SocialItem, error)
}

// Config holds generator configuration. LLM may be nil when no key is set.
type Config struct {
	LLM     Completer
	Store   Store
	Sources Sources
	Logger  *slog.Logger
	Now     func() time.Time
}

// Generator produces and caches topic insights.
type Generator struct {
	llm     Completer
	store   Store
	sources Sources
	logger  *slog.Logger
	now     func() time.Time
}

// NewGenerator creates a new generator.
func NewGenerator(cfg *Config) *Generator {
	g := &Generator{
		llm:     cfg.LLM,
		store:   cfg.Store,
		sources: cfg.Sources,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Configured reports whether an LLM is available.
func (g *Generator) Configured() bool {
	return g.llm != nil
}

// Generate returns up to three insights for topic. A fresh stored insight is
// returned as-is unless force is set. Failures are logged and yield nil.
func (g *Generator) Generate(ctx context.Context, topic string, force bool) []authrax.InsightItem {
	key := authrax.NormalizeTopic(topic)
	if key == "" {
		return nil
	}
	now := g.now()

	if !force {
		ti, err := g.store.TopicInsight(ctx, key)
		switch {
		case err == nil && ti.FreshAt(now, MaxAge):
			g.logger.Debug("Using stored topic insight", "topic", key, "generated_at", ti.GeneratedAt)
			return ti.Insights
		case err != nil && !authrax.IsKind(err, authrax.NotFound):
			g.logger.Warn("Failed to load topic insight", "topic", key, "error", err)
		}
	}

	if g.llm == nil {
		g.logger.Warn("Skipping insight generation: LLM not configured", "topic", key)
		return nil
	}

	entries := g.contextEntries(ctx, topic, now)
	g.logger.Info("Generating topic insights", "topic", key, "context_items", len(entries), "force", force)

	start := time.Now()
	text, err := g.llm.Complete(ctx, buildPrompt(topic, entries))
	if err != nil {
		g.logger.Error("Insight generation failed", "topic", key, "error", err)
		return nil
	}

	items, err := parseInsights(text)
	if err != nil {
		g.logger.Error("Failed to parse insights", "topic", key, "error", err)
		return nil
	}
	if len(items) == 0 {
		g.logger.Warn("LLM returned no usable insights", "topic", key)
		return nil
	}

	ti := &authrax.TopicInsight{
		Topic:       key,
		Insights:    items,
		GeneratedAt: now,
		ExpiresAt:   now.Add(MaxAge),
	}
	if err := g.store.SaveTopicInsight(ctx, ti); err != nil {
		g.logger.Error("Failed to save topic insight", "topic", key, "error", err)
	}

	g.logger.Info("Topic insights generated",
		"topic", key,
		"insights", len(items),
		"duration_ms", time.Since(start).Milliseconds())
	return items
}

// contextEntries returns recent cached items for topic, topping up from the
// upstream sources when fewer than three are cached.
func (g *Generator) contextEntries(ctx context.Context, topic string, now time.Time) []authrax.CacheEntry {
	key := authrax.NormalizeTopic(topic)
	cutoff := now.Add(-contextWindow)

	entries, err := g.store.CachedEntries(ctx, authrax.CacheQuery{Topic: key, Since: cutoff, Limit: cacheScanRows})
	if err != nil {
		g.logger.Warn("Failed to read cached context", "topic", key, "error", err)
	}
	if len(entries) >= minContextItems || g.sources == nil {
		return capEntries(dedupeEntries(entries))
	}

	var news []authrax.NewsItem
	var posts []authrax.SocialItem
	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if news, err = g.sources.SearchNews(ectx, topic); err != nil {
			g.logger.Warn("News fetch failed", "topic", key, "error", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if posts, err = g.sources.SearchLinkedIn(ectx, topic); err != nil {
			g.logger.Warn("LinkedIn fetch failed", "topic", key, "error", err)
		}
		return nil
	})
	_ = eg.Wait()

	fresh := make([]authrax.CacheEntry, 0, len(news)+len(posts))
	for _, it := range news {
		fresh = append(fresh, authrax.CacheEntry{
			PublishedAt: it.PublishedAt, FetchedAt: now, Topic: key, Timeframe: authrax.TimeframeWeek,
			ItemType: authrax.ItemNews, SourceID: it.Link, Title: it.Title, Description: it.Description,
			SourceName: it.Source, SourceURL: it.Link, Category: it.Category,
		})
	}
	for _, it := range posts {
		fresh = append(fresh, authrax.CacheEntry{
			PublishedAt: it.PublishedAt, FetchedAt: now, Topic: key, Timeframe: authrax.TimeframeWeek,
			ItemType: authrax.ItemPost, SourceID: it.URL, Title: it.Title, Description: it.Content,
			SourceName: it.Platform, SourceURL: it.URL, Author: it.Author,
		})
	}
	if len(fresh) > 0 {
		if err := g.store.PutCacheEntries(ctx, fresh); err != nil {
			g.logger.Warn("Failed to cache insight context", "topic", key, "error", err)
		}
	}

	return capEntries(dedupeEntries(append(entries, fresh...)))
}

func dedupeEntries(entries []authrax.CacheEntry) []authrax.CacheEntry {
	seen := make(map[string]bool, len(entries))
	out := make([]authrax.CacheEntry, 0, len(entries))
	for _, e := range entries {
		if seen[e.SourceID] {
			continue
		}
		seen[e.SourceID] = true
		out = append(out, e)
	}
	return out
}

func capEntries(entries []authrax.CacheEntry) []authrax.CacheEntry {
	if len(entries) > maxContextItems {
		return entries[:maxContextItems]
	}
	return entries
}

func buildPrompt(topic string, entries []authrax.CacheEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a LinkedIn content strategist. Suggest exactly %d LinkedIn post concepts about %q.\n\n", maxInsights, topic)

	if len(entries) > 0 {
		sb.WriteString("Recent items on this topic:\n")
		for i, e := range entries {
			fmt.Fprintf(&sb, "%d. [%s] %s", i+1, e.ItemType, e.Title)
			if e.Description != "" {
				fmt.Fprintf(&sb, ": %s", e.Description)
			}
			if e.SourceURL != "" {
				fmt.Fprintf(&sb, " (%s)", e.SourceURL)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`Respond with JSON only, no prose, in this form:
[{"title": "...", "content": "2-3 sentence post angle", "source_type": "news|linkedin|trend", "source_title": "...", "source_url": "..."}]
`)
	return sb.String()
}
