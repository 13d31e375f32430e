// Package trending aggregates news and social posts for a set of topics,
// serving from the trending_cache collection while it is fresh.
package trending

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"authrax/pkg/authrax"
	"golang.org/x/sync/errgroup"
)

const (
	pageSize           = 10
	maxNewsTopics      = 5
	maxSocialTopics    = 3
	maxRedditPosts     = 25
	maxCacheRows       = 50
	cachedPerTopicType = 5
	fanOutLimit        = 8
)

// DefaultTopics are searched for news when a request names no topics.
var DefaultTopics = []string{"Startup", "Technology", "Business"}

// DefaultSubreddits are used for posts when no topics are given or topic
// search finds nothing.
var DefaultSubreddits = []string{"Entrepreneur", "startups", "technology", "business", "productivity"}

// Sources fetches items from upstream trend sources.
type Sources interface {
	SearchNews(ctx context.Context, topic string) ([]authrax.NewsItem, error)
	SearchLinkedIn(ctx context.Context, topic string) ([]authrax.SocialItem, error)
	SearchReddit(ctx context.Context, topic string, tf authrax.Timeframe) ([]authrax.SocialItem, error)
	TopReddit(ctx context.Context, subreddit string, tf authrax.Timeframe) ([]authrax.SocialItem, error)
}

// Cache persists fetched items.
type Cache interface {
	CachedEntries(ctx context.Context, q authrax.CacheQuery) ([]authrax.CacheEntry, error)
	PutCacheEntries(ctx context.Context, entries []authrax.CacheEntry) error
}

// Request is one trending query.
type Request struct {
	Type         authrax.ContentType
	Timeframe    authrax.Timeframe
	Topics       []string
	Page         int
	ForceRefresh bool
}

// Result is one page of trending items.
type Result struct {
	News         []authrax.NewsItem   `json:"news"`
	Posts        []authrax.SocialItem `json:"posts"`
	TotalNews    int                  `json:"totalNews"`
	TotalPosts   int                  `json:"totalPosts"`
	HasMoreNews  bool                 `json:"hasMoreNews"`
	HasMorePosts bool                 `json:"hasMorePosts"`
	Cached       bool                 `json:"cached"`
}

// Config holds aggregator configuration.
type Config struct {
	Sources           Sources
	Cache             Cache
	Logger            *slog.Logger
	Now               func() time.Time
	DefaultTopics     []string
	DefaultSubreddits []string
}

// Aggregator answers trending queries.
type Aggregator struct {
	sources           Sources
	cache             Cache
	logger            *slog.Logger
	now               func() time.Time
	defaultTopics     []string
	defaultSubreddits []string
}

// New creates a new aggregator.
func New(cfg *Config) *Aggregator {
	a := &Aggregator{
		sources:           cfg.Sources,
		cache:             cfg.Cache,
		logger:            cfg.Logger,
		now:               cfg.Now,
		defaultTopics:     cfg.DefaultTopics,
		defaultSubreddits: cfg.DefaultSubreddits,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if len(a.defaultTopics) == 0 {
		a.defaultTopics = DefaultTopics
	}
	if len(a.defaultSubreddits) == 0 {
		a.defaultSubreddits = DefaultSubreddits
	}
	return a
}

// Fetch answers a trending query. Upstream failures degrade to fewer items;
// the only errors returned come from context cancellation.
func (a *Aggregator) Fetch(ctx context.Context, req Request) (*Result, error) {
	topics := cleanTopics(req.Topics)
	tf := authrax.ParseTimeframe(string(req.Timeframe))
	kind := authrax.ParseContentType(string(req.Type))
	now := a.now()

	a.logger.Info("Trending request",
		"topics", topics,
		"timeframe", tf,
		"type", kind,
		"page", req.Page,
		"force_refresh", req.ForceRefresh)

	var news []authrax.NewsItem
	var posts []authrax.SocialItem
	cached := false

	if len(topics) > 0 && !req.ForceRefresh {
		news, posts, cached = a.fromCache(ctx, topics, tf, kind, now)
	}

	if !cached {
		news, posts = a.fetchFresh(ctx, topics, tf, kind)
		if len(topics) > 0 {
			a.store(ctx, topics, tf, news, posts, now)
		}
	} else {
		news = sortNews(dedupeNews(news))
		posts = sortPosts(dedupePosts(posts))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		TotalNews:  len(news),
		TotalPosts: len(posts),
		Cached:     cached,
	}
	result.News, result.HasMoreNews = paginate(news, req.Page)
	result.Posts, result.HasMorePosts = paginate(posts, req.Page)

	a.logger.Info("Trending request completed",
		"cached", cached,
		"total_news", result.TotalNews,
		"total_posts", result.TotalPosts)
	return result, nil
}

// fetchFresh fans out to every upstream source for the requested types.
func (a *Aggregator) fetchFresh(ctx context.Context, topics []string, tf authrax.Timeframe, kind authrax.ContentType) ([]authrax.NewsItem, []authrax.SocialItem) {
	newsTopics := topics
	if len(newsTopics) == 0 {
		newsTopics = a.defaultTopics
	}
	newsTopics = newsTopics[:min(len(newsTopics), maxNewsTopics)]
	socialTopics := topics[:min(len(topics), maxSocialTopics)]

	// Results are slotted by topic so first-seen dedupe is deterministic.
	newsByTopic := make([][]authrax.NewsItem, len(newsTopics))
	linkedinByTopic := make([][]authrax.SocialItem, len(socialTopics))
	redditByTopic := make([][]authrax.SocialItem, len(socialTopics))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOutLimit)

	if kind.WantsNews() {
		for i, topic := range newsTopics {
			g.Go(func() error {
				items, err := a.sources.SearchNews(gctx, topic)
				if err != nil {
					a.logger.Warn("News fetch failed", "topic", topic, "error", err)
					return nil
				}
				newsByTopic[i] = items
				return nil
			})
		}
	}

	if kind.WantsPosts() {
		for i, topic := range socialTopics {
			g.Go(func() error {
				items, err := a.sources.SearchLinkedIn(gctx, topic)
				if err != nil {
					a.logger.Warn("LinkedIn fetch failed", "topic", topic, "error", err)
					return nil
				}
				linkedinByTopic[i] = items
				return nil
			})
			g.Go(func() error {
				items, err := a.sources.SearchReddit(gctx, topic, tf)
				if err != nil {
					a.logger.Warn("Reddit search failed", "topic", topic, "error", err)
					return nil
				}
				redditByTopic[i] = items
				return nil
			})
		}
	}
	_ = g.Wait()

	news := flatten(newsByTopic)
	reddit := flatten(redditByTopic)

	if kind.WantsPosts() && len(reddit) == 0 {
		a.logger.Info("Falling back to default subreddits", "topics", len(socialTopics))
		reddit = a.fetchSubreddits(ctx, tf)
	}

	redditPosts := sortPosts(dedupePosts(reddit))
	if len(redditPosts) > maxRedditPosts {
		redditPosts = redditPosts[:maxRedditPosts]
	}

	posts := dedupePosts(append(redditPosts, flatten(linkedinByTopic)...))
	return sortNews(dedupeNews(news)), posts
}

func (a *Aggregator) fetchSubreddits(ctx context.Context, tf authrax.Timeframe) []authrax.SocialItem {
	bySub := make([][]authrax.SocialItem, len(a.defaultSubreddits))

	var wg sync.WaitGroup
	for i, sub := range a.defaultSubreddits {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := a.sources.TopReddit(ctx, sub, tf)
			if err != nil {
				a.logger.Warn("Subreddit fetch failed", "subreddit", sub, "error", err)
				return
			}
			bySub[i] = items
		}()
	}
	wg.Wait()

	return flatten(bySub)
}

func cleanTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func flatten[T any](groups [][]T) []T {
	var out []T
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// dedupeNews keeps the first item per link.
func dedupeNews(items []authrax.NewsItem) []authrax.NewsItem {
	seen := make(map[string]bool, len(items))
	out := make([]authrax.NewsItem, 0, len(items))
	for _, it := range items {
		if it.Link == "" || seen[it.Link] {
			continue
		}
		seen[it.Link] = true
		out = append(out, it)
	}
	return out
}

// dedupePosts keeps the first post per permalink.
func dedupePosts(items []authrax.SocialItem) []authrax.SocialItem {
	seen := make(map[string]bool, len(items))
	out := make([]authrax.SocialItem, 0, len(items))
	for _, it := range items {
		if it.URL == "" || seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		out = append(out, it)
	}
	return out
}

func sortNews(items []authrax.NewsItem) []authrax.NewsItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})
	return items
}

func sortPosts(items []authrax.SocialItem) []authrax.SocialItem {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score > items[j].Score
	})
	return items
}

// paginate returns page (1-based) of items and whether more pages follow.
func paginate[T any](items []T, page int) ([]T, bool) {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}, false
	}
	end := min(start+pageSize, len(items))
	return items[start:end], end < len(items)
}
