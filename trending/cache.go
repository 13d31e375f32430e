package trending

import (
	"context"
	"time"

	"authrax/pkg/authrax"
)

// fromCache collects fresh cached items for topics. It reports false when
// nothing of the requested types was found.
func (a *Aggregator) fromCache(ctx context.Context, topics []string, tf authrax.Timeframe, kind authrax.ContentType, now time.Time) ([]authrax.NewsItem, []authrax.SocialItem, bool) {
	cutoff := now.Add(-tf.FreshnessWindow())

	var news []authrax.NewsItem
	var posts []authrax.SocialItem
	for _, topic := range topics {
		entries, err := a.cache.CachedEntries(ctx, authrax.CacheQuery{
			Topic:     authrax.NormalizeTopic(topic),
			Timeframe: tf,
			Since:     cutoff,
			Limit:     maxCacheRows,
		})
		if err != nil {
			a.logger.Warn("Cache lookup failed", "topic", topic, "error", err)
			continue
		}
		for _, e := range entries {
			switch e.ItemType {
			case authrax.ItemNews:
				if kind.WantsNews() {
					news = append(news, entryToNews(e))
				}
			case authrax.ItemPost:
				if kind.WantsPosts() {
					posts = append(posts, entryToPost(e))
				}
			}
		}
	}

	hit := len(news) > 0 || len(posts) > 0
	if hit {
		a.logger.Info("Serving trending items from cache", "topics", len(topics), "news", len(news), "posts", len(posts))
	}
	return news, posts, hit
}

// store writes up to five news and five social items per topic in one batch.
func (a *Aggregator) store(ctx context.Context, topics []string, tf authrax.Timeframe, news []authrax.NewsItem, posts []authrax.SocialItem, now time.Time) {
	var entries []authrax.CacheEntry
	for _, topic := range topics {
		var n, p int
		for _, it := range news {
			if n == cachedPerTopicType {
				break
			}
			if it.Topic == topic {
				entries = append(entries, newsToEntry(it, topic, tf, now))
				n++
			}
		}
		for _, it := range posts {
			if p == cachedPerTopicType {
				break
			}
			if it.Topic == topic {
				entries = append(entries, postToEntry(it, topic, tf, now))
				p++
			}
		}
	}
	if len(entries) == 0 {
		return
	}

	if err := a.cache.PutCacheEntries(ctx, entries); err != nil {
		a.logger.Error("Failed to write trending cache", "entries", len(entries), "error", err)
		return
	}
	a.logger.Info("Trending cache updated", "entries", len(entries))
}

func newsToEntry(it authrax.NewsItem, topic string, tf authrax.Timeframe, now time.Time) authrax.CacheEntry {
	return authrax.CacheEntry{
		PublishedAt: it.PublishedAt,
		FetchedAt:   now,
		Topic:       authrax.NormalizeTopic(topic),
		Timeframe:   tf,
		ItemType:    authrax.ItemNews,
		SourceID:    it.Link,
		Title:       it.Title,
		Description: it.Description,
		SourceName:  it.Source,
		SourceURL:   it.Link,
		Category:    it.Category,
	}
}

func postToEntry(it authrax.SocialItem, topic string, tf authrax.Timeframe, now time.Time) authrax.CacheEntry {
	return authrax.CacheEntry{
		PublishedAt: it.PublishedAt,
		FetchedAt:   now,
		Topic:       authrax.NormalizeTopic(topic),
		Timeframe:   tf,
		ItemType:    authrax.ItemPost,
		SourceID:    it.URL,
		Title:       it.Title,
		Description: it.Content,
		SourceName:  it.Platform,
		SourceURL:   it.URL,
		Category:    it.Subreddit,
		Author:      it.Author,
		Score:       it.Score,
		NumComments: it.NumComments,
	}
}

func entryToNews(e authrax.CacheEntry) authrax.NewsItem {
	return authrax.NewsItem{
		PublishedAt: e.PublishedAt,
		ID:          authrax.ItemID(e.SourceID),
		Title:       e.Title,
		Description: e.Description,
		Link:        e.SourceURL,
		Source:      e.SourceName,
		Category:    e.Category,
		Topic:       e.Topic,
	}
}

func entryToPost(e authrax.CacheEntry) authrax.SocialItem {
	return authrax.SocialItem{
		PublishedAt: e.PublishedAt,
		ID:          authrax.ItemID(e.SourceID),
		Platform:    e.SourceName,
		Title:       e.Title,
		Content:     e.Description,
		Author:      e.Author,
		URL:         e.SourceURL,
		Subreddit:   e.Category,
		Topic:       e.Topic,
		Score:       e.Score,
		NumComments: e.NumComments,
	}
}
