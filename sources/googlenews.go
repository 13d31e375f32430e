package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"authrax/pkg/authrax"
	"github.com/mmcdole/gofeed"
)

const maxFeedItems = 15

// feedItem is the extraction contract for one RSS item.
type feedItem struct {
	Published   time.Time
	Title       string
	Publisher   string
	Link        string
	Description string
}

// SearchNews runs a Google News RSS search for topic.
func (c *Client) SearchNews(ctx context.Context, topic string) ([]authrax.NewsItem, error) {
	items, err := c.searchFeed(ctx, "googlenews.search", topic)
	if err != nil {
		return nil, err
	}

	news := make([]authrax.NewsItem, 0, len(items))
	for _, it := range items {
		news = append(news, authrax.NewsItem{
			ID:          authrax.ItemID(it.Link),
			Title:       it.Title,
			Description: it.Description,
			Link:        it.Link,
			Source:      it.Publisher,
			Category:    topic,
			PublishedAt: it.Published,
			Topic:       topic,
		})
	}

	c.logger.Info("News search completed", "topic", topic, "items", len(news))
	return news, nil
}

// SearchLinkedIn runs the Google News search restricted to LinkedIn posts and
// reinterprets each result as a social post.
func (c *Client) SearchLinkedIn(ctx context.Context, topic string) ([]authrax.SocialItem, error) {
	items, err := c.searchFeed(ctx, "linkedin.search", "site:linkedin.com/posts "+topic)
	if err != nil {
		return nil, err
	}

	posts := make([]authrax.SocialItem, 0, len(items))
	for _, it := range items {
		author := it.Publisher
		if author == "" || strings.EqualFold(author, "LinkedIn") {
			author = "LinkedIn"
		}
		posts = append(posts, authrax.SocialItem{
			ID:          authrax.ItemID(it.Link),
			Platform:    "linkedin",
			Title:       it.Title,
			Content:     it.Description,
			Author:      author,
			URL:         it.Link,
			PublishedAt: it.Published,
			Topic:       topic,
		})
	}

	c.logger.Info("LinkedIn search completed", "topic", topic, "items", len(posts))
	return posts, nil
}

func (c *Client) searchFeed(ctx context.Context, op, query string) ([]feedItem, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("hl", "en-US")
	q.Set("gl", "US")
	q.Set("ceid", "US:en")
	feedURL := fmt.Sprintf("%s/rss/search?%s", strings.TrimSuffix(c.googleNewsURL, "/"), q.Encode())

	body, err := c.get(ctx, op, feedURL, "application/rss+xml, application/xml;q=0.9, */*;q=0.8")
	if err != nil {
		return nil, err
	}

	items, err := parseFeed(body, time.Now())
	if err != nil {
		return nil, authrax.E(authrax.MalformedResponse, op, err)
	}
	return items, nil
}

// parseFeed extracts up to maxFeedItems items. Items without a link are skipped;
// items without a parseable date are stamped with now.
func parseFeed(body []byte, now time.Time) ([]feedItem, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]feedItem, 0, min(len(feed.Items), maxFeedItems))
	for _, it := range feed.Items {
		if len(items) == maxFeedItems {
			break
		}
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}

		headline, publisher := splitTitle(cleanText(it.Title))

		published := now
		if it.PublishedParsed != nil {
			published = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			published = it.UpdatedParsed.UTC()
		}

		desc := it.Description
		if desc == "" {
			desc = it.Content
		}

		items = append(items, feedItem{
			Published:   published,
			Title:       headline,
			Publisher:   publisher,
			Link:        link,
			Description: truncate(cleanText(desc), maxDescriptionRunes),
		})
	}
	return items, nil
}
