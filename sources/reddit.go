package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"authrax/pkg/authrax"
)

const redditLimit = 25

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Author      string  `json:"author"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	CreatedUTC  float64 `json:"created_utc"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Stickied    bool    `json:"stickied"`
	Over18      bool    `json:"over_18"`
}

// SearchReddit searches all of Reddit for topic, sorted by top within the timeframe.
func (c *Client) SearchReddit(ctx context.Context, topic string, tf authrax.Timeframe) ([]authrax.SocialItem, error) {
	q := url.Values{}
	q.Set("q", topic)
	q.Set("sort", "top")
	q.Set("t", tf.RedditFilter())
	q.Set("limit", fmt.Sprint(redditLimit))
	listingURL := fmt.Sprintf("%s/search.json?%s", strings.TrimSuffix(c.redditURL, "/"), q.Encode())

	posts, err := c.fetchListing(ctx, "reddit.search", listingURL, tf, time.Now())
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Topic = topic
	}

	c.logger.Info("Reddit search completed", "topic", topic, "timeframe", tf, "posts", len(posts))
	return posts, nil
}

// TopReddit fetches the top posts of one subreddit within the timeframe.
func (c *Client) TopReddit(ctx context.Context, subreddit string, tf authrax.Timeframe) ([]authrax.SocialItem, error) {
	q := url.Values{}
	q.Set("t", tf.RedditFilter())
	q.Set("limit", "10")
	listingURL := fmt.Sprintf("%s/r/%s/top.json?%s", strings.TrimSuffix(c.redditURL, "/"), url.PathEscape(subreddit), q.Encode())

	posts, err := c.fetchListing(ctx, "reddit.top", listingURL, tf, time.Now())
	if err != nil {
		return nil, err
	}

	c.logger.Info("Subreddit top fetched", "subreddit", subreddit, "timeframe", tf, "posts", len(posts))
	return posts, nil
}

func (c *Client) fetchListing(ctx context.Context, op, listingURL string, tf authrax.Timeframe, now time.Time) ([]authrax.SocialItem, error) {
	body, err := c.get(ctx, op, listingURL, "application/json")
	if err != nil {
		return nil, err
	}

	posts, err := parseListing(body, c.redditURL, now.Add(-tf.Lookback()))
	if err != nil {
		return nil, authrax.E(authrax.MalformedResponse, op, err)
	}
	return posts, nil
}

// parseListing decodes a Reddit listing, dropping stickied and NSFW posts and
// posts created before cutoff.
func parseListing(body []byte, baseURL string, cutoff time.Time) ([]authrax.SocialItem, error) {
	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}

	base := strings.TrimSuffix(baseURL, "/")
	posts := make([]authrax.SocialItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		if p.Stickied || p.Over18 || p.Permalink == "" {
			continue
		}
		created := time.Unix(int64(p.CreatedUTC), 0).UTC()
		if created.Before(cutoff) {
			continue
		}

		permalink := p.Permalink
		if strings.HasPrefix(permalink, "/") {
			permalink = base + permalink
		}

		posts = append(posts, authrax.SocialItem{
			ID:          p.ID,
			Platform:    "reddit",
			Title:       cleanText(p.Title),
			Content:     truncate(cleanText(p.Selftext), maxDescriptionRunes),
			Author:      p.Author,
			URL:         permalink,
			Subreddit:   p.Subreddit,
			Score:       p.Score,
			NumComments: p.NumComments,
			PublishedAt: created,
		})
	}
	return posts, nil
}
