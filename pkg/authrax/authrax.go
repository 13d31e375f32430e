// Package authrax contains the core domain types for the Authrax trends service.
package authrax

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// Timeframe is the lookback period of a trending request.
type Timeframe string

// Supported timeframes.
const (
	TimeframeDay   Timeframe = "24h"
	TimeframeWeek  Timeframe = "7d"
	TimeframeMonth Timeframe = "30d"
)

// ParseTimeframe returns the timeframe named by s, defaulting to 7d.
func ParseTimeframe(s string) Timeframe {
	switch Timeframe(strings.TrimSpace(strings.ToLower(s))) {
	case TimeframeDay:
		return TimeframeDay
	case TimeframeMonth:
		return TimeframeMonth
	default:
		return TimeframeWeek
	}
}

// FreshnessWindow is the maximum age of a cached item for this timeframe.
func (t Timeframe) FreshnessWindow() time.Duration {
	switch t {
	case TimeframeDay:
		return time.Hour
	case TimeframeMonth:
		return 24 * time.Hour
	default:
		return 6 * time.Hour
	}
}

// Lookback is how far back an item may have been published to count as trending.
func (t Timeframe) Lookback() time.Duration {
	switch t {
	case TimeframeDay:
		return 24 * time.Hour
	case TimeframeMonth:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// RedditFilter is the value of Reddit's "t" query parameter.
func (t Timeframe) RedditFilter() string {
	switch t {
	case TimeframeDay:
		return "day"
	case TimeframeMonth:
		return "month"
	default:
		return "week"
	}
}

// ContentType selects which halves of a trending result are wanted.
type ContentType string

// Supported content types.
const (
	ContentAll   ContentType = "all"
	ContentNews  ContentType = "news"
	ContentPosts ContentType = "posts"
)

// ParseContentType returns the content type named by s, defaulting to all.
func ParseContentType(s string) ContentType {
	switch ContentType(strings.TrimSpace(strings.ToLower(s))) {
	case ContentNews:
		return ContentNews
	case ContentPosts:
		return ContentPosts
	default:
		return ContentAll
	}
}

// WantsNews reports whether news items are requested.
func (c ContentType) WantsNews() bool { return c != ContentPosts }

// WantsPosts reports whether social posts are requested.
func (c ContentType) WantsPosts() bool { return c != ContentNews }

// ItemType distinguishes cached news articles from social posts.
type ItemType string

// Cached item types.
const (
	ItemNews ItemType = "news"
	ItemPost ItemType = "post"
)

// NormalizeTopic is the storage key form of a topic.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// ItemID derives a short stable identifier from a URL.
func ItemID(link string) string {
	h := sha256.Sum256([]byte(link))
	return fmt.Sprintf("%x", h[:8])
}

// NewsItem is a news article surfaced for a topic.
type NewsItem struct {
	PublishedAt time.Time `json:"publishedAt"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	Topic       string    `json:"topic,omitempty"` // Topic the item was fetched for
}

// SocialItem is a social post (Reddit or LinkedIn) surfaced for a topic.
type SocialItem struct {
	PublishedAt time.Time `json:"publishedAt"`
	ID          string    `json:"id"`
	Platform    string    `json:"platform"` // "reddit" or "linkedin"
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	URL         string    `json:"url"` // Permalink, used for dedupe
	Subreddit   string    `json:"subreddit,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Score       int       `json:"score"`
	NumComments int       `json:"numComments"`
}

// CacheQuery selects trending_cache rows for one topic, newest first.
type CacheQuery struct {
	Since     time.Time // Only rows fetched after Since
	Topic     string
	Timeframe Timeframe // Empty matches every timeframe
	Limit     int
}

// CacheEntry is one externally sourced item stored in trending_cache.
type CacheEntry struct {
	PublishedAt time.Time `json:"published_at" firestore:"published_at"`
	FetchedAt   time.Time `json:"fetched_at" firestore:"fetched_at"` // Cache freshness clock
	Topic       string    `json:"topic" firestore:"topic"`           // Lowercased
	Timeframe   Timeframe `json:"timeframe" firestore:"timeframe"`
	ItemType    ItemType  `json:"item_type" firestore:"item_type"`
	SourceID    string    `json:"source_id" firestore:"source_id"` // Original URL or permalink
	Title       string    `json:"title" firestore:"title"`
	Description string    `json:"description" firestore:"description"`
	SourceName  string    `json:"source_name" firestore:"source_name"`
	SourceURL   string    `json:"source_url" firestore:"source_url"`
	Category    string    `json:"category" firestore:"category"`
	Author      string    `json:"author" firestore:"author"`
	Score       int       `json:"score" firestore:"score"`
	NumComments int       `json:"num_comments" firestore:"num_comments"`
}

// InsightItem is one LLM-generated post concept.
type InsightItem struct {
	Title       string `json:"title" firestore:"title"`
	Content     string `json:"content" firestore:"content"`
	SourceType  string `json:"source_type" firestore:"source_type"`
	SourceTitle string `json:"source_title,omitempty" firestore:"source_title,omitempty"`
	SourceURL   string `json:"source_url,omitempty" firestore:"source_url,omitempty"`
}

// TopicInsight is the latest set of post concepts generated for a topic.
type TopicInsight struct {
	GeneratedAt time.Time     `json:"generated_at" firestore:"generated_at"`
	ExpiresAt   time.Time     `json:"expires_at" firestore:"expires_at"`
	Topic       string        `json:"topic" firestore:"topic"`
	Insights    []InsightItem `json:"insights" firestore:"insights"`
}

// FreshAt reports whether the insight was generated within maxAge of now.
func (ti *TopicInsight) FreshAt(now time.Time, maxAge time.Duration) bool {
	return ti != nil && len(ti.Insights) > 0 && now.Sub(ti.GeneratedAt) < maxAge
}

// RecommendedPost is a user-scoped copy of one insight item.
type RecommendedPost struct {
	CreatedAt   time.Time  `json:"created_at" firestore:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at" firestore:"expires_at"`
	UsedAt      *time.Time `json:"used_at,omitempty" firestore:"used_at"`
	ID          string     `json:"id" firestore:"-"`
	UserID      string     `json:"user_id" firestore:"user_id"`
	Topic       string     `json:"topic" firestore:"topic"`
	Title       string     `json:"title" firestore:"title"`
	Content     string     `json:"content" firestore:"content"`
	SourceType  string     `json:"source_type" firestore:"source_type"`
	SourceTitle string     `json:"source_title,omitempty" firestore:"source_title"`
	SourceURL   string     `json:"source_url,omitempty" firestore:"source_url"`
	IsUsed      bool       `json:"is_used" firestore:"is_used"`
}

// VoiceLayers is the fixed four-layer voice analysis schema.
type VoiceLayers struct {
	Expression map[string]any `json:"expression,omitempty" firestore:"expression"`
	Belief     map[string]any `json:"belief,omitempty" firestore:"belief"`
	Judgement  map[string]any `json:"judgement,omitempty" firestore:"judgement"`
	Governance map[string]any `json:"governance,omitempty" firestore:"governance"`
}

// Empty reports whether no layer carries any field.
func (l VoiceLayers) Empty() bool {
	return len(l.Expression) == 0 && len(l.Belief) == 0 && len(l.Judgement) == 0 && len(l.Governance) == 0
}

// VoiceProfile is one version of a user's writing-style analysis.
type VoiceProfile struct {
	CreatedAt  time.Time   `json:"createdAt" firestore:"createdAt"`
	ArchivedAt *time.Time  `json:"archivedAt,omitempty" firestore:"archivedAt"`
	Layers     VoiceLayers `json:"layers" firestore:"layers"`
	ID         string      `json:"id" firestore:"-"`
	UserID     string      `json:"userId" firestore:"userId"`
	Summary    string      `json:"summary,omitempty" firestore:"summary"`
	Source     string      `json:"source" firestore:"source"`
	Version    float64     `json:"version" firestore:"version"`
	IsActive   bool        `json:"isActive" firestore:"isActive"`
}
