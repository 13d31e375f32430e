package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"authrax/pkg/authrax"
)

// Memory is an in-memory store with the same semantics as Firestore, used in
// local development mode and in tests.
type Memory struct {
	mu          sync.RWMutex
	cache       map[string]authrax.CacheEntry
	insights    map[string]authrax.TopicInsight
	recommended map[string]authrax.RecommendedPost
	voice       map[string]map[string]authrax.VoiceProfile // uid -> id -> profile
	writes      int                                         // cache entry writes, for tests
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		cache:       make(map[string]authrax.CacheEntry),
		insights:    make(map[string]authrax.TopicInsight),
		recommended: make(map[string]authrax.RecommendedPost),
		voice:       make(map[string]map[string]authrax.VoiceProfile),
	}
}

// Close implements io.Closer.
func (m *Memory) Close() error { return nil }

// CachedEntries returns the newest cache entries matching q.
func (m *Memory) CachedEntries(ctx context.Context, q authrax.CacheQuery) ([]authrax.CacheEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := authrax.NormalizeTopic(q.Topic)
	var out []authrax.CacheEntry
	for _, e := range m.cache {
		if e.Topic != key || (q.Timeframe != "" && e.Timeframe != q.Timeframe) {
			continue
		}
		if !q.Since.IsZero() && !e.FetchedAt.After(q.Since) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FetchedAt.Equal(out[j].FetchedAt) {
			return out[i].FetchedAt.After(out[j].FetchedAt)
		}
		return out[i].SourceID < out[j].SourceID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// PutCacheEntries upserts entries keyed by CacheDocID.
func (m *Memory) PutCacheEntries(ctx context.Context, entries []authrax.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.cache[CacheDocID(e.Topic, e.Timeframe, e.SourceID)] = e
		m.writes++
	}
	return nil
}

// CacheSize returns the number of distinct cache documents.
func (m *Memory) CacheSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// CacheWrites returns the number of cache document writes performed.
func (m *Memory) CacheWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// TopicInsight loads the insight document for a topic.
func (m *Memory) TopicInsight(ctx context.Context, topic string) (*authrax.TopicInsight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := authrax.NormalizeTopic(topic)
	ti, ok := m.insights[key]
	if !ok {
		return nil, notFound("storage.topic_insight", key)
	}
	ti.Insights = append([]authrax.InsightItem(nil), ti.Insights...)
	return &ti, nil
}

// SaveTopicInsight overwrites the insight document for ti.Topic.
func (m *Memory) SaveTopicInsight(ctx context.Context, ti *authrax.TopicInsight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *ti
	cp.Insights = append([]authrax.InsightItem(nil), ti.Insights...)
	m.insights[authrax.NormalizeTopic(ti.Topic)] = cp
	return nil
}

// AddRecommendedPosts stores posts. Each post must carry an ID.
func (m *Memory) AddRecommendedPosts(ctx context.Context, posts []authrax.RecommendedPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range posts {
		if p.ID == "" {
			return errors.New("recommended post without id")
		}
	}
	for _, p := range posts {
		m.recommended[p.ID] = p
	}
	return nil
}

// RecentRecommendedPosts returns the most recently created posts of all users.
func (m *Memory) RecentRecommendedPosts(ctx context.Context, limit int) ([]authrax.RecommendedPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return newestFirst(m.filterPosts(func(authrax.RecommendedPost) bool { return true }), limit), nil
}

// UserRecommendedPosts returns a user's unused, unexpired posts, newest first.
func (m *Memory) UserRecommendedPosts(ctx context.Context, uid string, now time.Time, limit int) ([]authrax.RecommendedPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posts := m.filterPosts(func(p authrax.RecommendedPost) bool {
		return p.UserID == uid && !p.IsUsed && p.ExpiresAt.After(now)
	})
	return newestFirst(posts, limit), nil
}

// MarkRecommendedPostUsed flags a post owned by uid as used.
func (m *Memory) MarkRecommendedPostUsed(ctx context.Context, uid, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.recommended[id]
	if !ok || p.UserID != uid {
		return notFound("storage.mark_used", "recommended post "+id)
	}
	p.IsUsed = true
	usedAt := now
	p.UsedAt = &usedAt
	m.recommended[id] = p
	return nil
}

// RecommendedPost returns one post by id.
func (m *Memory) RecommendedPost(id string) (authrax.RecommendedPost, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.recommended[id]
	return p, ok
}

// DeleteRecommendedPostsBefore deletes up to limit posts created before cutoff.
func (m *Memory) DeleteRecommendedPostsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	return m.deletePosts(limit, func(p authrax.RecommendedPost) bool {
		return p.CreatedAt.Before(cutoff)
	}), nil
}

// DeleteUsedExpiredRecommendedPosts deletes up to limit used posts past their expiry.
func (m *Memory) DeleteUsedExpiredRecommendedPosts(ctx context.Context, now time.Time, limit int) (int, error) {
	return m.deletePosts(limit, func(p authrax.RecommendedPost) bool {
		return p.IsUsed && p.ExpiresAt.Before(now)
	}), nil
}

// ActiveVoiceProfile returns the user's active profile.
func (m *Memory) ActiveVoiceProfile(ctx context.Context, uid string) (*authrax.VoiceProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.voice[uid] {
		if p.IsActive {
			return &p, nil
		}
	}
	return nil, notFound("storage.active_voice_profile", "voice profile for "+uid)
}

// VoiceProfiles returns every profile of a user ordered by version.
func (m *Memory) VoiceProfiles(uid string) []authrax.VoiceProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]authrax.VoiceProfile, 0, len(m.voice[uid]))
	for _, p := range m.voice[uid] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// PutVoiceProfile stores a profile as-is, for seeding.
func (m *Memory) PutVoiceProfile(p authrax.VoiceProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.voice[p.UserID] == nil {
		m.voice[p.UserID] = make(map[string]authrax.VoiceProfile)
	}
	m.voice[p.UserID][p.ID] = p
}

// ReplaceActiveVoiceProfile archives every active profile of uid and stores
// next as the new active profile under one lock.
func (m *Memory) ReplaceActiveVoiceProfile(ctx context.Context, uid string, next *authrax.VoiceProfile, now time.Time) (*authrax.VoiceProfile, error) {
	if next.ID == "" {
		return nil, errors.New("voice profile without id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	profiles := m.voice[uid]
	if profiles == nil {
		profiles = make(map[string]authrax.VoiceProfile)
		m.voice[uid] = profiles
	}

	var prevActive, prevAny float64
	hasActive := false
	for _, p := range profiles {
		prevAny = max(prevAny, p.Version)
		if p.IsActive {
			hasActive = true
			prevActive = max(prevActive, p.Version)
		}
	}
	prev := prevAny
	if hasActive {
		prev = prevActive
	}

	archivedAt := now
	for id, p := range profiles {
		if p.IsActive {
			p.IsActive = false
			p.ArchivedAt = &archivedAt
			profiles[id] = p
		}
	}

	written := *next
	written.UserID = uid
	written.Version = NextVoiceVersion(prev)
	written.IsActive = true
	written.ArchivedAt = nil
	if written.CreatedAt.IsZero() {
		written.CreatedAt = now
	}
	profiles[written.ID] = written
	return &written, nil
}

func (m *Memory) filterPosts(keep func(authrax.RecommendedPost) bool) []authrax.RecommendedPost {
	var out []authrax.RecommendedPost
	for _, p := range m.recommended {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func (m *Memory) deletePosts(limit int, match func(authrax.RecommendedPost) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0)
	for id, p := range m.recommended {
		if match(p) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(m.recommended, id)
	}
	return len(ids)
}

func newestFirst(posts []authrax.RecommendedPost, limit int) []authrax.RecommendedPost {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].CreatedAt.After(posts[j].CreatedAt)
		}
		return posts[i].ID > posts[j].ID
	})
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts
}
