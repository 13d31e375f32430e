package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authrax/pkg/authrax"
	"cloud.google.com/go/firestore"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Firestore is the production store.
type Firestore struct {
	client *firestore.Client
	logger *slog.Logger
}

// NewFirestore creates a Firestore-backed store.
func NewFirestore(client *firestore.Client, logger *slog.Logger) *Firestore {
	return &Firestore{client: client, logger: logger}
}

// Close releases the underlying client.
func (f *Firestore) Close() error {
	return f.client.Close()
}

// CachedEntries returns the newest cache entries matching q. The query needs
// the composite index topic, timeframe, fetched_at desc.
func (f *Firestore) CachedEntries(ctx context.Context, q authrax.CacheQuery) ([]authrax.CacheEntry, error) {
	query := f.client.Collection(CacheCollection).Where("topic", "==", authrax.NormalizeTopic(q.Topic))
	if q.Timeframe != "" {
		query = query.Where("timeframe", "==", string(q.Timeframe))
	}
	if !q.Since.IsZero() {
		query = query.Where("fetched_at", ">", q.Since)
	}
	docs, err := query.OrderBy("fetched_at", firestore.Desc).
		Limit(q.Limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}

	entries := make([]authrax.CacheEntry, 0, len(docs))
	for _, doc := range docs {
		var e authrax.CacheEntry
		if err := doc.DataTo(&e); err != nil {
			f.logger.Warn("Skipping unreadable cache entry", "id", doc.Ref.ID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// PutCacheEntries upserts entries keyed by CacheDocID.
func (f *Firestore) PutCacheEntries(ctx context.Context, entries []authrax.CacheEntry) error {
	col := f.client.Collection(CacheCollection)
	return f.commitChunks(ctx, "put_cache_entries", len(entries), func(b *firestore.WriteBatch, i int) {
		e := entries[i]
		b.Set(col.Doc(CacheDocID(e.Topic, e.Timeframe, e.SourceID)), e)
	})
}

// TopicInsight loads the insight document for a topic.
func (f *Firestore) TopicInsight(ctx context.Context, topic string) (*authrax.TopicInsight, error) {
	key := authrax.NormalizeTopic(topic)
	doc, err := f.client.Collection(InsightCollection).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, notFound("storage.topic_insight", key)
		}
		return nil, fmt.Errorf("get topic insight: %w", err)
	}

	var ti authrax.TopicInsight
	if err := doc.DataTo(&ti); err != nil {
		return nil, fmt.Errorf("decode topic insight: %w", err)
	}
	return &ti, nil
}

// SaveTopicInsight overwrites the insight document for ti.Topic.
func (f *Firestore) SaveTopicInsight(ctx context.Context, ti *authrax.TopicInsight) error {
	key := authrax.NormalizeTopic(ti.Topic)
	ref := f.client.Collection(InsightCollection).Doc(key)
	err := retry.Do(
		func() error {
			_, err := ref.Set(ctx, ti)
			return err
		},
		retryOptions(f.logger, "save_topic_insight", retry.Context(ctx))...,
	)
	if err != nil {
		return fmt.Errorf("save topic insight after retries: %w", err)
	}
	return nil
}

// AddRecommendedPosts writes posts in batches. Each post must carry an ID.
func (f *Firestore) AddRecommendedPosts(ctx context.Context, posts []authrax.RecommendedPost) error {
	col := f.client.Collection(RecommendedCollection)
	for _, p := range posts {
		if p.ID == "" {
			return errors.New("recommended post without id")
		}
	}
	return f.commitChunks(ctx, "add_recommended_posts", len(posts), func(b *firestore.WriteBatch, i int) {
		b.Set(col.Doc(posts[i].ID), posts[i])
	})
}

// RecentRecommendedPosts returns the most recently created posts of all users.
func (f *Firestore) RecentRecommendedPosts(ctx context.Context, limit int) ([]authrax.RecommendedPost, error) {
	docs, err := f.client.Collection(RecommendedCollection).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query recent recommended posts: %w", err)
	}
	return f.decodePosts(docs), nil
}

// UserRecommendedPosts returns a user's unused, unexpired posts, newest first.
func (f *Firestore) UserRecommendedPosts(ctx context.Context, uid string, now time.Time, limit int) ([]authrax.RecommendedPost, error) {
	docs, err := f.client.Collection(RecommendedCollection).
		Where("user_id", "==", uid).
		Where("is_used", "==", false).
		OrderBy("created_at", firestore.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query user recommended posts: %w", err)
	}

	var live []authrax.RecommendedPost
	for _, p := range f.decodePosts(docs) {
		if p.ExpiresAt.After(now) {
			live = append(live, p)
		}
	}
	return live, nil
}

// MarkRecommendedPostUsed flags a post owned by uid as used.
func (f *Firestore) MarkRecommendedPostUsed(ctx context.Context, uid, id string, now time.Time) error {
	ref := f.client.Collection(RecommendedCollection).Doc(id)
	return f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return notFound("storage.mark_used", "recommended post "+id)
			}
			return fmt.Errorf("get recommended post: %w", err)
		}
		var p authrax.RecommendedPost
		if err := doc.DataTo(&p); err != nil {
			return fmt.Errorf("decode recommended post: %w", err)
		}
		if p.UserID != uid {
			return notFound("storage.mark_used", "recommended post "+id)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "is_used", Value: true},
			{Path: "used_at", Value: now},
		})
	})
}

// DeleteRecommendedPostsBefore deletes up to limit posts created before cutoff.
func (f *Firestore) DeleteRecommendedPostsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	q := f.client.Collection(RecommendedCollection).Where("created_at", "<", cutoff).Limit(limit)
	return f.deleteQuery(ctx, "delete_old_recommended_posts", q)
}

// DeleteUsedExpiredRecommendedPosts deletes up to limit used posts past their expiry.
func (f *Firestore) DeleteUsedExpiredRecommendedPosts(ctx context.Context, now time.Time, limit int) (int, error) {
	q := f.client.Collection(RecommendedCollection).
		Where("is_used", "==", true).
		Where("expires_at", "<", now).
		Limit(limit)
	return f.deleteQuery(ctx, "delete_used_recommended_posts", q)
}

func (f *Firestore) voiceProfiles(uid string) *firestore.CollectionRef {
	return f.client.Collection(UsersCollection).Doc(uid).Collection(VoiceCollection)
}

// ActiveVoiceProfile returns the user's active profile.
func (f *Firestore) ActiveVoiceProfile(ctx context.Context, uid string) (*authrax.VoiceProfile, error) {
	docs, err := f.voiceProfiles(uid).Where("isActive", "==", true).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query active voice profile: %w", err)
	}
	if len(docs) == 0 {
		return nil, notFound("storage.active_voice_profile", "voice profile for "+uid)
	}
	return decodeProfile(docs[0])
}

// ReplaceActiveVoiceProfile archives every active profile of uid and writes
// next as the new active profile, in one transaction. next.ID must be set;
// next.Version is assigned from the previous profile.
func (f *Firestore) ReplaceActiveVoiceProfile(ctx context.Context, uid string, next *authrax.VoiceProfile, now time.Time) (*authrax.VoiceProfile, error) {
	if next.ID == "" {
		return nil, errors.New("voice profile without id")
	}
	col := f.voiceProfiles(uid)

	var written authrax.VoiceProfile
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		active, err := tx.Documents(col.Where("isActive", "==", true)).GetAll()
		if err != nil {
			return fmt.Errorf("read active profiles: %w", err)
		}

		var prev float64
		for _, doc := range active {
			p, err := decodeProfile(doc)
			if err != nil {
				return err
			}
			prev = max(prev, p.Version)
		}
		if len(active) == 0 {
			// Keep versions monotonic if the active profile was lost.
			latest, err := tx.Documents(col.OrderBy("version", firestore.Desc).Limit(1)).GetAll()
			if err != nil {
				return fmt.Errorf("read latest profile: %w", err)
			}
			if len(latest) > 0 {
				p, err := decodeProfile(latest[0])
				if err != nil {
					return err
				}
				prev = p.Version
			}
		}

		for _, doc := range active {
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "isActive", Value: false},
				{Path: "archivedAt", Value: now},
			}); err != nil {
				return fmt.Errorf("archive profile %s: %w", doc.Ref.ID, err)
			}
		}

		written = *next
		written.UserID = uid
		written.Version = NextVoiceVersion(prev)
		written.IsActive = true
		written.ArchivedAt = nil
		if written.CreatedAt.IsZero() {
			written.CreatedAt = now
		}
		return tx.Set(col.Doc(written.ID), &written)
	})
	if err != nil {
		return nil, fmt.Errorf("replace voice profile: %w", err)
	}

	f.logger.Info("Voice profile replaced", "user_id", uid, "profile_id", written.ID, "version", written.Version)
	return &written, nil
}

func decodeProfile(doc *firestore.DocumentSnapshot) (*authrax.VoiceProfile, error) {
	var p authrax.VoiceProfile
	if err := doc.DataTo(&p); err != nil {
		return nil, fmt.Errorf("decode voice profile %s: %w", doc.Ref.ID, err)
	}
	p.ID = doc.Ref.ID
	return &p, nil
}

func (f *Firestore) decodePosts(docs []*firestore.DocumentSnapshot) []authrax.RecommendedPost {
	posts := make([]authrax.RecommendedPost, 0, len(docs))
	for _, doc := range docs {
		var p authrax.RecommendedPost
		if err := doc.DataTo(&p); err != nil {
			f.logger.Warn("Skipping unreadable recommended post", "id", doc.Ref.ID, "error", err)
			continue
		}
		p.ID = doc.Ref.ID
		posts = append(posts, p)
	}
	return posts
}

func (f *Firestore) deleteQuery(ctx context.Context, op string, q firestore.Query) (int, error) {
	docs, err := q.Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("%s: query: %w", op, err)
	}
	if err := f.commitChunks(ctx, op, len(docs), func(b *firestore.WriteBatch, i int) {
		b.Delete(docs[i].Ref)
	}); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// commitChunks writes n operations in batches of maxBatchWrites. A batch is
// rebuilt on every retry attempt since a committed batch cannot be reused.
func (f *Firestore) commitChunks(ctx context.Context, op string, n int, add func(b *firestore.WriteBatch, i int)) error {
	for start := 0; start < n; start += maxBatchWrites {
		end := min(start+maxBatchWrites, n)
		err := retry.Do(
			func() error {
				b := f.client.Batch()
				for i := start; i < end; i++ {
					add(b, i)
				}
				_, err := b.Commit(ctx)
				return err
			},
			retryOptions(f.logger, op, retry.Context(ctx))...,
		)
		if err != nil {
			return fmt.Errorf("%s: commit after retries: %w", op, err)
		}
		f.logger.Debug("Batch committed", "op", op, "writes", end-start)
	}
	return nil
}
