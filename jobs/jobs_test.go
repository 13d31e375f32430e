package jobs

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"authrax/pkg/authrax"
	"authrax/storage"
)

var testNow = time.Date(2026, 5, 20, 3, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestCleanupRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	posts := []authrax.RecommendedPost{
		{ID: "old", UserID: "u", CreatedAt: testNow.Add(-days(91)), ExpiresAt: testNow.Add(-days(84))},
		{ID: "used-expired", UserID: "u", CreatedAt: testNow.Add(-days(10)), ExpiresAt: testNow.Add(-days(3)), IsUsed: true},
		{ID: "used-live", UserID: "u", CreatedAt: testNow.Add(-days(1)), ExpiresAt: testNow.Add(days(6)), IsUsed: true},
		{ID: "unused-expired", UserID: "u", CreatedAt: testNow.Add(-days(10)), ExpiresAt: testNow.Add(-days(3))},
	}
	if err := store.AddRecommendedPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}

	c := NewCleanup(store, discardLogger())
	c.now = func() time.Time { return testNow }

	deleted, err := c.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	for id, want := range map[string]bool{"old": false, "used-expired": false, "used-live": true, "unused-expired": true} {
		if _, ok := store.RecommendedPost(id); ok != want {
			t.Errorf("post %q present = %v, want %v", id, ok, want)
		}
	}
}

type budgetStore struct {
	old       int
	usedLimit int
}

func (b *budgetStore) DeleteRecommendedPostsBefore(_ context.Context, _ time.Time, limit int) (int, error) {
	return min(b.old, limit), nil
}

func (b *budgetStore) DeleteUsedExpiredRecommendedPosts(_ context.Context, _ time.Time, limit int) (int, error) {
	b.usedLimit = limit
	return 0, nil
}

func TestCleanupBudget(t *testing.T) {
	tests := []struct {
		old           int
		wantDeleted   int
		wantUsedLimit int
	}{
		{old: 0, wantDeleted: 0, wantUsedLimit: 400},
		{old: 150, wantDeleted: 150, wantUsedLimit: 250},
		{old: 1000, wantDeleted: 400, wantUsedLimit: 0},
	}
	for _, tt := range tests {
		store := &budgetStore{old: tt.old}
		got, err := NewCleanup(store, discardLogger()).Run(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.wantDeleted || store.usedLimit != tt.wantUsedLimit {
			t.Errorf("old=%d: deleted=%d usedLimit=%d, want %d/%d", tt.old, got, store.usedLimit, tt.wantDeleted, tt.wantUsedLimit)
		}
	}
}

func TestRankTopics(t *testing.T) {
	var posts []authrax.RecommendedPost
	add := func(topic string, n int) {
		for range n {
			posts = append(posts, authrax.RecommendedPost{Topic: topic})
		}
	}
	add("Go", 2)
	add("go", 1)
	add("rust", 3)
	add("ai", 3)
	add("cloud", 1)
	add("", 5)

	got := rankTopics(posts, 3)
	want := []string{"ai", "go", "rust"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rankTopics() = %v, want %v", got, want)
	}
}

type countingGenerator struct {
	topics []string
	empty  map[string]bool
}

func (g *countingGenerator) Generate(_ context.Context, topic string, force bool) []authrax.InsightItem {
	if !force {
		panic("topic worker must force regeneration")
	}
	g.topics = append(g.topics, topic)
	if g.empty[topic] {
		return nil
	}
	return []authrax.InsightItem{{Title: topic, Content: "c"}}
}

func TestTopicWorkerRun(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	var posts []authrax.RecommendedPost
	for i, topic := range []string{"ai", "ai", "ai", "go", "go", "rust", "cloud"} {
		posts = append(posts, authrax.RecommendedPost{ID: string(rune('a' + i)), UserID: "u", Topic: topic, CreatedAt: testNow.Add(-time.Duration(i) * time.Minute)})
	}
	if err := store.AddRecommendedPosts(ctx, posts); err != nil {
		t.Fatal(err)
	}
	fresh := &authrax.TopicInsight{Topic: "go", Insights: []authrax.InsightItem{{Title: "t", Content: "c"}}, GeneratedAt: testNow.Add(-days(2))}
	stale := &authrax.TopicInsight{Topic: "rust", Insights: []authrax.InsightItem{{Title: "t", Content: "c"}}, GeneratedAt: testNow.Add(-days(8))}
	for _, ti := range []*authrax.TopicInsight{fresh, stale} {
		if err := store.SaveTopicInsight(ctx, ti); err != nil {
			t.Fatal(err)
		}
	}

	gen := &countingGenerator{empty: map[string]bool{"cloud": true}}
	w := NewTopicWorker(store, gen, discardLogger())
	w.now = func() time.Time { return testNow }
	var pauses int
	w.sleep = func(context.Context, time.Duration) error {
		pauses++
		return nil
	}

	report, err := w.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"ai", "cloud", "rust"}; !reflect.DeepEqual(gen.topics, want) {
		t.Errorf("generated topics = %v, want %v", gen.topics, want)
	}
	if report.Generated != 2 || report.Skipped != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if pauses != 2 {
		t.Errorf("pauses = %d, want 2 (between generations)", pauses)
	}
}

func TestTopicWorkerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemory()
	if err := store.AddRecommendedPosts(ctx, []authrax.RecommendedPost{
		{ID: "1", Topic: "ai", CreatedAt: testNow},
		{ID: "2", Topic: "go", CreatedAt: testNow},
	}); err != nil {
		t.Fatal(err)
	}

	gen := &countingGenerator{}
	w := NewTopicWorker(store, gen, discardLogger())
	w.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if _, err := w.Run(ctx); err == nil {
		t.Error("Run() should return the cancellation error")
	}
	if len(gen.topics) != 1 {
		t.Errorf("generated %d topics after cancel, want 1", len(gen.topics))
	}
}

func TestRunEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		RunEvery(ctx, discardLogger(), "test", time.Millisecond, func(context.Context) error {
			if runs.Add(1) == 3 {
				cancel()
			}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunEvery did not stop after cancel")
	}
	if n := runs.Load(); n < 3 {
		t.Errorf("runs = %d, want at least 3", n)
	}
}
