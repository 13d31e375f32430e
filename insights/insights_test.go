package insights

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"authrax/pkg/authrax"
	"authrax/storage"
)

const threeInsights = "```json\n" + `[
  {"title": "One", "content": "First angle", "source_type": "news", "source_url": "https://n.example/1"},
  {"title": "Two", "content": "Second angle", "source_type": "linkedin"},
  {"title": "Three", "content": "Third angle"}
]` + "\n```"

type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type fakeSources struct {
	mu       sync.Mutex
	news     int
	linkedin int
}

func (f *fakeSources) SearchNews(_ context.Context, topic string) ([]authrax.NewsItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.news++
	return []authrax.NewsItem{{Title: "Fresh " + topic + " story", Link: "https://n.example/fresh", Source: "Wire"}}, nil
}

func (f *fakeSources) SearchLinkedIn(_ context.Context, topic string) ([]authrax.SocialItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkedin++
	return nil, authrax.Errorf(authrax.UpstreamUnavailable, "linkedin", "HTTP 503")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func newGenerator(llm Completer, store *storage.Memory, src Sources) *Generator {
	return NewGenerator(&Config{
		LLM:     llm,
		Store:   store,
		Sources: src,
		Logger:  discardLogger(),
		Now:     func() time.Time { return testNow },
	})
}

func TestGenerateReusesFreshInsight(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	stored := []authrax.InsightItem{{Title: "Kept", Content: "Body", SourceType: "trend"}}
	if err := store.SaveTopicInsight(ctx, &authrax.TopicInsight{Topic: "ai", Insights: stored, GeneratedAt: testNow.Add(-6 * 24 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	llm := &fakeLLM{reply: threeInsights}
	g := newGenerator(llm, store, &fakeSources{})

	got := g.Generate(ctx, "AI", false)
	if llm.calls != 0 {
		t.Errorf("LLM calls = %d, want 0", llm.calls)
	}
	if !reflect.DeepEqual(got, stored) {
		t.Errorf("Generate() = %+v, want %+v", got, stored)
	}

	got = g.Generate(ctx, "AI", true)
	if llm.calls != 1 || len(got) != 3 {
		t.Errorf("forced generate: calls=%d items=%d, want 1 and 3", llm.calls, len(got))
	}
}

func TestGenerateRegeneratesStaleInsight(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	stale := &authrax.TopicInsight{
		Topic:       "ai",
		Insights:    []authrax.InsightItem{{Title: "Old", Content: "Body"}},
		GeneratedAt: testNow.Add(-8 * 24 * time.Hour),
	}
	if err := store.SaveTopicInsight(ctx, stale); err != nil {
		t.Fatal(err)
	}
	llm := &fakeLLM{reply: threeInsights}
	g := newGenerator(llm, store, &fakeSources{})

	got := g.Generate(ctx, "ai", false)
	if llm.calls != 1 || len(got) != 3 || got[0].Title != "One" {
		t.Fatalf("Generate() = %+v after %d calls", got, llm.calls)
	}

	saved, err := store.TopicInsight(ctx, "ai")
	if err != nil {
		t.Fatal(err)
	}
	if !saved.GeneratedAt.Equal(testNow) || !saved.ExpiresAt.Equal(testNow.Add(MaxAge)) {
		t.Errorf("saved timestamps = %v / %v", saved.GeneratedAt, saved.ExpiresAt)
	}
	if saved.Insights[2].SourceType != "trend" {
		t.Errorf("missing source_type should default to trend, got %q", saved.Insights[2].SourceType)
	}
}

func TestGenerateFetchesContextWhenCacheIsThin(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	if err := store.PutCacheEntries(ctx, []authrax.CacheEntry{
		{Topic: "ai", Timeframe: authrax.TimeframeWeek, ItemType: authrax.ItemNews, SourceID: "https://n.example/cached", Title: "Cached story", FetchedAt: testNow.Add(-time.Hour)},
		{Topic: "ai", Timeframe: authrax.TimeframeWeek, ItemType: authrax.ItemNews, SourceID: "https://n.example/old", Title: "Old story", FetchedAt: testNow.Add(-48 * time.Hour)},
	}); err != nil {
		t.Fatal(err)
	}
	llm := &fakeLLM{reply: threeInsights}
	src := &fakeSources{}
	g := newGenerator(llm, store, src)

	if got := g.Generate(ctx, "AI", false); len(got) != 3 {
		t.Fatalf("Generate() returned %d items", len(got))
	}
	if src.news != 1 || src.linkedin != 1 {
		t.Errorf("source calls = %d/%d, want 1/1", src.news, src.linkedin)
	}

	prompt := llm.prompts[0]
	if !strings.Contains(prompt, "Cached story") || !strings.Contains(prompt, "Fresh AI story") {
		t.Errorf("prompt missing context:\n%s", prompt)
	}
	if strings.Contains(prompt, "Old story") {
		t.Error("prompt should not include items older than 24h")
	}

	entries, err := store.CachedEntries(ctx, authrax.CacheQuery{Topic: "ai", Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range entries {
		if e.SourceID == "https://n.example/fresh" {
			found = e.Timeframe == authrax.TimeframeWeek && e.Topic == "ai"
		}
	}
	if !found {
		t.Error("fetched context should be cached under ai/7d")
	}
}

func TestGenerateSkipsFetchWithEnoughContext(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	var entries []authrax.CacheEntry
	for _, id := range []string{"a", "b", "c"} {
		entries = append(entries, authrax.CacheEntry{Topic: "go", Timeframe: authrax.TimeframeDay, SourceID: id, Title: id, FetchedAt: testNow.Add(-time.Minute)})
	}
	if err := store.PutCacheEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	src := &fakeSources{}
	g := newGenerator(&fakeLLM{reply: threeInsights}, store, src)

	g.Generate(ctx, "go", false)
	if src.news != 0 || src.linkedin != 0 {
		t.Errorf("source calls = %d/%d, want none", src.news, src.linkedin)
	}
}

func TestGenerateFindsFreshContextBehindOldRows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	var entries []authrax.CacheEntry
	for i := range 60 {
		entries = append(entries, authrax.CacheEntry{Topic: "go", Timeframe: authrax.TimeframeMonth, SourceID: fmt.Sprintf("old-%02d", i), Title: "old", FetchedAt: testNow.Add(-72 * time.Hour)})
	}
	for _, id := range []string{"x", "y", "z"} {
		entries = append(entries, authrax.CacheEntry{Topic: "go", Timeframe: authrax.TimeframeWeek, SourceID: id, Title: id, FetchedAt: testNow.Add(-time.Minute)})
	}
	if err := store.PutCacheEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	src := &fakeSources{}
	g := newGenerator(&fakeLLM{reply: threeInsights}, store, src)

	g.Generate(ctx, "go", false)
	if src.news != 0 || src.linkedin != 0 {
		t.Errorf("source calls = %d/%d, want none", src.news, src.linkedin)
	}
}

func TestGenerateFailuresYieldNothing(t *testing.T) {
	tests := []struct {
		name string
		llm  *fakeLLM
	}{
		{"llm error", &fakeLLM{err: errors.New("quota exceeded")}},
		{"malformed reply", &fakeLLM{reply: "I cannot help with that."}},
		{"no usable items", &fakeLLM{reply: `[{"title": "", "content": "x"}]`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			g := newGenerator(tt.llm, store, &fakeSources{})
			if got := g.Generate(context.Background(), "ai", false); got != nil {
				t.Errorf("Generate() = %+v, want nil", got)
			}
			if _, err := store.TopicInsight(context.Background(), "ai"); !authrax.IsKind(err, authrax.NotFound) {
				t.Errorf("nothing should be saved, err = %v", err)
			}
		})
	}
}

func TestGenerateWithoutLLM(t *testing.T) {
	g := newGenerator(nil, storage.NewMemory(), &fakeSources{})
	if g.Configured() {
		t.Error("Configured() = true without an LLM")
	}
	if got := g.Generate(context.Background(), "ai", true); got != nil {
		t.Errorf("Generate() = %+v, want nil", got)
	}
}

func TestParseInsights(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{"bare array", `[{"title":"A","content":"a"}]`, []string{"A"}, false},
		{"wrapped object", `{"insights":[{"title":"A","content":"a"},{"title":"B","content":"b"}]}`, []string{"A", "B"}, false},
		{"fenced", "```json\n[{\"title\":\"A\",\"content\":\"a\"}]\n```", []string{"A"}, false},
		{"fence without language", "```\n{\"insights\":[{\"title\":\"A\",\"content\":\"a\"}]}\n```", []string{"A"}, false},
		{"surrounding prose", `Here you go: [{"title":"A","content":"a"}] Enjoy!`, []string{"A"}, false},
		{"drops incomplete", `[{"title":"A"},{"content":"b"},{"title":"C","content":"c"}]`, []string{"C"}, false},
		{"caps at three", `[{"title":"1","content":"x"},{"title":"2","content":"x"},{"title":"3","content":"x"},{"title":"4","content":"x"}]`, []string{"1", "2", "3"}, false},
		{"not json", "sorry", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInsights(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseInsights() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !authrax.IsKind(err, authrax.MalformedResponse) {
					t.Errorf("error kind = %v, want malformed_response", authrax.KindOf(err))
				}
				return
			}
			var titles []string
			for _, it := range got {
				titles = append(titles, it.Title)
			}
			if !reflect.DeepEqual(titles, tt.want) {
				t.Errorf("titles = %v, want %v", titles, tt.want)
			}
		})
	}
}

type fakeInsights struct {
	mu         sync.Mutex
	configured bool
	topics     []string
}

func (f *fakeInsights) Configured() bool { return f.configured }

func (f *fakeInsights) Generate(_ context.Context, topic string, _ bool) []authrax.InsightItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	if topic == "empty" {
		return nil
	}
	return []authrax.InsightItem{
		{Title: topic + " 1", Content: "c", SourceType: "news"},
		{Title: topic + " 2", Content: "c", SourceType: "trend"},
	}
}

func newRecommender(gen InsightSource, store *storage.Memory) *Recommender {
	return NewRecommender(&RecommenderConfig{
		Insights: gen,
		Store:    store,
		Logger:   discardLogger(),
		Now:      func() time.Time { return testNow },
	})
}

func TestRecommendRequiresLLM(t *testing.T) {
	r := newRecommender(&fakeInsights{}, storage.NewMemory())
	_, err := r.Recommend(context.Background(), "u1", []string{"ai"})
	if !authrax.IsKind(err, authrax.ConfigMissing) {
		t.Errorf("Recommend() error = %v, want config_missing", err)
	}
}

func TestRecommendValidatesTopics(t *testing.T) {
	r := newRecommender(&fakeInsights{configured: true}, storage.NewMemory())
	_, err := r.Recommend(context.Background(), "u1", []string{" ", ""})
	if !authrax.IsKind(err, authrax.InvalidArgument) {
		t.Errorf("Recommend() error = %v, want invalid_argument", err)
	}
}

func TestRecommendLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	gen := &fakeInsights{configured: true}
	r := newRecommender(gen, store)

	topics := []string{"AI", "ai", "Go", "empty", "Rust", "Cloud", "Sixth"}
	posts, err := r.Recommend(ctx, "u1", topics)
	if err != nil {
		t.Fatalf("Recommend() error = %v", err)
	}
	if len(gen.topics) != 5 {
		t.Errorf("generated for %d topics, want 5 (deduped, capped): %v", len(gen.topics), gen.topics)
	}
	if len(posts) != 8 {
		t.Fatalf("got %d posts, want 8", len(posts))
	}
	ids := make(map[string]bool)
	for _, p := range posts {
		if p.ID == "" || ids[p.ID] {
			t.Errorf("post id %q missing or duplicated", p.ID)
		}
		ids[p.ID] = true
		if p.UserID != "u1" || p.IsUsed || !p.ExpiresAt.Equal(testNow.Add(7*24*time.Hour)) {
			t.Errorf("post = %+v", p)
		}
	}
	if posts[0].Topic != "ai" {
		t.Errorf("topic = %q, want lowercased", posts[0].Topic)
	}

	listed, err := r.List(ctx, "u1")
	if err != nil || len(listed) != 8 {
		t.Fatalf("List() = %d posts, %v", len(listed), err)
	}
	other, err := r.List(ctx, "u2")
	if err != nil || other == nil || len(other) != 0 {
		t.Errorf("List(u2) = %v, %v; want empty", other, err)
	}

	if err := r.MarkUsed(ctx, "u2", posts[0].ID); !authrax.IsKind(err, authrax.NotFound) {
		t.Errorf("MarkUsed(other user) error = %v, want not_found", err)
	}
	if err := r.MarkUsed(ctx, "u1", posts[0].ID); err != nil {
		t.Fatalf("MarkUsed() error = %v", err)
	}
	listed, _ = r.List(ctx, "u1")
	if len(listed) != 7 {
		t.Errorf("after MarkUsed List() = %d posts, want 7", len(listed))
	}
}
