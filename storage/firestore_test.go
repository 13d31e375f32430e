package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"authrax/pkg/authrax"
	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"
)

// newEmulatorStore connects to the Firestore emulator, skipping when it is not running.
func newEmulatorStore(t *testing.T) *Firestore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), "authrax-test")
	if err != nil {
		t.Fatalf("firestore.NewClient() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewFirestore(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFirestoreVoiceProfileVersioning(t *testing.T) {
	f := newEmulatorStore(t)
	ctx := context.Background()
	uid := "user-" + ulid.Make().String()
	now := time.Now().UTC().Truncate(time.Millisecond)

	first, err := f.ReplaceActiveVoiceProfile(ctx, uid, &authrax.VoiceProfile{ID: ulid.Make().String(), Source: "test"}, now)
	if err != nil {
		t.Fatalf("first replace: %v", err)
	}
	second, err := f.ReplaceActiveVoiceProfile(ctx, uid, &authrax.VoiceProfile{ID: ulid.Make().String(), Source: "test"}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second replace: %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Errorf("versions = %v, %v; want 1, 2", first.Version, second.Version)
	}

	active, err := f.ActiveVoiceProfile(ctx, uid)
	if err != nil {
		t.Fatal(err)
	}
	if active.ID != second.ID {
		t.Errorf("active = %q, want %q", active.ID, second.ID)
	}
}

func TestFirestoreCacheUpsert(t *testing.T) {
	f := newEmulatorStore(t)
	ctx := context.Background()
	topic := "topic-" + ulid.Make().String()

	entry := authrax.CacheEntry{Topic: topic, Timeframe: authrax.TimeframeWeek, ItemType: authrax.ItemNews, SourceID: "https://example.com/a", FetchedAt: time.Now()}
	for range 2 {
		if err := f.PutCacheEntries(ctx, []authrax.CacheEntry{entry}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := f.CachedEntries(ctx, authrax.CacheQuery{Topic: topic, Timeframe: authrax.TimeframeWeek, Since: time.Now().Add(-time.Hour), Limit: 50})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d entries, want 1", len(got))
	}
}
