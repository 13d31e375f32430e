package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"authrax/pkg/authrax"
)

func TestArchiveLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchive(nil, "", t.TempDir(), logger)

	if err := a.Put(ctx, "voice-payloads/u1/01B.json", []byte(`{"b":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := a.Put(ctx, "voice-payloads/u1/01A.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := a.Put(ctx, "voice-payloads/u2/01C.json", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	data, err := a.Get(ctx, "voice-payloads/u1/01A.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("Get() = %q", data)
	}

	keys, err := a.List(ctx, "voice-payloads/u1/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"voice-payloads/u1/01A.json", "voice-payloads/u1/01B.json"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("List() = %v, want %v", keys, want)
	}

	none, err := a.List(ctx, "voice-payloads/nobody/")
	if err != nil || len(none) != 0 {
		t.Errorf("List(missing) = %v, %v", none, err)
	}

	_, err = a.Get(ctx, "voice-payloads/u1/missing.json")
	if !authrax.IsKind(err, authrax.NotFound) {
		t.Errorf("Get(missing) kind = %v, want not_found", authrax.KindOf(err))
	}
}

func TestArchiveRejectsUnsafeKeys(t *testing.T) {
	a := NewArchive(nil, "", t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, key := range []string{"", "/etc/passwd", "../escape.json", "a//b", "a/./b", `a\b`} {
		if err := a.Put(context.Background(), key, []byte("x")); !authrax.IsKind(err, authrax.InvalidArgument) {
			t.Errorf("Put(%q) error = %v, want invalid_argument", key, err)
		}
	}
}
