package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"blockworld/server/internal/persistence"
	"blockworld/server/internal/world"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "players.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestLoadMissingPlayer(t *testing.T) {
	store := openTempStore(t)
	_, err := store.Load(context.Background(), "nobody")
	if !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveThenLoadIgnoresNameCase(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	if err := store.Save(ctx, "Alice", world.Attributes{"logins": 3, "title": "builder"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "alice", world.Attributes{"logins": 4, "title": "builder"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	attrs, err := store.Load(ctx, "ALICE")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := map[string]any{"logins": attrs.Int("logins"), "title": attrs.String("title")}
	want := map[string]any{"logins": 4, "title": "builder"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected attributes (-want +got):\n%s", diff)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestReopenKeepsDataAndMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "players.sqlite")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Save(context.Background(), "bob", world.Attributes{"score": 7}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	attrs, err := reopened.Load(context.Background(), "bob")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if attrs.Int("score") != 7 {
		t.Fatalf("expected score 7, got %v", attrs)
	}
}

func TestCanceledContext(t *testing.T) {
	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Save(ctx, "x", world.Attributes{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := store.Load(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestUpSectionStopsAtDown(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n")
	if got != "\nCREATE TABLE a (x);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
}
