package core

import (
	"context"
	"testing"

	"github.com/tabkeeper/tabkeeper/internal/bookmarks"
	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/kv"
)

func TestDefaultConfigIsValidShape(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ChromePort == "" {
		t.Error("expected a non-empty default chrome port")
	}
	if cfg.KVPath == "" {
		t.Error("expected a non-empty default kv path")
	}
	if cfg.EvalAlarmPeriodMS <= 0 {
		t.Errorf("expected a positive default eval alarm period, got %d", cfg.EvalAlarmPeriodMS)
	}
}

func TestNewDoesNotOpenAnything(t *testing.T) {
	c := New(DefaultConfig())
	if c.store != nil || c.browser != nil || c.logSink != nil {
		t.Error("New must not open any collaborator before Start")
	}
}

func TestStopBeforeStartIsANoOp(t *testing.T) {
	c := New(DefaultConfig())
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestSeedAndPersistBookmarkFolderRoundTrip(t *testing.T) {
	store := kv.NewMemStore()
	c := &Core{store: store, bookmarker: bookmarks.New(browserapi.NewFake(), false)}

	ctx := context.Background()
	c.seedBookmarkFolder(ctx) // nothing stored yet: must not panic or set a folder id
	if got := c.bookmarker.FolderID(); got != "" {
		t.Errorf("expected empty folder id before any bookmark state is stored, got %q", got)
	}

	c.bookmarker.SeedFolderID("folder-123")
	if err := c.persistBookmarkFolder(ctx); err != nil {
		t.Fatalf("persistBookmarkFolder: %v", err)
	}

	reopened := &Core{store: store, bookmarker: bookmarks.New(browserapi.NewFake(), false)}
	reopened.seedBookmarkFolder(ctx)
	if got := reopened.bookmarker.FolderID(); got != "folder-123" {
		t.Errorf("expected seeded folder id %q, got %q", "folder-123", got)
	}
}

func TestPersistBookmarkFolderNoOpWhenNothingResolved(t *testing.T) {
	store := kv.NewMemStore()
	c := &Core{store: store, bookmarker: bookmarks.New(browserapi.NewFake(), false)}

	if err := c.persistBookmarkFolder(context.Background()); err != nil {
		t.Fatalf("persistBookmarkFolder: %v", err)
	}
	values, err := store.Get(context.Background(), bookmarkStateKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := values[bookmarkStateKey]; ok {
		t.Error("expected no bookmark_state key to be written when no folder was resolved")
	}
}
