package settings

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tabkeeper/tabkeeper/internal/kv"
)

func TestValidateThresholdsStrictlyIncreasing(t *testing.T) {
	s := Defaults()
	s.Thresholds.YellowToRed = s.Thresholds.GreenToYellow // not strictly increasing
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for non-increasing thresholds")
	}
}

func TestValidateEmptyBookmarkFolderRejected(t *testing.T) {
	s := Defaults()
	s.BookmarkFolderName = ""
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for empty bookmark_folder_name")
	}
}

func TestValidateNonPositiveAutoNameDelayRejected(t *testing.T) {
	s := Defaults()
	s.AutoNameDelayMinutes = 0
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for non-positive auto_name_delay_minutes")
	}
}

func TestValidateDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

// v1Blob mimics what a pre-migration v1 settings JSON object looked like:
// only the fields v1 actually had.
type v1Blob struct {
	SchemaVersion int        `json:"schema_version"`
	TimeMode      TimeMode   `json:"time_mode"`
	Thresholds    Thresholds `json:"thresholds"`
}

func TestMigrateV1ToV2Additive(t *testing.T) {
	v1 := v1Blob{
		SchemaVersion: 1,
		TimeMode:      TimeModeWallclock,
		Thresholds: Thresholds{
			GreenToYellow: 1 * time.Minute,
			YellowToRed:   2 * time.Minute,
			RedToGone:     3 * time.Minute,
		},
	}
	raw, _ := json.Marshal(v1)

	var intoV2 Settings
	if err := json.Unmarshal(raw, &intoV2); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	migrated := MigrateV1ToV2(intoV2)

	if migrated.TimeMode != TimeModeWallclock {
		t.Errorf("expected existing time_mode preserved, got %v", migrated.TimeMode)
	}
	if migrated.Thresholds.GreenToYellow != 1*time.Minute {
		t.Errorf("expected existing threshold preserved, got %v", migrated.Thresholds.GreenToYellow)
	}
	if migrated.BookmarkFolderName != Defaults().BookmarkFolderName {
		t.Errorf("expected new field to get default, got %q", migrated.BookmarkFolderName)
	}
	if !migrated.AgingEnabled {
		t.Errorf("expected new toggle to default true")
	}
	if migrated.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("expected schema_version bumped to %d, got %d", CurrentSchemaVersion, migrated.SchemaVersion)
	}
}

func TestMigrateV1ToV2IdempotentOnDefaults(t *testing.T) {
	d := Defaults()
	once := MigrateV1ToV2(d)
	twice := MigrateV1ToV2(once)
	if once != twice {
		t.Fatalf("expected migration to be identity on an already-migrated blob:\n%+v\n%+v", once, twice)
	}
}

func TestModelLoadAppliesDefaultsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := NewModel(store)

	loaded, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != Defaults() {
		t.Fatalf("expected defaults on empty store, got %+v", loaded)
	}

	// Persisted so a second Model sees the same blob without a file on disk.
	m2 := NewModel(store)
	reloaded, err := m2.Load(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded != loaded {
		t.Fatalf("expected load-save-load identity, got %+v vs %+v", reloaded, loaded)
	}
}

func TestModelSaveRejectsInvalidAndKeepsOld(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := NewModel(store)
	if _, err := m.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	bad := m.Current()
	bad.BookmarkFolderName = ""
	if err := m.Save(ctx, bad); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Current().BookmarkFolderName == "" {
		t.Fatal("expected old settings retained after rejected save")
	}
}

func TestModelOnChangeFiresWithOldAndNew(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemStore()
	m := NewModel(store)
	if _, err := m.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	var gotOld, gotNew Settings
	called := false
	m.OnChange(func(old, new Settings) {
		called = true
		gotOld, gotNew = old, new
	})

	next := m.Current()
	next.AgingEnabled = false
	if err := m.Save(ctx, next); err != nil {
		t.Fatalf("save: %v", err)
	}

	if !called {
		t.Fatal("expected OnChange callback to fire")
	}
	if !gotOld.AgingEnabled || gotNew.AgingEnabled {
		t.Fatalf("expected old.AgingEnabled=true new.AgingEnabled=false, got old=%v new=%v", gotOld.AgingEnabled, gotNew.AgingEnabled)
	}
}
