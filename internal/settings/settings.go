// Package settings implements the typed Settings v2 blob, its v1→v2
// migration, validation, and a change-subscription surface for the
// reactive dispatcher (spec.md §3, §4.2). It is grounded on the teacher's
// internal/config package (typed struct + Validate + yaml loading),
// generalized from a single flat struct into a versioned, migrating blob.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tabkeeper/tabkeeper/internal/kv"
)

// CurrentSchemaVersion is the schema version this package writes.
const CurrentSchemaVersion = 2

// TimeMode selects which clock Status Evaluator ages tabs against.
type TimeMode string

const (
	TimeModeActive    TimeMode = "active"
	TimeModeWallclock TimeMode = "wallclock"
)

// Thresholds is the ordered triple of aging-transition durations.
type Thresholds struct {
	GreenToYellow time.Duration `json:"green_to_yellow_ms" yaml:"green_to_yellow_ms"`
	YellowToRed   time.Duration `json:"yellow_to_red_ms" yaml:"yellow_to_red_ms"`
	RedToGone     time.Duration `json:"red_to_gone_ms" yaml:"red_to_gone_ms"`
}

// Settings is the single typed v2 blob, spec.md §3. Carries both json
// tags (the authoritative KV representation, spec.md §6) and yaml tags
// (the on-disk seed/export format internal/settings/yamlio.go reads and
// writes), the same division the teacher draws between its YAML config
// file and its JSONL event log.
type Settings struct {
	SchemaVersion int        `json:"schema_version" yaml:"schema_version"`
	TimeMode      TimeMode   `json:"time_mode" yaml:"time_mode"`
	Thresholds    Thresholds `json:"thresholds" yaml:"thresholds"`

	AgingEnabled             bool `json:"aging_enabled" yaml:"aging_enabled"`
	TabSortingEnabled        bool `json:"tab_sorting_enabled" yaml:"tab_sorting_enabled"`
	TabGroupSortingEnabled   bool `json:"tabgroup_sorting_enabled" yaml:"tabgroup_sorting_enabled"`
	TabGroupColoringEnabled  bool `json:"tabgroup_coloring_enabled" yaml:"tabgroup_coloring_enabled"`
	ShowGroupAgeEnabled      bool `json:"show_group_age_enabled" yaml:"show_group_age_enabled"`
	GreenToYellowEnabled     bool `json:"green_to_yellow_enabled" yaml:"green_to_yellow_enabled"`
	YellowToRedEnabled       bool `json:"yellow_to_red_enabled" yaml:"yellow_to_red_enabled"`
	RedToGoneEnabled         bool `json:"red_to_gone_enabled" yaml:"red_to_gone_enabled"`
	AutoGroupEnabled         bool `json:"auto_group_enabled" yaml:"auto_group_enabled"`
	AutoGroupNamingEnabled   bool `json:"auto_group_naming_enabled" yaml:"auto_group_naming_enabled"`
	BookmarkEnabled          bool `json:"bookmark_enabled" yaml:"bookmark_enabled"`

	YellowGroupName    string `json:"yellow_group_name" yaml:"yellow_group_name"`
	RedGroupName       string `json:"red_group_name" yaml:"red_group_name"`
	BookmarkFolderName string `json:"bookmark_folder_name" yaml:"bookmark_folder_name"`

	AutoNameDelayMinutes int `json:"auto_name_delay_minutes" yaml:"auto_name_delay_minutes"`
}

// Defaults returns the out-of-the-box v2 settings blob.
func Defaults() Settings {
	return Settings{
		SchemaVersion: CurrentSchemaVersion,
		TimeMode:      TimeModeActive,
		Thresholds: Thresholds{
			GreenToYellow: 30 * time.Minute,
			YellowToRed:   2 * time.Hour,
			RedToGone:     24 * time.Hour,
		},
		AgingEnabled:            true,
		TabSortingEnabled:       true,
		TabGroupSortingEnabled:  true,
		TabGroupColoringEnabled: true,
		ShowGroupAgeEnabled:     false,
		GreenToYellowEnabled:    true,
		YellowToRedEnabled:      true,
		RedToGoneEnabled:        true,
		AutoGroupEnabled:        true,
		AutoGroupNamingEnabled:  true,
		BookmarkEnabled:         true,
		YellowGroupName:         "Aging",
		RedGroupName:            "Stale",
		BookmarkFolderName:      "Closed Tabs",
		AutoNameDelayMinutes:    10,
	}
}

// Validate enforces spec.md §3's invariants. Thresholds must be checked
// even when the corresponding transition gates are disabled.
func (s Settings) Validate() error {
	if s.Thresholds.GreenToYellow <= 0 || s.Thresholds.YellowToRed <= 0 || s.Thresholds.RedToGone <= 0 {
		return fmt.Errorf("settings: thresholds must be positive")
	}
	if !(s.Thresholds.GreenToYellow < s.Thresholds.YellowToRed && s.Thresholds.YellowToRed < s.Thresholds.RedToGone) {
		return fmt.Errorf("settings: thresholds must be strictly increasing")
	}
	if s.BookmarkFolderName == "" {
		return fmt.Errorf("settings: bookmark_folder_name must not be empty")
	}
	if s.AutoNameDelayMinutes <= 0 {
		return fmt.Errorf("settings: auto_name_delay_minutes must be positive")
	}
	if s.TimeMode != TimeModeActive && s.TimeMode != TimeModeWallclock {
		return fmt.Errorf("settings: time_mode must be %q or %q", TimeModeActive, TimeModeWallclock)
	}
	return nil
}

// storeKey is the spec.md §6 KV key this package owns.
const storeKey = "settings"
const schemaVersionKey = "schema_version"

// Model owns load/save and the change-subscription surface for C8. It
// keeps an in-memory cache valid for one host-process lifetime, flushing
// every write through to KV before returning (spec.md §3: "every write
// must persist before the next evaluation returns").
type Model struct {
	store kv.Store

	mu      sync.RWMutex
	current Settings
	loaded  bool

	onChange []func(old, new Settings)
}

// NewModel creates a Model backed by store. Call Load once at startup.
func NewModel(store kv.Store) *Model {
	return &Model{store: store}
}

// Load reads schema_version and settings from KV, migrating v1→v2 if
// necessary, and applying Defaults() if nothing is stored yet.
func (m *Model) Load(ctx context.Context) (Settings, error) {
	values, err := m.store.Get(ctx, schemaVersionKey, storeKey)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	version := 0
	if raw, ok := values[schemaVersionKey]; ok {
		_ = json.Unmarshal(raw, &version)
	}

	var current Settings
	hadStored := false
	if raw, ok := values[storeKey]; ok {
		hadStored = true
		if err := json.Unmarshal(raw, &current); err != nil {
			// Migration failure path (spec.md §7): log-equivalent, reset
			// to defaults for the fields that matter.
			current = Settings{}
		}
	}

	if !hadStored {
		current = Defaults()
	} else if version < CurrentSchemaVersion {
		current = MigrateV1ToV2(current)
	}
	current.SchemaVersion = CurrentSchemaVersion

	if err := current.Validate(); err != nil {
		// Defaults are guaranteed valid; fall back rather than persist a
		// broken blob (spec.md §7 "defaults are applied").
		current = Defaults()
	}

	m.mu.Lock()
	m.current = current
	m.loaded = true
	m.mu.Unlock()

	if err := m.persist(ctx, current); err != nil {
		return Settings{}, err
	}
	return current, nil
}

// Current returns the last loaded/saved settings blob.
func (m *Model) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save validates and persists new, notifying subscribers with the
// previous value. Rejected writes (spec.md §7 "Validation failure") leave
// the old settings untouched and return an error.
func (m *Model) Save(ctx context.Context, next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	next.SchemaVersion = CurrentSchemaVersion

	m.mu.Lock()
	old := m.current
	m.current = next
	m.mu.Unlock()

	if err := m.persist(ctx, next); err != nil {
		// Roll back the in-memory cache on persistence failure so Current()
		// doesn't lie about what is durable.
		m.mu.Lock()
		m.current = old
		m.mu.Unlock()
		return err
	}

	for _, cb := range m.subscribers() {
		cb(old, next)
	}
	return nil
}

// OnChange registers a callback invoked after every successful Save, with
// the pre- and post-change blobs (used by internal/dispatcher, C8).
func (m *Model) OnChange(cb func(old, new Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, cb)
}

func (m *Model) subscribers() []func(old, new Settings) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]func(old, new Settings){}, m.onChange...)
}

func (m *Model) persist(ctx context.Context, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	versionData, err := json.Marshal(CurrentSchemaVersion)
	if err != nil {
		return fmt.Errorf("settings: marshal version: %w", err)
	}
	return m.store.Set(ctx, map[string][]byte{
		storeKey:         data,
		schemaVersionKey: versionData,
	})
}
