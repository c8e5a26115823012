// yamlio.go provides the on-disk seed/export format for Settings. The
// authoritative copy always lives in KV as JSON (spec.md §6); YAML is
// only ever read once, at bootstrap, to seed a fresh KV store, and
// written out on request for operators to inspect or edit offline —
// the same division the teacher draws between its YAML config file
// (bootstrap-time, human-edited) and its JSONL event log (runtime,
// machine-owned). Grounded on the teacher's internal/config.LoadFromFile.
package settings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSeedFile reads a YAML settings file for first-run bootstrap. A
// missing file is not an error: the caller falls back to Defaults()
// exactly as the teacher's DefaultConfig() does when no config file is
// present.
func LoadSeedFile(path string) (Settings, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Settings{}, false, nil
	}
	if err != nil {
		return Settings{}, false, fmt.Errorf("settings: read seed file: %w", err)
	}

	s := Defaults()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, false, fmt.Errorf("settings: parse seed file: %w", err)
	}
	s.SchemaVersion = CurrentSchemaVersion
	if err := s.Validate(); err != nil {
		return Settings{}, false, fmt.Errorf("settings: seed file invalid: %w", err)
	}
	return s, true, nil
}

// WriteSeedFile exports s as YAML, for operators to inspect or hand-edit
// and reuse as a seed file on the next bootstrap.
func WriteSeedFile(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal seed file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("settings: write seed file: %w", err)
	}
	return nil
}

// BootstrapFromFile loads the KV-persisted settings, seeding KV first
// from a YAML file if nothing has been persisted yet (a fresh host
// process). seedPath == "" skips the YAML path and behaves exactly like
// Load. An existing KV blob always wins over the seed file — the seed
// is a first-run convenience, not a standing override. Call this before
// registering any OnChange subscriber: the seed write goes through Save,
// which would otherwise notify subscribers with a meaningless zero-value
// "old" settings blob.
func (m *Model) BootstrapFromFile(ctx context.Context, seedPath string) (Settings, error) {
	values, err := m.store.Get(ctx, storeKey)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: bootstrap: %w", err)
	}
	if _, hadStored := values[storeKey]; hadStored || seedPath == "" {
		return m.Load(ctx)
	}

	seed, found, err := LoadSeedFile(seedPath)
	if err != nil {
		return Settings{}, err
	}
	if !found {
		return m.Load(ctx)
	}
	if err := m.Save(ctx, seed); err != nil {
		return Settings{}, fmt.Errorf("settings: persist seed file: %w", err)
	}
	return m.Load(ctx)
}
