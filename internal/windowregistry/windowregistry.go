// Package windowregistry implements C4, the Window Registry: the
// WindowState map, special-group bookkeeping, and the expected-write guard
// that lets the core tell its own title writes apart from a user's manual
// rename (spec.md §4.4, §4.9). Grounded on the teacher's
// internal/logger.TabRegistry locking shape, generalized to a richer
// per-window record.
package windowregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tabkeeper/tabkeeper/internal/kv"
	"github.com/tabkeeper/tabkeeper/internal/windowstate"
)

const storeKey = "window_state"

// Registry owns the WindowState map for one host-process lifetime.
type Registry struct {
	store kv.Store

	mu      sync.RWMutex
	windows map[string]*windowstate.State

	// expected holds one-shot "we just wrote this title ourselves"
	// markers, keyed by group id. Never persisted: a crash between the
	// write and the confirming event should fail open (treat the next
	// title as a user edit), not fail closed forever.
	expected map[string]windowstate.ExpectedWrite
}

// New creates an empty Registry. Call Load to hydrate from KV.
func New(store kv.Store) *Registry {
	return &Registry{
		store:    store,
		windows:  make(map[string]*windowstate.State),
		expected: make(map[string]windowstate.ExpectedWrite),
	}
}

// Load hydrates the in-memory map from KV at startup.
func (r *Registry) Load(ctx context.Context) error {
	values, err := r.store.Get(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("windowregistry: load: %w", err)
	}
	raw, ok := values[storeKey]
	if !ok {
		return nil
	}
	var windows map[string]*windowstate.State
	if err := json.Unmarshal(raw, &windows); err != nil {
		return fmt.Errorf("windowregistry: unmarshal: %w", err)
	}

	r.mu.Lock()
	r.windows = windows
	r.mu.Unlock()
	return nil
}

// Flush persists the in-memory map to KV.
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	data, err := json.Marshal(r.windows)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("windowregistry: marshal: %w", err)
	}
	return r.store.Set(ctx, map[string][]byte{storeKey: data})
}

// Ensure returns the record for windowID, creating an empty one if absent.
func (r *Registry) Ensure(windowID string) *windowstate.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(windowID)
}

func (r *Registry) ensureLocked(windowID string) *windowstate.State {
	s, ok := r.windows[windowID]
	if !ok {
		s = windowstate.New(windowID)
		r.windows[windowID] = s
	}
	return s
}

// Get returns a copy of the record for windowID, or nil if untracked.
func (r *Registry) Get(windowID string) *windowstate.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.windows[windowID].Clone()
}

// WindowIDs returns every window id currently tracked, for the scheduler's
// per-window cycle loop (spec.md §4.7: "for each window independently").
func (r *Registry) WindowIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.windows))
	for id := range r.windows {
		out = append(out, id)
	}
	return out
}

// Remove drops a window's record entirely (spec.md §4.4, on window close).
func (r *Registry) Remove(windowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, windowID)
}

// IsSpecialGroup reports whether groupID is windowID's yellow or red
// special group. Implements tabregistry.SpecialGroupLookup.
func (r *Registry) IsSpecialGroup(windowID, groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.windows[windowID]
	if !ok {
		return false
	}
	return s.SpecialGroups[windowstate.ColorYellow] == groupID ||
		s.SpecialGroups[windowstate.ColorRed] == groupID
}

// LookupSpecial returns the group id assigned to a special color in
// windowID, or "" if none has been created yet.
func (r *Registry) LookupSpecial(windowID string, color windowstate.SpecialColor) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.windows[windowID]
	if !ok {
		return ""
	}
	return s.SpecialGroups[color]
}

// SetSpecial records groupID as windowID's special group for color.
func (r *Registry) SetSpecial(windowID string, color windowstate.SpecialColor, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	s.SpecialGroups[color] = groupID
}

// ClearSpecial forgets a window's special group for color (spec.md §4.8:
// tab_sorting_enabled flips false -> special groups are ungrouped and the
// mapping is dropped so a future re-enable starts fresh).
func (r *Registry) ClearSpecial(windowID string, color windowstate.SpecialColor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.windows[windowID]; ok {
		delete(s.SpecialGroups, color)
	}
}

// SetZone records the last zone a user group was sorted into, for
// intra-zone stability on the next sort pass (spec.md §4.7 phase 5).
func (r *Registry) SetZone(windowID, groupID string, zone windowstate.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	s.GroupZones[groupID] = zone
}

// Zone returns the last recorded zone for a group, or "" if unknown.
func (r *Registry) Zone(windowID, groupID string) windowstate.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.windows[windowID]
	if !ok {
		return ""
	}
	return s.GroupZones[groupID]
}

// ForgetGroup drops a dissolved group's zone and naming bookkeeping
// (spec.md §4.7 phase 6).
func (r *Registry) ForgetGroup(windowID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.windows[windowID]
	if !ok {
		return
	}
	delete(s.GroupZones, groupID)
	delete(s.GroupNaming, groupID)
	delete(s.ExtensionCreatedGroups, groupID)
}

// MarkExtensionCreated records that the core itself created groupID (a
// phase-6 dissolution candidate once empty, spec.md §4.7).
func (r *Registry) MarkExtensionCreated(windowID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	s.ExtensionCreatedGroups[groupID] = true
}

// IsExtensionCreated reports whether the core created groupID.
func (r *Registry) IsExtensionCreated(windowID, groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.windows[windowID]
	if !ok {
		return false
	}
	return s.ExtensionCreatedGroups[groupID]
}

// Naming returns a copy of the naming bookkeeping for groupID, creating a
// zero-value record implicitly if none exists yet (callers never observe
// a nil pointer).
func (r *Registry) Naming(windowID, groupID string) windowstate.GroupNaming {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	n := s.NamingFor(groupID)
	return *n
}

// SetNaming overwrites the naming bookkeeping for groupID.
func (r *Registry) SetNaming(windowID, groupID string, n windowstate.GroupNaming) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	*s.NamingFor(groupID) = n
}

// ApplyUserEditLock sets user_edit_lock_until for groupID, suppressing
// auto-naming until that timestamp has passed (spec.md §4.4: a manual
// rename the core didn't expect locks out the auto-namer).
func (r *Registry) ApplyUserEditLock(windowID, groupID string, lockUntil int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.ensureLocked(windowID)
	n := s.NamingFor(groupID)
	n.UserEditLockUntil = lockUntil
	n.LastCandidate = "" // spec.md §4.4: a stale candidate must not survive the lock
}

// MarkExpectedTitleWrite records a one-shot marker immediately before the
// core writes title to groupID, so the subsequent group-updated event can
// be recognized as the core's own write rather than a user edit.
func (r *Registry) MarkExpectedTitleWrite(groupID, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected[groupID] = windowstate.ExpectedWrite{GroupID: groupID, Title: title}
}

// ConsumeExpectedTitleWrite reports whether observedTitle matches a
// pending expected-write marker for groupID, consuming the marker either
// way (it only ever applies to the very next observation, spec.md §4.9).
func (r *Registry) ConsumeExpectedTitleWrite(groupID, observedTitle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ew, ok := r.expected[groupID]
	if !ok {
		return false
	}
	delete(r.expected, groupID)
	return ew.Title == observedTitle
}
