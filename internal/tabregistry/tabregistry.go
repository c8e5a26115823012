// Package tabregistry implements C3, the Tab Registry: the TabMeta map,
// reconciliation against live browser state, and the "pinned ⇒ excluded"
// invariant (spec.md §4.3). Grounded on the teacher's
// internal/logger.TabRegistry (a target-id → stable-id map guarded by
// double-checked sync.RWMutex locking), generalized from a 1:1 id map into
// the full TabMeta record plus reconciliation.
package tabregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tabkeeper/tabkeeper/internal/kv"
	"github.com/tabkeeper/tabkeeper/internal/tabmeta"
)

// storeKey is the spec.md §6 KV key this package owns.
const storeKey = "tab_meta"

// SpecialGroupLookup resolves whether a group is a window's special
// (yellow/red) group, used to recompute is_special_group on membership
// change (spec.md §4.3). Implemented by internal/windowregistry; taken as
// an interface here to avoid a C3↔C4 import cycle.
type SpecialGroupLookup interface {
	IsSpecialGroup(windowID, groupID string) bool
}

// LiveTab is the minimal live-browser view reconcile() diffs against.
type LiveTab struct {
	TabID    string
	WindowID string
	GroupID  string
	URL      string
	Pinned   bool
}

// Registry owns the TabMeta map for one host-process lifetime.
type Registry struct {
	store  kv.Store
	lookup SpecialGroupLookup

	mu   sync.RWMutex
	tabs map[string]*tabmeta.Meta

	// justRestored is the one-shot "discard→restore" suppression set
	// (spec.md §4.6, §9 Open Question 2): set on discard→false, consumed
	// by the very next navigation event for that tab id.
	justRestored map[string]bool
}

// New creates an empty Registry. Call Load to hydrate from KV.
func New(store kv.Store, lookup SpecialGroupLookup) *Registry {
	return &Registry{
		store:        store,
		lookup:       lookup,
		tabs:         make(map[string]*tabmeta.Meta),
		justRestored: make(map[string]bool),
	}
}

// Load hydrates the in-memory map from KV at startup.
func (r *Registry) Load(ctx context.Context) error {
	values, err := r.store.Get(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("tabregistry: load: %w", err)
	}
	raw, ok := values[storeKey]
	if !ok {
		return nil
	}
	var tabs map[string]*tabmeta.Meta
	if err := json.Unmarshal(raw, &tabs); err != nil {
		return fmt.Errorf("tabregistry: unmarshal: %w", err)
	}

	r.mu.Lock()
	r.tabs = tabs
	r.mu.Unlock()
	return nil
}

// Flush persists the in-memory map to KV. Called at the end of every
// evaluation cycle (spec.md §4.7 "C3/C4 are flushed to KV in one batch").
func (r *Registry) Flush(ctx context.Context) error {
	r.mu.RLock()
	data, err := json.Marshal(r.tabs)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("tabregistry: marshal: %w", err)
	}
	return r.store.Set(ctx, map[string][]byte{storeKey: data})
}

// Get returns a copy of the record for tabID, or nil if untracked.
func (r *Registry) Get(tabID string) *tabmeta.Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tabs[tabID].Clone()
}

// All returns a shallow snapshot of the map (cloned entries) for read-only
// iteration by the evaluator/scheduler.
func (r *Registry) All() map[string]*tabmeta.Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*tabmeta.Meta, len(r.tabs))
	for k, v := range r.tabs {
		out[k] = v.Clone()
	}
	return out
}

// ForWindow returns records belonging to windowID.
func (r *Registry) ForWindow(windowID string) map[string]*tabmeta.Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*tabmeta.Meta)
	for k, v := range r.tabs {
		if v.WindowID == windowID {
			out[k] = v.Clone()
		}
	}
	return out
}

// TrackNew creates a fresh green record for a newly created tab. A no-op
// if the tab is pinned (spec.md §4.3).
func (r *Registry) TrackNew(tab LiveTab, currentActiveTime, nowWall int64) {
	if tab.Pinned {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[tab.TabID] = &tabmeta.Meta{
		TabID:             tab.TabID,
		WindowID:          tab.WindowID,
		RefreshActiveTime: currentActiveTime,
		RefreshWallTime:   nowWall,
		Status:            tabmeta.StatusGreen,
		GroupID:           tab.GroupID,
		IsSpecialGroup:    r.isSpecialLocked(tab.WindowID, tab.GroupID),
	}
}

// OnPinnedChange removes the record on pin, or (re)creates a fresh green
// record on unpin (spec.md §4.3).
func (r *Registry) OnPinnedChange(tab LiveTab, pinned bool, currentActiveTime, nowWall int64) {
	if pinned {
		r.mu.Lock()
		delete(r.tabs, tab.TabID)
		r.mu.Unlock()
		return
	}
	r.TrackNew(tab, currentActiveTime, nowWall)
}

// OnGroupMembershipChange updates group_id and recomputes is_special_group
// (spec.md §4.3).
func (r *Registry) OnGroupMembershipChange(tabID, windowID, newGroupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tabs[tabID]
	if !ok {
		return
	}
	m.GroupID = newGroupID
	m.IsSpecialGroup = r.isSpecialLocked(windowID, newGroupID)
}

// OnWindowChange updates window_id and clears group_id after a tab is
// attached to a different window (spec.md §4.3): Chrome ungroups a tab
// when it crosses windows, so the special-group flag is recomputed
// against the empty group id.
func (r *Registry) OnWindowChange(tabID, newWindowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tabs[tabID]
	if !ok {
		return
	}
	m.WindowID = newWindowID
	m.GroupID = ""
	m.IsSpecialGroup = false
}

// OnRefresh resets both refresh clocks and status=green (spec.md §4.3).
// Callers (internal/router) are responsible for the discard/restore
// suppression decision before calling this.
func (r *Registry) OnRefresh(tabID string, currentActiveTime, nowWall int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tabs[tabID]
	if !ok {
		return
	}
	m.RefreshActiveTime = currentActiveTime
	m.RefreshWallTime = nowWall
	m.Status = tabmeta.StatusGreen
}

// MarkDiscardRestored records that tabID just transitioned discarded→false;
// the very next OnRefresh-eligible navigation event for this tab should be
// suppressed instead (spec.md §4.6, §9).
func (r *Registry) MarkDiscardRestored(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.justRestored[tabID] = true
}

// ConsumeDiscardRestored returns true and clears the flag if tabID was
// marked as just-restored. One-shot: a second call returns false even if
// no navigation occurred in between (spec.md §9 Open Question 2).
func (r *Registry) ConsumeDiscardRestored(tabID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.justRestored[tabID] {
		delete(r.justRestored, tabID)
		return true
	}
	return false
}

// OnRemove drops the record and returns the old value for special-group
// cleanup by the caller (spec.md §4.3).
func (r *Registry) OnRemove(tabID string) *tabmeta.Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tabs[tabID]
	if !ok {
		return nil
	}
	delete(r.tabs, tabID)
	delete(r.justRestored, tabID)
	return m
}

// SetStatus is used by the scheduler (C7 phase 1) to persist a computed
// status transition (gone-transient is never passed here, per spec.md
// §4.7 phase 1).
func (r *Registry) SetStatus(tabID string, status tabmeta.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.tabs[tabID]; ok {
		m.Status = status
	}
}

// ApplyAgeCap clamps every tracked record's refresh clocks forward to
// wallCap/activeCap, whichever is later (spec.md §4.8 "age cap" row: run
// once when aging_enabled flips false->true so a tab doesn't arrive
// already past red_to_gone on the very next cycle).
func (r *Registry) ApplyAgeCap(wallCap, activeCap int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.tabs {
		if m.RefreshWallTime < wallCap {
			m.RefreshWallTime = wallCap
		}
		if m.RefreshActiveTime < activeCap {
			m.RefreshActiveTime = activeCap
		}
	}
}

// Reconcile diffs stored records against live browser state matching only
// by tab id: matched records keep their refresh clocks but refresh
// group_id/window_id, unmatched stored records are dropped, and unmatched
// live tabs become fresh green records. Tab ids are stable across a CDP
// session, so id-only matching is sufficient except across a full browser
// restart, which ReconcileWithURLIndex handles.
func (r *Registry) Reconcile(live []LiveTab, currentActiveTime, nowWall int64) {
	r.ReconcileWithURLIndex(live, nil, currentActiveTime, nowWall)
}

// ReconcileWithURLIndex is the URL-aware variant of Reconcile, taking the
// caller's best-known tab_id -> URL map for previously stored records
// (spec.md's TabMeta shape itself carries no URL field, so the caller
// supplies the URLs).
// It implements the full two-pass match described in spec.md §4.3: match
// by id first, then match remaining stored records to remaining live tabs
// by URL (absorbing id renumbering after a session restore).
func (r *Registry) ReconcileWithURLIndex(live []LiveTab, storedURLs map[string]string, currentActiveTime, nowWall int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	liveByID := make(map[string]LiveTab, len(live))
	liveByURL := make(map[string]LiveTab, len(live))
	for _, t := range live {
		if t.Pinned {
			continue
		}
		liveByID[t.TabID] = t
		if t.URL != "" {
			if _, exists := liveByURL[t.URL]; !exists {
				liveByURL[t.URL] = t
			}
		}
	}

	claimedLive := make(map[string]bool, len(live))
	next := make(map[string]*tabmeta.Meta, len(r.tabs))

	unmatched := make(map[string]*tabmeta.Meta)
	for id, m := range r.tabs {
		if lt, ok := liveByID[id]; ok {
			m.WindowID = lt.WindowID
			m.GroupID = lt.GroupID
			m.IsSpecialGroup = r.isSpecialLocked(lt.WindowID, lt.GroupID)
			next[id] = m
			claimedLive[id] = true
			continue
		}
		unmatched[id] = m
	}

	for oldID, m := range unmatched {
		url, ok := storedURLs[oldID]
		if !ok || url == "" {
			continue
		}
		lt, ok := liveByURL[url]
		if !ok || claimedLive[lt.TabID] {
			continue
		}
		m.TabID = lt.TabID
		m.WindowID = lt.WindowID
		m.GroupID = lt.GroupID
		m.IsSpecialGroup = r.isSpecialLocked(lt.WindowID, lt.GroupID)
		next[lt.TabID] = m
		claimedLive[lt.TabID] = true
	}

	for tabID, lt := range liveByID {
		if claimedLive[tabID] {
			continue
		}
		next[tabID] = &tabmeta.Meta{
			TabID:             tabID,
			WindowID:          lt.WindowID,
			RefreshActiveTime: currentActiveTime,
			RefreshWallTime:   nowWall,
			Status:            tabmeta.StatusGreen,
			GroupID:           lt.GroupID,
			IsSpecialGroup:    r.isSpecialLocked(lt.WindowID, lt.GroupID),
		}
	}

	r.tabs = next
}

func (r *Registry) isSpecialLocked(windowID, groupID string) bool {
	if groupID == "" || r.lookup == nil {
		return false
	}
	return r.lookup.IsSpecialGroup(windowID, groupID)
}
