package router

import (
	"context"
	"testing"

	"github.com/tabkeeper/tabkeeper/internal/activetime"
	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/kv"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowstate"
)

type harness struct {
	tabs        *tabregistry.Registry
	windows     *windowregistry.Registry
	activeTime  *activetime.Accumulator
	settingsM   *settings.Model
	browser     *browserapi.Fake
	requests    []bool
	router      *Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	windows := windowregistry.New(kv.NewMemStore())
	tabs := tabregistry.New(kv.NewMemStore(), windows)
	at := activetime.New(kv.NewMemStore(), func() int64 { return 1000 })
	sm := settings.NewModel(kv.NewMemStore())
	if _, err := sm.Load(ctx); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	fake := browserapi.NewFake()

	h := &harness{tabs: tabs, windows: windows, activeTime: at, settingsM: sm, browser: fake}
	h.router = New(tabs, windows, at, sm, fake, func() int64 { return 2000 }, func(debounce bool) {
		h.requests = append(h.requests, debounce)
	})
	return h
}

func TestTabCreatedTracksRecordAndRequestsDebouncedEval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	s := h.settingsM.Current()
	s.AutoGroupEnabled = false
	if err := h.settingsM.Save(ctx, s); err != nil {
		t.Fatalf("save settings: %v", err)
	}

	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1"})
	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1"},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if m := h.tabs.Get("t1"); m == nil {
		t.Fatal("expected tab tracked")
	}
	if len(h.requests) != 1 || h.requests[0] != true {
		t.Fatalf("expected one debounced eval request, got %v", h.requests)
	}
}

func TestTabCreatedSkipsPinned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1", Pinned: true},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if m := h.tabs.Get("t1"); m != nil {
		t.Fatal("expected pinned tab not tracked")
	}
	if len(h.requests) != 0 {
		t.Fatalf("expected no eval request for pinned tab, got %v", h.requests)
	}
}

func TestPlacementJoinsOpenersNamedGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.browser.SeedGroup(browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "Research"})
	h.browser.SeedTab(browserapi.Tab{TabID: "opener", WindowID: "w1", GroupID: "g1"})
	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"})

	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	tab, err := h.browser.Tab(ctx, "t1")
	if err != nil {
		t.Fatalf("tab: %v", err)
	}
	if tab.GroupID != "g1" {
		t.Fatalf("expected t1 joined opener's group g1, got %q", tab.GroupID)
	}
}

func TestPlacementCreatesNewGroupForUngroupedOpener(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.browser.SeedTab(browserapi.Tab{TabID: "opener", WindowID: "w1"})
	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"})

	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	opener, _ := h.browser.Tab(ctx, "opener")
	tab, _ := h.browser.Tab(ctx, "t1")
	if opener.GroupID == "" || opener.GroupID != tab.GroupID {
		t.Fatalf("expected opener and new tab sharing a fresh group, got opener=%q tab=%q", opener.GroupID, tab.GroupID)
	}
	if !h.windows.IsExtensionCreated("w1", tab.GroupID) {
		t.Fatal("expected new group marked extension-created")
	}
}

func TestPlacementMovesLeftmostWhenNoOpener(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.browser.SeedTab(browserapi.Tab{TabID: "pinned1", WindowID: "w1", Pinned: true, Index: 0})
	h.browser.SeedTab(browserapi.Tab{TabID: "pinned2", WindowID: "w1", Pinned: true, Index: 1})
	h.browser.SeedTab(browserapi.Tab{TabID: "existing", WindowID: "w1", Index: 2})
	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", Index: 3})

	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1"},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	tab, _ := h.browser.Tab(ctx, "t1")
	if tab.Index != 2 {
		t.Fatalf("expected t1 moved to index 2 (after the two pinned tabs), got %d", tab.Index)
	}
}

func TestPlacementSkipsGroupingIntoSpecialGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.SetSpecial("w1", windowstate.ColorYellow, "g1")
	h.browser.SeedGroup(browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "Aging"})
	h.browser.SeedTab(browserapi.Tab{TabID: "opener", WindowID: "w1", GroupID: "g1"})
	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"})

	ev := browserapi.Event{Kind: browserapi.EventTabCreated, TabCreated: &browserapi.TabCreated{
		Tab: browserapi.Tab{TabID: "t1", WindowID: "w1", OpenerTabID: "opener"},
	}}
	if err := h.router.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	tab, _ := h.browser.Tab(ctx, "t1")
	if tab.GroupID == "g1" {
		t.Fatal("expected t1 not placed into opener's special group")
	}
}

func TestTabRemovedClearsEmptiedSpecialGroupSlot(t *testing.T) {
	h := newHarness(t)

	h.windows.SetSpecial("w1", windowstate.ColorRed, "g1")
	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1", GroupID: "g1"}, 0, 1000)

	if err := h.router.Dispatch(context.Background(), browserapi.Event{
		Kind:       browserapi.EventTabRemoved,
		TabRemoved: &browserapi.TabRemoved{TabID: "t1", WindowID: "w1"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := h.windows.LookupSpecial("w1", windowstate.ColorRed); got != "" {
		t.Fatalf("expected special slot cleared once empty, got %q", got)
	}
}

func TestTabRemovedKeepsSpecialSlotWhileOthersRemain(t *testing.T) {
	h := newHarness(t)

	h.windows.SetSpecial("w1", windowstate.ColorRed, "g1")
	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1", GroupID: "g1"}, 0, 1000)
	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t2", WindowID: "w1", GroupID: "g1"}, 0, 1000)

	if err := h.router.Dispatch(context.Background(), browserapi.Event{
		Kind:       browserapi.EventTabRemoved,
		TabRemoved: &browserapi.TabRemoved{TabID: "t1", WindowID: "w1"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := h.windows.LookupSpecial("w1", windowstate.ColorRed); got != "g1" {
		t.Fatalf("expected special slot retained while t2 remains, got %q", got)
	}
}

func TestPinnedTrueRemovesTrackedRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", Pinned: true})
	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1"}, 0, 1000)

	pinned := true
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:       browserapi.EventTabUpdated,
		TabUpdated: &browserapi.TabUpdated{TabID: "t1", Pinned: &pinned},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if m := h.tabs.Get("t1"); m != nil {
		t.Fatal("expected record removed on pin")
	}
}

func TestDiscardedFalseSuppressesNextNavigationRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1"}, 0, 1000)

	discarded := false
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:       browserapi.EventTabUpdated,
		TabUpdated: &browserapi.TabUpdated{TabID: "t1", Discarded: &discarded},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	before := h.tabs.Get("t1")
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:                browserapi.EventNavigationCommitted,
		NavigationCommitted: &browserapi.NavigationCommitted{TabID: "t1", URL: "https://example.com"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	after := h.tabs.Get("t1")

	if before.RefreshWallTime != after.RefreshWallTime {
		t.Fatalf("expected the discard-restore navigation suppressed, before=%+v after=%+v", before, after)
	}
}

func TestNavigationCommittedRefreshesAndUngroupsFromSpecial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.SetSpecial("w1", windowstate.ColorRed, "g1")
	h.browser.SeedGroup(browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "Stale"})
	h.browser.SeedTab(browserapi.Tab{TabID: "t1", WindowID: "w1", GroupID: "g1"})
	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1", GroupID: "g1"}, 0, 1000)
	h.tabs.OnGroupMembershipChange("t1", "w1", "g1")

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:                browserapi.EventNavigationCommitted,
		NavigationCommitted: &browserapi.NavigationCommitted{TabID: "t1", URL: "https://example.com"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	m := h.tabs.Get("t1")
	if m.GroupID != "" {
		t.Fatalf("expected refreshed tab ungrouped from special group, got %q", m.GroupID)
	}
	tab, _ := h.browser.Tab(ctx, "t1")
	if tab.GroupID != "" {
		t.Fatalf("expected browser-side ungroup to have happened, got %q", tab.GroupID)
	}
}

func TestGroupUpdatedConsumesExpectedWriteAsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.MarkExpectedTitleWrite("g1", "Aging")

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:         browserapi.EventGroupUpdated,
		GroupUpdated: &browserapi.GroupUpdated{Group: browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "Aging"}},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	n := h.windows.Naming("w1", "g1")
	if n.UserEditLockUntil != 0 {
		t.Fatal("expected no user-edit lock applied for the core's own expected write")
	}
}

func TestGroupUpdatedAppliesUserEditLockForUnexpectedRename(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:         browserapi.EventGroupUpdated,
		GroupUpdated: &browserapi.GroupUpdated{Group: browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "My Project"}},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	n := h.windows.Naming("w1", "g1")
	if n.UserEditLockUntil == 0 {
		t.Fatal("expected a user-edit lock applied for an unrecognized rename")
	}
}

func TestGroupUpdatedReflectsSpecialGroupRenameIntoSettings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.SetSpecial("w1", windowstate.ColorYellow, "g1")

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:         browserapi.EventGroupUpdated,
		GroupUpdated: &browserapi.GroupUpdated{Group: browserapi.Group{GroupID: "g1", WindowID: "w1", Title: "Later"}},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := h.settingsM.Current().YellowGroupName; got != "Later" {
		t.Fatalf("expected yellow_group_name updated to %q, got %q", "Later", got)
	}
}

func TestGroupRemovedForgetsSpecialSlotAndBookkeeping(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.SetSpecial("w1", windowstate.ColorRed, "g1")
	h.windows.SetZone("w1", "g1", windowstate.ZoneRed)

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:         browserapi.EventGroupRemoved,
		GroupRemoved: &browserapi.GroupRemoved{GroupID: "g1", WindowID: "w1"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := h.windows.LookupSpecial("w1", windowstate.ColorRed); got != "" {
		t.Fatalf("expected special slot forgotten, got %q", got)
	}
	if got := h.windows.Zone("w1", "g1"); got != "" {
		t.Fatalf("expected zone bookkeeping forgotten, got %q", got)
	}
}

func TestWindowRemovedDropsWindowRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.windows.Ensure("w1")
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:          browserapi.EventWindowRemoved,
		WindowRemoved: &browserapi.WindowRemoved{WindowID: "w1"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if got := h.windows.Get("w1"); got != nil {
		t.Fatal("expected window record dropped")
	}
}

func TestAlarmRequestsNonDebouncedEval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.router.Dispatch(ctx, browserapi.Event{Kind: browserapi.EventAlarm, Alarm: &browserapi.Alarm{Name: "tick"}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(h.requests) != 1 || h.requests[0] != false {
		t.Fatalf("expected one non-debounced eval request, got %v", h.requests)
	}
}

func TestTabUpdatedGroupChangeUpdatesRegistryAndRequestsEval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1"}, 0, 1000)

	newGroup := "g2"
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:       browserapi.EventTabUpdated,
		TabUpdated: &browserapi.TabUpdated{TabID: "t1", GroupID: &newGroup},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if m := h.tabs.Get("t1"); m == nil || m.GroupID != "g2" {
		t.Fatalf("expected group_id updated to g2, got %+v", h.tabs.Get("t1"))
	}
	if len(h.requests) != 1 {
		t.Fatalf("expected one eval request from the group change, got %v", h.requests)
	}
}

func TestTabUpdatedSameGroupIsNoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1", GroupID: "g1"}, 0, 1000)

	sameGroup := "g1"
	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:       browserapi.EventTabUpdated,
		TabUpdated: &browserapi.TabUpdated{TabID: "t1", GroupID: &sameGroup},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(h.requests) != 0 {
		t.Fatalf("expected no eval request when group_id is unchanged, got %v", h.requests)
	}
}

func TestTabAttachedUpdatesWindowAndClearsGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1", GroupID: "g1"}, 0, 1000)

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:        browserapi.EventTabAttached,
		TabAttached: &browserapi.TabAttached{TabID: "t1", NewWindowID: "w2"},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	m := h.tabs.Get("t1")
	if m == nil || m.WindowID != "w2" || m.GroupID != "" {
		t.Fatalf("expected tab reassigned to w2 and ungrouped, got %+v", m)
	}
	if len(h.requests) != 1 {
		t.Fatalf("expected one eval request from the window change, got %v", h.requests)
	}
}

func TestTabMovedIsANoOp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.tabs.TrackNew(tabregistry.LiveTab{TabID: "t1", WindowID: "w1"}, 0, 1000)

	if err := h.router.Dispatch(ctx, browserapi.Event{
		Kind:     browserapi.EventTabMoved,
		TabMoved: &browserapi.TabMoved{TabID: "t1", WindowID: "w1", ToIndex: 3},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(h.requests) != 0 {
		t.Fatalf("expected no eval request for a plain index move, got %v", h.requests)
	}
}
