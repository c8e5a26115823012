// Package router implements C6, the Event Router (spec.md §4.6): the
// single entry point that turns browser events into Tab/Window Registry
// mutations and hands off to the scheduler's serialized evaluation queue.
// Grounded on the teacher's cdp.Manager event-dispatch switch
// (target.EventTargetCreated/Destroyed/InfoChanged), generalized from a
// three-case switch to the full event table spec.md §4.6 describes.
package router

import (
	"context"
	"log"
	"strings"

	"github.com/tabkeeper/tabkeeper/internal/activetime"
	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowstate"
)

// ageSuffixPattern-equivalent stripping lives in internal/scheduler; the
// router only needs to recognize "group is unnamed" for placement, which
// does not require suffix-stripping (a freshly core-created group has no
// title at all).

// RequestEval is how the router hands control to the scheduler's
// serialized queue (spec.md §5). debounce distinguishes tab/group-move
// triggered requests (300ms debounce) from alarm-driven ones (none).
type RequestEval func(debounce bool)

// Router dispatches browser events to the registries and requests
// evaluation cycles. It holds no evaluation logic of its own — run_cycle
// is the only code path that rewrites layout (spec.md §4.7).
type Router struct {
	tabs        *tabregistry.Registry
	windows     *windowregistry.Registry
	activeTime  *activetime.Accumulator
	settingsM   *settings.Model
	browser     browserapi.API
	clock       activetime.Clock
	requestEval RequestEval
}

// New constructs a Router wired to the shared registries and collaborators.
func New(
	tabs *tabregistry.Registry,
	windows *windowregistry.Registry,
	activeTime *activetime.Accumulator,
	settingsM *settings.Model,
	browser browserapi.API,
	clock activetime.Clock,
	requestEval RequestEval,
) *Router {
	return &Router{
		tabs:        tabs,
		windows:     windows,
		activeTime:  activeTime,
		settingsM:   settingsM,
		browser:     browser,
		clock:       clock,
		requestEval: requestEval,
	}
}

// Dispatch routes one browser event, per the table in spec.md §4.6. It
// never runs the evaluation algorithm inline — every branch that needs
// one ends with a call to requestEval.
func (r *Router) Dispatch(ctx context.Context, ev browserapi.Event) error {
	switch ev.Kind {
	case browserapi.EventTabCreated:
		return r.onTabCreated(ctx, *ev.TabCreated)
	case browserapi.EventTabRemoved:
		return r.onTabRemoved(*ev.TabRemoved)
	case browserapi.EventTabUpdated:
		return r.onTabUpdated(ctx, *ev.TabUpdated)
	case browserapi.EventGroupUpdated:
		return r.onGroupUpdated(ctx, *ev.GroupUpdated)
	case browserapi.EventGroupRemoved:
		return r.onGroupRemoved(*ev.GroupRemoved)
	case browserapi.EventWindowFocusChanged:
		return r.activeTime.HandleFocusChange(ctx, ev.WindowFocusChanged.WindowID)
	case browserapi.EventWindowRemoved:
		r.windows.Remove(ev.WindowRemoved.WindowID)
		return nil
	case browserapi.EventNavigationCommitted:
		return r.onNavigationCommitted(*ev.NavigationCommitted)
	case browserapi.EventTabMoved:
		// Index-only reorder within the same window/group; nothing in
		// TabMeta or WindowState tracks position, so there is nothing to
		// reconcile.
		return nil
	case browserapi.EventTabAttached:
		return r.onTabAttached(*ev.TabAttached)
	case browserapi.EventTabDetached:
		// The matching EventTabAttached carries the destination window;
		// detach alone leaves the registry in a transient state CDP
		// doesn't expose a stable home for yet.
		return nil
	case browserapi.EventAlarm:
		r.requestEval(false)
		return nil
	default:
		log.Printf("router: unrecognized event kind %q", ev.Kind)
		return nil
	}
}

func (r *Router) onTabCreated(ctx context.Context, ev browserapi.TabCreated) error {
	tab := ev.Tab
	if tab.Pinned {
		return nil
	}

	r.tabs.TrackNew(tabregistry.LiveTab{
		TabID:    tab.TabID,
		WindowID: tab.WindowID,
		GroupID:  tab.GroupID,
		Pinned:   tab.Pinned,
	}, r.activeTime.GetCurrent(), r.clock())

	s := r.settingsM.Current()
	if s.AutoGroupEnabled {
		if err := r.placeNewTab(ctx, tab); err != nil {
			log.Printf("router: placement policy for tab %s: %v", tab.TabID, err)
		}
	}

	r.requestEval(true)
	return nil
}

// placeNewTab implements spec.md §4.6's placement policy.
func (r *Router) placeNewTab(ctx context.Context, tab browserapi.Tab) error {
	if tab.OpenerTabID == "" {
		return r.moveToLeftmostNonPinned(ctx, tab)
	}

	opener, err := r.browser.Tab(ctx, tab.OpenerTabID)
	if err != nil {
		if browserapi.IsNotFound(err) {
			return r.moveToLeftmostNonPinned(ctx, tab)
		}
		return err
	}

	if opener.Pinned {
		return r.moveToLeftmostNonPinned(ctx, tab)
	}

	if opener.GroupID == "" {
		return r.groupWithOpener(ctx, opener, tab)
	}

	group, err := r.browser.Group(ctx, opener.GroupID)
	if err != nil {
		if browserapi.IsNotFound(err) {
			return r.moveToLeftmostNonPinned(ctx, tab)
		}
		return err
	}

	if r.windows.IsSpecialGroup(opener.WindowID, opener.GroupID) {
		return r.moveToLeftmostNonPinned(ctx, tab)
	}

	if strings.TrimSpace(group.Title) == "" {
		// An unnamed-but-user-created group doesn't count as "named";
		// treat it like ungrouped for placement purposes.
		return r.groupWithOpener(ctx, opener, tab)
	}

	_, err = r.browser.GroupTabs(ctx, []string{tab.TabID}, opener.GroupID)
	return err
}

func (r *Router) groupWithOpener(ctx context.Context, opener browserapi.Tab, tab browserapi.Tab) error {
	groupID, err := r.browser.GroupTabs(ctx, []string{opener.TabID, tab.TabID}, "")
	if err != nil {
		return err
	}
	green := string(windowstate.ZoneGreen)
	if err := r.browser.UpdateGroup(ctx, groupID, nil, &green); err != nil {
		log.Printf("router: color new group %s green: %v", groupID, err)
	}
	r.windows.MarkExtensionCreated(tab.WindowID, groupID)
	r.tabs.OnGroupMembershipChange(opener.TabID, opener.WindowID, groupID)
	r.tabs.OnGroupMembershipChange(tab.TabID, tab.WindowID, groupID)
	return nil
}

func (r *Router) moveToLeftmostNonPinned(ctx context.Context, tab browserapi.Tab) error {
	siblings, err := r.browser.Tabs(ctx, browserapi.TabFilter{WindowID: tab.WindowID})
	if err != nil {
		return err
	}
	pinnedCount := 0
	for _, t := range siblings {
		if t.Pinned && t.TabID != tab.TabID {
			pinnedCount++
		}
	}
	return r.browser.MoveTab(ctx, tab.TabID, pinnedCount)
}

func (r *Router) onTabRemoved(ev browserapi.TabRemoved) error {
	old := r.tabs.OnRemove(ev.TabID)
	if old != nil && old.IsSpecialGroup && old.GroupID != "" {
		r.cleanupIfSpecialGroupEmpty(old.WindowID, old.GroupID)
	}
	r.requestEval(false)
	return nil
}

// cleanupIfSpecialGroupEmpty clears a window's special-group slot once
// its last member is gone (spec.md §4.6 "mark special-group slot for
// cleanup"). The caller has already removed the departing tab from the
// registry, so an empty ForWindow scan for that group id means "empty".
func (r *Router) cleanupIfSpecialGroupEmpty(windowID, groupID string) {
	remaining := r.tabs.ForWindow(windowID)
	for _, m := range remaining {
		if m.GroupID == groupID {
			return
		}
	}
	for _, color := range []windowstate.SpecialColor{windowstate.ColorYellow, windowstate.ColorRed} {
		if r.windows.LookupSpecial(windowID, color) == groupID {
			r.windows.ClearSpecial(windowID, color)
		}
	}
}

func (r *Router) onTabUpdated(ctx context.Context, ev browserapi.TabUpdated) error {
	if ev.Pinned != nil {
		tab, err := r.browser.Tab(ctx, ev.TabID)
		if err != nil && !browserapi.IsNotFound(err) {
			return err
		}
		r.tabs.OnPinnedChange(tabregistry.LiveTab{
			TabID: ev.TabID, WindowID: tab.WindowID, GroupID: tab.GroupID,
		}, *ev.Pinned, r.activeTime.GetCurrent(), r.clock())
		r.requestEval(false)
		return nil
	}

	if ev.GroupID != nil {
		meta := r.tabs.Get(ev.TabID)
		if meta != nil && meta.GroupID != *ev.GroupID {
			r.tabs.OnGroupMembershipChange(ev.TabID, meta.WindowID, *ev.GroupID)
			r.requestEval(false)
		}
	}

	if ev.Discarded != nil && !*ev.Discarded {
		r.tabs.MarkDiscardRestored(ev.TabID)
		return nil
	}

	return nil
}

func (r *Router) onTabAttached(ev browserapi.TabAttached) error {
	r.tabs.OnWindowChange(ev.TabID, ev.NewWindowID)
	r.requestEval(false)
	return nil
}

func (r *Router) onNavigationCommitted(ev browserapi.NavigationCommitted) error {
	if r.tabs.ConsumeDiscardRestored(ev.TabID) {
		return nil
	}

	m := r.tabs.Get(ev.TabID)
	r.tabs.OnRefresh(ev.TabID, r.activeTime.GetCurrent(), r.clock())

	if m != nil && m.IsSpecialGroup && m.GroupID != "" {
		if err := r.browser.UngroupTabs(context.Background(), []string{ev.TabID}); err != nil {
			log.Printf("router: ungroup refreshed tab %s from special group: %v", ev.TabID, err)
		}
		r.tabs.OnGroupMembershipChange(ev.TabID, m.WindowID, "")
		r.cleanupIfSpecialGroupEmpty(m.WindowID, m.GroupID)
	}

	r.requestEval(false)
	return nil
}

func (r *Router) onGroupUpdated(ctx context.Context, ev browserapi.GroupUpdated) error {
	g := ev.Group

	if r.windows.ConsumeExpectedTitleWrite(g.GroupID, g.Title) {
		return nil
	}

	now := r.clock()
	r.windows.ApplyUserEditLock(g.WindowID, g.GroupID, now+15_000)

	for _, color := range []windowstate.SpecialColor{windowstate.ColorYellow, windowstate.ColorRed} {
		if r.windows.LookupSpecial(g.WindowID, color) != g.GroupID {
			continue
		}
		s := r.settingsM.Current()
		want := s.YellowGroupName
		if color == windowstate.ColorRed {
			want = s.RedGroupName
		}
		if g.Title != want {
			if err := r.reflectSpecialGroupRename(ctx, color, g.Title); err != nil {
				log.Printf("router: reflect special group rename: %v", err)
			}
		}
	}
	return nil
}

func (r *Router) reflectSpecialGroupRename(ctx context.Context, color windowstate.SpecialColor, newTitle string) error {
	s := r.settingsM.Current()
	if color == windowstate.ColorYellow {
		s.YellowGroupName = newTitle
	} else {
		s.RedGroupName = newTitle
	}
	return r.settingsM.Save(ctx, s)
}

func (r *Router) onGroupRemoved(ev browserapi.GroupRemoved) error {
	for _, color := range []windowstate.SpecialColor{windowstate.ColorYellow, windowstate.ColorRed} {
		if r.windows.LookupSpecial(ev.WindowID, color) == ev.GroupID {
			r.windows.ClearSpecial(ev.WindowID, color)
		}
	}
	r.windows.ForgetGroup(ev.WindowID, ev.GroupID)
	return nil
}
