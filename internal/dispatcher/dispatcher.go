// Package dispatcher implements C8, the Reactive Settings Dispatcher
// (spec.md §4.8): it compares the pre- and post-change settings blobs and
// fires the matching side effect table entry before requesting a new
// evaluation cycle. Grounded on the teacher's internal/config validation
// pass, generalized from "reject an invalid write" into "react to a valid
// one".
package dispatcher

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/taillog"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowstate"
)

// ageGraceMS is the "+60 000" grace window spec.md §4.8's age-cap formula
// adds on top of red_to_gone, so a tab does not arrive already gone the
// instant aging is re-enabled.
const ageGraceMS = 60_000

// RequestEval mirrors internal/router's callback shape: the dispatcher's
// final act on every settings change is to request a (non-debounced)
// evaluation cycle, serialized behind any cycle already in flight
// (spec.md §4.8 "the final request-eval is serialised behind any
// in-flight cycle").
type RequestEval func(debounce bool)

// Clock supplies the wall and active-time "now" the age cap needs.
type Clock func() int64

// Dispatcher wires settings changes to their side effects.
type Dispatcher struct {
	tabs          *tabregistry.Registry
	windows       *windowregistry.Registry
	browser       browserapi.API
	clock         Clock
	currentActive func() int64
	requestEval   RequestEval
	logSink       *taillog.Sink
}

// SetLogSink attaches the diagnostic sink settings-driven side effects are
// recorded to. Nil-safe when unset.
func (d *Dispatcher) SetLogSink(sink *taillog.Sink) {
	d.logSink = sink
}

// New constructs a Dispatcher and subscribes it to settingsM's change
// stream. currentActive returns the live current_active_time value (owned
// by internal/activetime) at the moment a change is observed.
func New(
	settingsM *settings.Model,
	tabs *tabregistry.Registry,
	windows *windowregistry.Registry,
	browser browserapi.API,
	clock Clock,
	currentActive func() int64,
	requestEval RequestEval,
) *Dispatcher {
	d := &Dispatcher{
		tabs:          tabs,
		windows:       windows,
		browser:       browser,
		clock:         clock,
		currentActive: currentActive,
		requestEval:   requestEval,
	}
	settingsM.OnChange(d.onChange)
	return d
}

// onChange is settings.Model's OnChange callback: it is invoked
// synchronously from Save, after the new blob is already durable.
func (d *Dispatcher) onChange(old, new settings.Settings) {
	ctx := context.Background()

	if !old.AgingEnabled && new.AgingEnabled {
		d.applyAgeCap(new.Thresholds.RedToGone)
	}
	if old.TabSortingEnabled && !new.TabSortingEnabled {
		d.ungroupAllSpecialGroups(ctx)
	}

	if old.YellowGroupName != new.YellowGroupName {
		d.renameSpecialGroup(ctx, windowstate.ColorYellow, new.YellowGroupName)
	}
	if old.RedGroupName != new.RedGroupName {
		d.renameSpecialGroup(ctx, windowstate.ColorRed, new.RedGroupName)
	}

	if old.ShowGroupAgeEnabled && !new.ShowGroupAgeEnabled {
		d.stripAllAgeSuffixes(ctx)
	}

	d.logSink.Log(taillog.Event{Time: time.Now(), Kind: taillog.KindSettingsChanged})

	// thresholds changed, or any other toggle not already handled above:
	// request-eval is the whole effect (spec.md §4.8's catch-all row).
	d.requestEval(false)
}

// applyAgeCap implements spec.md §4.8's age-cap formula: every tracked
// record's refresh clocks are clamped forward so a tab doesn't arrive
// already past red_to_gone the instant aging comes back on.
func (d *Dispatcher) applyAgeCap(redToGone time.Duration) {
	nowWall := d.clock()
	nowActive := d.currentActive()
	graceMS := int64(redToGone/time.Millisecond) + ageGraceMS

	wallCap := nowWall - graceMS
	activeCap := nowActive - graceMS

	d.tabs.ApplyAgeCap(wallCap, activeCap)
}

// ungroupAllSpecialGroups implements spec.md §4.8's tab_sorting_enabled
// true→false row: every window's yellow/red special group is dissolved
// and forgotten so a future re-enable starts fresh.
func (d *Dispatcher) ungroupAllSpecialGroups(ctx context.Context) {
	for _, windowID := range d.windows.WindowIDs() {
		for _, color := range []windowstate.SpecialColor{windowstate.ColorYellow, windowstate.ColorRed} {
			groupID := d.windows.LookupSpecial(windowID, color)
			if groupID == "" {
				continue
			}
			members, err := d.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: groupID})
			if err != nil {
				log.Printf("dispatcher: list members of special group %s: %v", groupID, err)
				continue
			}
			ids := make([]string, 0, len(members))
			for _, m := range members {
				ids = append(ids, m.TabID)
			}
			if len(ids) > 0 {
				if err := d.browser.UngroupTabs(ctx, ids); err != nil {
					log.Printf("dispatcher: ungroup special group %s: %v", groupID, err)
				}
				for _, id := range ids {
					d.tabs.OnGroupMembershipChange(id, windowID, "")
				}
			}
			d.windows.ClearSpecial(windowID, color)
		}
	}
}

// renameSpecialGroup implements spec.md §4.8's yellow/red name-change row:
// every window whose special group of that color already exists gets its
// title rewritten, self-detected via mark_expected_title_write.
func (d *Dispatcher) renameSpecialGroup(ctx context.Context, color windowstate.SpecialColor, newName string) {
	for _, windowID := range d.windows.WindowIDs() {
		groupID := d.windows.LookupSpecial(windowID, color)
		if groupID == "" {
			continue
		}
		d.windows.MarkExpectedTitleWrite(groupID, newName)
		if err := d.browser.UpdateGroup(ctx, groupID, &newName, nil); err != nil {
			log.Printf("dispatcher: rename special group %s: %v", groupID, err)
		}
	}
}

// stripAllAgeSuffixes implements spec.md §4.8's show_group_age true→false
// row: every user group (not a special group) has its age suffix removed,
// one-shot, self-detected the same way.
func (d *Dispatcher) stripAllAgeSuffixes(ctx context.Context) {
	for _, windowID := range d.windows.WindowIDs() {
		groups, err := d.browser.Groups(ctx, windowID)
		if err != nil {
			log.Printf("dispatcher: list groups for window %s: %v", windowID, err)
			continue
		}
		for _, g := range groups {
			if d.windows.IsSpecialGroup(windowID, g.GroupID) {
				continue
			}
			stripped := stripAgeSuffix(g.Title)
			if stripped == g.Title {
				continue
			}
			d.windows.MarkExpectedTitleWrite(g.GroupID, stripped)
			if err := d.browser.UpdateGroup(ctx, g.GroupID, &stripped, nil); err != nil {
				log.Printf("dispatcher: strip age suffix for group %s: %v", g.GroupID, err)
			}
		}
	}
}

// stripAgeSuffix removes a trailing " (<n>[mhd])" token, if present. This
// duplicates internal/scheduler's helper of the same name rather than
// importing internal/scheduler from here: C8 reacting to settings must
// not depend on C7's run_cycle package, or a change callback fired mid-
// cycle could deadlock against the scheduler's own guard (spec.md §5's
// phases are C7-internal; this package only ever calls browser/registry
// methods directly).
func stripAgeSuffix(title string) string {
	trimmed := strings.TrimRight(title, " ")
	if !strings.HasSuffix(trimmed, ")") {
		return title
	}
	idx := strings.LastIndex(trimmed, "(")
	if idx < 0 {
		return title
	}
	inner := trimmed[idx+1 : len(trimmed)-1]
	if !isAgeToken(inner) {
		return title
	}
	return strings.TrimRight(trimmed[:idx], " ")
}

func isAgeToken(s string) bool {
	if len(s) < 2 {
		return false
	}
	unit := s[len(s)-1]
	if unit != 'm' && unit != 'h' && unit != 'd' {
		return false
	}
	digits := s[:len(s)-1]
	if digits == "" {
		return false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
