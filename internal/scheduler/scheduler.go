// Package scheduler implements C7, the Evaluation Cycle: run_cycle()'s
// phases 0-8 (spec.md §4.7), the re-entrancy guard and 300ms sort
// debounce (spec.md §5). Grounded on the teacher's cdp.Manager.Start
// reconnect loop — a single goroutine that owns a lifecycle end to end,
// with a guard so only one is ever in flight — generalized here from
// "one connection attempt" to "one evaluation cycle", with a pending flag
// standing in for the teacher's retry backoff.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tabkeeper/tabkeeper/internal/activetime"
	"github.com/tabkeeper/tabkeeper/internal/autoname"
	"github.com/tabkeeper/tabkeeper/internal/bookmarks"
	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/statuseval"
	"github.com/tabkeeper/tabkeeper/internal/tabmeta"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/taillog"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowstate"
)

const sortDebounce = 300 * time.Millisecond

// Scheduler owns run_cycle() and the event-driven trigger that invokes it.
type Scheduler struct {
	tabs       *tabregistry.Registry
	windows    *windowregistry.Registry
	settingsM  *settings.Model
	browser    browserapi.API
	bookmarker *bookmarks.Writer
	activeTime *activetime.Accumulator
	clock      activetime.Clock
	logSink    *taillog.Sink

	mu              sync.Mutex
	cycleInProgress bool
	pending         bool
	debounceTimer   *time.Timer
}

// New wires a Scheduler to its collaborators.
func New(
	tabs *tabregistry.Registry,
	windows *windowregistry.Registry,
	settingsM *settings.Model,
	browser browserapi.API,
	bookmarker *bookmarks.Writer,
	activeTime *activetime.Accumulator,
	clock activetime.Clock,
) *Scheduler {
	return &Scheduler{
		tabs:       tabs,
		windows:    windows,
		settingsM:  settingsM,
		browser:    browser,
		bookmarker: bookmarker,
		activeTime: activeTime,
		clock:      clock,
	}
}

// SetLogSink attaches the diagnostic sink new cycles and closures are
// recorded to. Nil-safe when unset (taillog.Sink's methods tolerate a nil
// receiver), so tests can construct a Scheduler without one.
func (s *Scheduler) SetLogSink(sink *taillog.Sink) {
	s.logSink = sink
}

// RequestEval is the router's (and dispatcher's) handle onto the cycle
// queue (spec.md §5): debounce true coalesces rapid tab/group-move events
// over 300ms; debounce false (alarm-driven) fires immediately.
func (s *Scheduler) RequestEval(debounce bool) {
	if !debounce {
		s.trigger()
		return
	}
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(sortDebounce, s.trigger)
	s.mu.Unlock()
}

// trigger implements the re-entrancy guard: at most one cycle in flight,
// at most one more queued behind it (spec.md §5).
func (s *Scheduler) trigger() {
	s.mu.Lock()
	if s.cycleInProgress {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.cycleInProgress = true
	s.mu.Unlock()

	go s.runUntilDry(context.Background())
}

func (s *Scheduler) runUntilDry(ctx context.Context) {
	for {
		if err := s.RunCycle(ctx); err != nil {
			log.Printf("scheduler: run_cycle: %v", err)
		}
		s.mu.Lock()
		if s.pending {
			s.pending = false
			s.mu.Unlock()
			continue
		}
		s.cycleInProgress = false
		s.mu.Unlock()
		return
	}
}

// RunCycle runs one full evaluation cycle to completion, synchronously —
// the entry point run_cycle() names in spec.md §4.7. Exposed directly (in
// addition to the async RequestEval path) so callers needing a
// deterministic, awaitable cycle (tests) can invoke it without going
// through the debounce/guard machinery. The alarm handler in
// internal/router goes through RequestEval(false) instead.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	cfg := s.settingsM.Current()
	currentActiveTime := s.activeTime.GetCurrent()
	nowWall := s.clock()

	s.logSink.Log(taillog.Event{Time: time.UnixMilli(nowWall), Kind: taillog.KindCycleStart})

	for _, windowID := range s.windowIDs() {
		if err := s.runCycleForWindow(ctx, windowID, cfg, currentActiveTime, nowWall); err != nil {
			log.Printf("scheduler: window %s: %v", windowID, err)
		}
	}

	if err := s.tabs.Flush(ctx); err != nil {
		return fmt.Errorf("scheduler: flush tab registry: %w", err)
	}
	if err := s.windows.Flush(ctx); err != nil {
		return fmt.Errorf("scheduler: flush window registry: %w", err)
	}
	if err := s.activeTime.PersistTick(ctx); err != nil {
		return fmt.Errorf("scheduler: persist active time: %w", err)
	}
	s.logSink.Log(taillog.Event{Time: time.UnixMilli(nowWall), Kind: taillog.KindCycleEnd})
	return nil
}

func (s *Scheduler) windowIDs() []string {
	set := make(map[string]bool)
	for _, m := range s.tabs.All() {
		set[m.WindowID] = true
	}
	for _, id := range s.windows.WindowIDs() {
		set[id] = true
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) runCycleForWindow(ctx context.Context, windowID string, cfg settings.Settings, currentActiveTime, nowWall int64) error {
	var currentStatus map[string]string

	if cfg.AgingEnabled {
		currentStatus = s.phase1StatusTransitions(windowID, cfg, currentActiveTime, nowWall)

		if cfg.TabSortingEnabled {
			s.phase2SpecialGroupMembership(ctx, windowID, cfg, currentStatus)
		}

		groupStatus := s.phase3GroupStatusAndColor(ctx, windowID, cfg, currentStatus)

		if err := s.phase4GoneClosure(ctx, windowID, cfg, currentStatus, groupStatus); err != nil {
			log.Printf("scheduler: phase4 gone closure, window %s: %v", windowID, err)
		}

		s.phase5ZoneSort(ctx, windowID, cfg, groupStatus)
	}

	s.phase6DissolveTrivialGroups(ctx, windowID)

	if cfg.AutoGroupNamingEnabled {
		s.phase7AutoName(ctx, windowID, cfg, nowWall)
	}

	if cfg.ShowGroupAgeEnabled && cfg.AgingEnabled {
		s.phase8AgeSuffix(ctx, windowID, cfg, currentActiveTime, nowWall)
	}

	return nil
}

// phase1StatusTransitions evaluates every tracked tab's age against the
// configured thresholds, persists real status changes, and returns every
// tab's status for this cycle — including the transient "gone-transient"
// value, which phases 2-4 need but which is never written to the record
// (spec.md §4.7 phase 1).
func (s *Scheduler) phase1StatusTransitions(windowID string, cfg settings.Settings, currentActiveTime, nowWall int64) map[string]string {
	metas := s.tabs.ForWindow(windowID)
	gates := statuseval.GatesFrom(cfg)
	out := make(map[string]string, len(metas))

	for id, m := range metas {
		age := statuseval.Age(m, currentActiveTime, nowWall, cfg.TimeMode)
		newStatus := statuseval.ComputeStatus(age, cfg.Thresholds, gates)
		out[id] = newStatus
		if newStatus != statuseval.Transient && newStatus != string(m.Status) {
			s.tabs.SetStatus(id, tabmeta.Status(newStatus))
		}
	}
	return out
}

// phase2SpecialGroupMembership moves non-pinned tabs that are not in a
// real user group into (or out of) the window's special groups based on
// their current-cycle status (spec.md §4.7 phase 2).
func (s *Scheduler) phase2SpecialGroupMembership(ctx context.Context, windowID string, cfg settings.Settings, currentStatus map[string]string) {
	for tabID, status := range currentStatus {
		meta := s.tabs.Get(tabID)
		if meta == nil {
			continue
		}
		inUserGroup := meta.GroupID != "" && !meta.IsSpecialGroup
		if inUserGroup {
			continue
		}

		switch status {
		case string(tabmeta.StatusYellow):
			s.ensureInSpecialGroup(ctx, windowID, tabID, meta, windowstate.ColorYellow, cfg.YellowGroupName)
		case string(tabmeta.StatusRed):
			s.ensureInSpecialGroup(ctx, windowID, tabID, meta, windowstate.ColorRed, cfg.RedGroupName)
		case string(tabmeta.StatusGreen):
			if meta.IsSpecialGroup {
				if err := s.browser.UngroupTabs(ctx, []string{tabID}); err != nil {
					log.Printf("scheduler: phase2 ungroup %s: %v", tabID, err)
					continue
				}
				s.tabs.OnGroupMembershipChange(tabID, windowID, "")
			}
		}
	}
}

func (s *Scheduler) ensureInSpecialGroup(ctx context.Context, windowID, tabID string, meta *tabmeta.Meta, color windowstate.SpecialColor, name string) {
	groupID := s.windows.LookupSpecial(windowID, color)
	if groupID == "" {
		newGroupID, err := s.browser.GroupTabs(ctx, []string{tabID}, "")
		if err != nil {
			log.Printf("scheduler: phase2 create special group for %s: %v", tabID, err)
			return
		}
		colorStr := string(color)
		s.windows.MarkExpectedTitleWrite(newGroupID, name)
		if err := s.browser.UpdateGroup(ctx, newGroupID, &name, &colorStr); err != nil {
			log.Printf("scheduler: phase2 title/color special group %s: %v", newGroupID, err)
		}
		s.windows.SetSpecial(windowID, color, newGroupID)
		s.tabs.OnGroupMembershipChange(tabID, windowID, newGroupID)
		return
	}

	if meta.GroupID == groupID {
		return
	}
	if _, err := s.browser.GroupTabs(ctx, []string{tabID}, groupID); err != nil {
		log.Printf("scheduler: phase2 move %s into special group %s: %v", tabID, groupID, err)
		return
	}
	s.tabs.OnGroupMembershipChange(tabID, windowID, groupID)
}

// statusRank orders green<yellow<red<gone-transient for "freshest member"
// comparisons (spec.md §4.7 phase 3: argmin over this ordering).
func statusRank(status string) int {
	switch status {
	case string(tabmeta.StatusGreen):
		return 0
	case string(tabmeta.StatusYellow):
		return 1
	case string(tabmeta.StatusRed):
		return 2
	default: // statuseval.Transient
		return 3
	}
}

// phase3GroupStatusAndColor computes each user group's freshest-member
// status, recolors it if enabled, and returns the per-group status map
// phases 4-5 consume ("" for an empty-of-qualifying-members group).
func (s *Scheduler) phase3GroupStatusAndColor(ctx context.Context, windowID string, cfg settings.Settings, currentStatus map[string]string) map[string]string {
	groups, err := s.browser.Groups(ctx, windowID)
	if err != nil {
		log.Printf("scheduler: phase3 list groups, window %s: %v", windowID, err)
		return nil
	}

	out := make(map[string]string, len(groups))
	for _, g := range groups {
		if s.windows.IsSpecialGroup(windowID, g.GroupID) {
			continue
		}

		members, err := s.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: g.GroupID})
		if err != nil {
			log.Printf("scheduler: phase3 list members of %s: %v", g.GroupID, err)
			continue
		}

		freshest := ""
		for _, m := range members {
			if m.Pinned {
				continue
			}
			status, tracked := currentStatus[m.TabID]
			if !tracked {
				continue
			}
			if freshest == "" || statusRank(status) < statusRank(freshest) {
				freshest = status
			}
		}
		out[g.GroupID] = freshest

		if freshest != "" && cfg.TabGroupColoringEnabled {
			color := freshest
			if color == statuseval.Transient {
				color = string(tabmeta.StatusRed)
			}
			if err := s.browser.UpdateGroup(ctx, g.GroupID, nil, &color); err != nil {
				log.Printf("scheduler: phase3 color group %s: %v", g.GroupID, err)
			}
		}
	}
	return out
}

// phase4GoneClosure bookmarks (best-effort) and removes every tab whose
// status is gone-transient, plus the full membership of any user group
// whose freshest member is gone-transient (spec.md §4.7 phase 4).
func (s *Scheduler) phase4GoneClosure(ctx context.Context, windowID string, cfg settings.Settings, currentStatus, groupStatus map[string]string) error {
	closingGroups := make(map[string]bool)
	for groupID, status := range groupStatus {
		if status == statuseval.Transient {
			closingGroups[groupID] = true
		}
	}

	var individualTabs []string
	for tabID, status := range currentStatus {
		if status != statuseval.Transient {
			continue
		}
		meta := s.tabs.Get(tabID)
		if meta != nil && meta.GroupID != "" && closingGroups[meta.GroupID] {
			continue // covered by the group-level bookmark+close below
		}
		individualTabs = append(individualTabs, tabID)
	}

	// A plain errgroup.Group (no WithContext) on purpose: one unit's
	// failure must never cancel another's bookmark-then-remove in flight
	// (spec.md §5 "no cancellation ... per-item isolation on failures").
	var g errgroup.Group

	for groupID := range closingGroups {
		groupID := groupID
		g.Go(func() error {
			return s.closeGroup(ctx, windowID, cfg, groupID)
		})
	}
	for _, tabID := range individualTabs {
		tabID := tabID
		g.Go(func() error {
			s.closeTabIndividually(ctx, cfg, tabID)
			return nil
		})
	}

	return g.Wait()
}

func (s *Scheduler) closeGroup(ctx context.Context, windowID string, cfg settings.Settings, groupID string) error {
	members, err := s.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: groupID})
	if err != nil {
		return fmt.Errorf("list members of closing group %s: %w", groupID, err)
	}

	if cfg.BookmarkEnabled && s.bookmarker != nil {
		group, err := s.browser.Group(ctx, groupID)
		title := ""
		if err == nil {
			title = group.Title
		}
		items := make([]bookmarks.Item, 0, len(members))
		for _, m := range members {
			items = append(items, bookmarks.Item{Title: m.Title, URL: m.URL})
		}
		if err := s.bookmarker.WriteGroup(ctx, "", cfg.BookmarkFolderName, title, items, s); err != nil {
			log.Printf("scheduler: bookmark closing group %s: %v", groupID, err)
		}
	}

	for _, m := range members {
		if err := s.browser.RemoveTab(ctx, m.TabID); err != nil && !browserapi.IsNotFound(err) {
			log.Printf("scheduler: remove tab %s from closing group %s: %v", m.TabID, groupID, err)
		}
		s.tabs.OnRemove(m.TabID)
	}
	s.windows.ForgetGroup(windowID, groupID)
	s.logSink.Log(taillog.Event{Time: time.Now(), Kind: taillog.KindGroupClosed, WindowID: windowID, GroupID: groupID, Detail: fmt.Sprintf("%d members", len(members))})
	return nil
}

func (s *Scheduler) closeTabIndividually(ctx context.Context, cfg settings.Settings, tabID string) {
	if cfg.BookmarkEnabled && s.bookmarker != nil {
		if tab, err := s.browser.Tab(ctx, tabID); err == nil {
			if err := s.bookmarker.WriteRoot(ctx, "", cfg.BookmarkFolderName, bookmarks.Item{Title: tab.Title, URL: tab.URL}, s); err != nil {
				log.Printf("scheduler: bookmark tab %s: %v", tabID, err)
			}
		}
	}
	if err := s.browser.RemoveTab(ctx, tabID); err != nil && !browserapi.IsNotFound(err) {
		log.Printf("scheduler: remove tab %s: %v", tabID, err)
	}
	s.tabs.OnRemove(tabID)
	s.logSink.Log(taillog.Event{Time: time.Now(), Kind: taillog.KindTabClosed, TabID: tabID})
}

// ReportExternalFolderRename implements bookmarks.SettingsSink by
// persisting an externally observed bookmark-folder rename back into
// settings (spec.md §6 "Bookmark folder resilience").
func (s *Scheduler) ReportExternalFolderRename(ctx context.Context, newTitle string) error {
	cur := s.settingsM.Current()
	if cur.BookmarkFolderName == newTitle {
		return nil
	}
	cur.BookmarkFolderName = newTitle
	return s.settingsM.Save(ctx, cur)
}

// zoneFor maps a group's computed status to its sort zone.
func zoneFor(status string) windowstate.Zone {
	switch status {
	case string(tabmeta.StatusYellow):
		return windowstate.ZoneYellow
	case string(tabmeta.StatusRed), statuseval.Transient:
		return windowstate.ZoneRed
	default:
		return windowstate.ZoneGreen
	}
}

// phase5ZoneSort repositions user groups by zone and anchors the special
// groups at their zone boundaries (spec.md §4.7 phase 5).
func (s *Scheduler) phase5ZoneSort(ctx context.Context, windowID string, cfg settings.Settings, groupStatus map[string]string) {
	if !cfg.TabSortingEnabled {
		return
	}

	groups, err := s.browser.Groups(ctx, windowID)
	if err != nil {
		log.Printf("scheduler: phase5 list groups, window %s: %v", windowID, err)
		return
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Index < groups[j].Index })

	var baseline []string
	for _, g := range groups {
		if s.windows.IsSpecialGroup(windowID, g.GroupID) {
			continue
		}
		if _, tracked := groupStatus[g.GroupID]; tracked {
			baseline = append(baseline, g.GroupID)
		}
	}

	var finalOrder []string
	if cfg.TabGroupSortingEnabled {
		finalOrder = s.sortedUserGroupOrder(windowID, baseline, groupStatus)
	} else {
		finalOrder = baseline
	}

	yellowSpecial := s.windows.LookupSpecial(windowID, windowstate.ColorYellow)
	redSpecial := s.windows.LookupSpecial(windowID, windowstate.ColorRed)

	var withSpecials []string
	for _, groupID := range finalOrder {
		zone := zoneFor(groupStatus[groupID])
		if (zone == windowstate.ZoneYellow || zone == windowstate.ZoneRed) && yellowSpecial != "" && !contains(withSpecials, yellowSpecial) {
			withSpecials = append(withSpecials, yellowSpecial)
		}
		if zone == windowstate.ZoneRed && redSpecial != "" && !contains(withSpecials, redSpecial) {
			withSpecials = append(withSpecials, redSpecial)
		}
		withSpecials = append(withSpecials, groupID)
	}
	if yellowSpecial != "" && !contains(withSpecials, yellowSpecial) {
		withSpecials = append(withSpecials, yellowSpecial)
	}
	if redSpecial != "" && !contains(withSpecials, redSpecial) {
		withSpecials = append(withSpecials, redSpecial)
	}

	for i, groupID := range withSpecials {
		if err := s.browser.MoveGroup(ctx, groupID, i); err != nil {
			log.Printf("scheduler: phase5 move group %s to %d: %v", groupID, i, err)
		}
	}

	if cfg.TabGroupSortingEnabled {
		for _, groupID := range finalOrder {
			s.windows.SetZone(windowID, groupID, zoneFor(groupStatus[groupID]))
		}
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// sortedUserGroupOrder buckets groups by zone (green, yellow, red); within
// a bucket, a group that just changed into this zone goes leftmost, a
// group already assigned to this zone keeps its prior relative order
// (spec.md §4.7 phase 5 "stability rule").
func (s *Scheduler) sortedUserGroupOrder(windowID string, baseline []string, groupStatus map[string]string) []string {
	zones := []windowstate.Zone{windowstate.ZoneGreen, windowstate.ZoneYellow, windowstate.ZoneRed}
	var out []string
	for _, zone := range zones {
		var changed, stable []string
		for _, groupID := range baseline {
			if zoneFor(groupStatus[groupID]) != zone {
				continue
			}
			if s.windows.Zone(windowID, groupID) == zone {
				stable = append(stable, groupID)
			} else {
				changed = append(changed, groupID)
			}
		}
		out = append(out, changed...)
		out = append(out, stable...)
	}
	return out
}

// phase6DissolveTrivialGroups ungroups the sole remaining member of any
// core-created group whose effective (suffix-stripped) title is empty
// (spec.md §4.7 phase 6).
func (s *Scheduler) phase6DissolveTrivialGroups(ctx context.Context, windowID string) {
	groups, err := s.browser.Groups(ctx, windowID)
	if err != nil {
		log.Printf("scheduler: phase6 list groups, window %s: %v", windowID, err)
		return
	}

	for _, g := range groups {
		if !s.windows.IsExtensionCreated(windowID, g.GroupID) {
			continue
		}
		members, err := s.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: g.GroupID})
		if err != nil {
			log.Printf("scheduler: phase6 list members of %s: %v", g.GroupID, err)
			continue
		}
		if len(members) != 1 || stripAgeSuffix(g.Title) != "" {
			continue
		}
		if err := s.browser.UngroupTabs(ctx, []string{members[0].TabID}); err != nil {
			log.Printf("scheduler: phase6 ungroup sole member of %s: %v", g.GroupID, err)
			continue
		}
		s.tabs.OnGroupMembershipChange(members[0].TabID, windowID, "")
		s.windows.ForgetGroup(windowID, g.GroupID)
	}
}

// phase7AutoName suggests and writes a title for every unnamed user group
// whose naming delay has elapsed and is not locked by a recent manual edit
// (spec.md §4.7 phase 7).
func (s *Scheduler) phase7AutoName(ctx context.Context, windowID string, cfg settings.Settings, nowWall int64) {
	groups, err := s.browser.Groups(ctx, windowID)
	if err != nil {
		log.Printf("scheduler: phase7 list groups, window %s: %v", windowID, err)
		return
	}
	delayMS := int64(cfg.AutoNameDelayMinutes) * 60_000

	for _, g := range groups {
		if s.windows.IsSpecialGroup(windowID, g.GroupID) {
			continue
		}
		if stripAgeSuffix(g.Title) != "" {
			continue
		}

		naming := s.windows.Naming(windowID, g.GroupID)
		if naming.FirstUnnamedSeenAt == 0 {
			naming.FirstUnnamedSeenAt = nowWall
			s.windows.SetNaming(windowID, g.GroupID, naming)
			continue
		}
		if nowWall-naming.FirstUnnamedSeenAt < delayMS {
			continue
		}
		if naming.UserEditLockUntil > nowWall {
			continue
		}

		members, err := s.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: g.GroupID})
		if err != nil {
			log.Printf("scheduler: phase7 list members of %s: %v", g.GroupID, err)
			continue
		}
		inputs := make([]autoname.TabInput, 0, len(members))
		for _, m := range members {
			inputs = append(inputs, autoname.TabInput{Title: m.Title, URL: m.URL})
		}
		candidate := autoname.Suggest(inputs)
		if candidate == "" {
			continue
		}

		s.windows.MarkExpectedTitleWrite(g.GroupID, candidate)
		if err := s.browser.UpdateGroup(ctx, g.GroupID, &candidate, nil); err != nil {
			log.Printf("scheduler: phase7 write name for %s: %v", g.GroupID, err)
			continue
		}
		naming.LastAutoNamedAt = nowWall
		naming.LastCandidate = candidate
		s.windows.SetNaming(windowID, g.GroupID, naming)
		s.logSink.Log(taillog.Event{Time: time.UnixMilli(nowWall), Kind: taillog.KindAutoNamed, WindowID: windowID, GroupID: g.GroupID, Detail: candidate})
	}
}

// phase8AgeSuffix appends (or refreshes) an age suffix on every user
// group's title, derived from its freshest member (spec.md §4.7 phase 8).
func (s *Scheduler) phase8AgeSuffix(ctx context.Context, windowID string, cfg settings.Settings, currentActiveTime, nowWall int64) {
	groups, err := s.browser.Groups(ctx, windowID)
	if err != nil {
		log.Printf("scheduler: phase8 list groups, window %s: %v", windowID, err)
		return
	}

	for _, g := range groups {
		if s.windows.IsSpecialGroup(windowID, g.GroupID) {
			continue
		}
		members, err := s.browser.Tabs(ctx, browserapi.TabFilter{WindowID: windowID, GroupID: g.GroupID})
		if err != nil {
			continue
		}

		var freshest *tabmeta.Meta
		for _, m := range members {
			meta := s.tabs.Get(m.TabID)
			if meta == nil {
				continue
			}
			if freshest == nil || statusRank(string(meta.Status)) < statusRank(string(freshest.Status)) {
				freshest = meta
			}
		}
		if freshest == nil {
			continue
		}

		age := statuseval.Age(freshest, currentActiveTime, nowWall, cfg.TimeMode)
		suffix := formatAgeSuffix(age)
		base := stripAgeSuffix(g.Title)
		newTitle := suffix
		if base != "" {
			newTitle = base + " " + suffix
		}
		if newTitle == g.Title {
			continue
		}
		s.windows.MarkExpectedTitleWrite(g.GroupID, newTitle)
		if err := s.browser.UpdateGroup(ctx, g.GroupID, &newTitle, nil); err != nil {
			log.Printf("scheduler: phase8 write age suffix for %s: %v", g.GroupID, err)
		}
	}
}

func formatAgeSuffix(age time.Duration) string {
	if age < time.Hour {
		return fmt.Sprintf("(%dm)", int64(age/time.Minute))
	}
	if age < 24*time.Hour {
		return fmt.Sprintf("(%dh)", int64(age/time.Hour))
	}
	return fmt.Sprintf("(%dd)", int64(age/(24*time.Hour)))
}

// stripAgeSuffix removes a trailing " (<n>[mhd])" token, if present,
// returning the title unchanged otherwise (spec.md §4.7 phases 6-8).
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
