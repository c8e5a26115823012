package browserapi

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Fake is an in-memory API implementation for unit tests. It is not a
// mock in the assertion-library sense: it behaves like a real (if
// simplified) browser, so router/scheduler/bookmarks tests can drive it
// through ordinary calls and assert on the resulting state.
type Fake struct {
	mu sync.Mutex

	tabs       map[string]Tab
	groups     map[string]Group
	bookmarks  map[string]BookmarkNode
	nextID     int
	subscriber chan Event
	alarms     map[string]int64
}

// NewFake returns an empty Fake with a root bookmark folder "0".
func NewFake() *Fake {
	return &Fake{
		tabs:      make(map[string]Tab),
		groups:    make(map[string]Group),
		bookmarks: map[string]BookmarkNode{"0": {ID: "0", Title: "root"}},
		alarms:    make(map[string]int64),
	}
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return prefix + "-" + itoa(f.nextID)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Emit pushes a synthetic event to the active subscriber, if any. Tests
// use this to simulate browser-originated events (discard, navigation,
// focus change, alarm fire) that the fake's own CRUD methods don't
// generate on their own.
func (f *Fake) Emit(ev Event) {
	f.mu.Lock()
	ch := f.subscriber
	f.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

// SeedTab inserts a tab directly, bypassing CreateTab's event emission —
// used by tests to establish fixture state before subscribing.
func (f *Fake) SeedTab(tab Tab) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs[tab.TabID] = tab
}

// SeedGroup inserts a group directly, mirroring SeedTab.
func (f *Fake) SeedGroup(g Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[g.GroupID] = g
}

func (f *Fake) Tabs(_ context.Context, filter TabFilter) ([]Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Tab
	for _, t := range f.tabs {
		if filter.WindowID != "" && t.WindowID != filter.WindowID {
			continue
		}
		if filter.GroupID != "" && t.GroupID != filter.GroupID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *Fake) Tab(_ context.Context, tabID string) (Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[tabID]
	if !ok {
		return Tab{}, &NotFoundError{Kind: "tab", ID: tabID}
	}
	return t, nil
}

func (f *Fake) CreateTab(_ context.Context, windowID, url string) (Tab, error) {
	f.mu.Lock()
	id := f.newID("tab")
	t := Tab{TabID: id, WindowID: windowID, URL: url, Index: len(f.tabs)}
	f.tabs[id] = t
	f.mu.Unlock()
	f.Emit(Event{Kind: EventTabCreated, TabCreated: &TabCreated{Tab: t}})
	return t, nil
}

func (f *Fake) MoveTab(_ context.Context, tabID string, toIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[tabID]
	if !ok {
		return &NotFoundError{Kind: "tab", ID: tabID}
	}
	t.Index = toIndex
	f.tabs[tabID] = t
	return nil
}

func (f *Fake) GroupTabs(_ context.Context, tabIDs []string, existingGroupID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	groupID := existingGroupID
	if groupID == "" {
		groupID = f.newID("group")
		var windowID string
		if len(tabIDs) > 0 {
			windowID = f.tabs[tabIDs[0]].WindowID
		}
		f.groups[groupID] = Group{GroupID: groupID, WindowID: windowID}
	}
	for _, id := range tabIDs {
		t, ok := f.tabs[id]
		if !ok {
			continue
		}
		t.GroupID = groupID
		f.tabs[id] = t
	}
	return groupID, nil
}

func (f *Fake) UngroupTabs(_ context.Context, tabIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tabIDs {
		t, ok := f.tabs[id]
		if !ok {
			continue
		}
		t.GroupID = ""
		f.tabs[id] = t
	}
	return nil
}

func (f *Fake) RemoveTab(_ context.Context, tabID string) error {
	f.mu.Lock()
	t, ok := f.tabs[tabID]
	if !ok {
		f.mu.Unlock()
		return &NotFoundError{Kind: "tab", ID: tabID}
	}
	delete(f.tabs, tabID)
	f.mu.Unlock()
	f.Emit(Event{Kind: EventTabRemoved, TabRemoved: &TabRemoved{TabID: tabID, WindowID: t.WindowID}})
	return nil
}

func (f *Fake) Groups(_ context.Context, windowID string) ([]Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Group
	for _, g := range f.groups {
		if windowID != "" && g.WindowID != windowID {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *Fake) Group(_ context.Context, groupID string) (Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return Group{}, &NotFoundError{Kind: "group", ID: groupID}
	}
	return g, nil
}

func (f *Fake) UpdateGroup(_ context.Context, groupID string, title, color *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	if title != nil {
		g.Title = *title
	}
	if color != nil {
		g.Color = *color
	}
	f.groups[groupID] = g
	return nil
}

func (f *Fake) MoveGroup(_ context.Context, groupID string, toIndex int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	g.Index = toIndex
	f.groups[groupID] = g
	return nil
}

func (f *Fake) Subscribe(_ context.Context) (<-chan Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan Event, 64)
	f.subscriber = ch
	return ch, nil
}

func (f *Fake) ClearAlarm(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alarms, name)
	return nil
}

func (f *Fake) CreateAlarm(_ context.Context, name string, periodMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms[name] = periodMS
	return nil
}

func (f *Fake) CreateBookmark(_ context.Context, parentID, title, url string) (BookmarkNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.bookmarks[parentID]
	if !ok {
		return BookmarkNode{}, &NotFoundError{Kind: "bookmark", ID: parentID}
	}
	id := f.newID("bm")
	node := BookmarkNode{ID: id, ParentID: parentID, Title: title, URL: url}
	f.bookmarks[id] = node
	parent.Children = append(parent.Children, node)
	f.bookmarks[parentID] = parent
	return node, nil
}

func (f *Fake) Bookmark(_ context.Context, id string) (BookmarkNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.bookmarks[id]
	if !ok {
		return BookmarkNode{}, &NotFoundError{Kind: "bookmark", ID: id}
	}
	return n, nil
}

func (f *Fake) BookmarkChildren(_ context.Context, parentID string) ([]BookmarkNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, ok := f.bookmarks[parentID]
	if !ok {
		return nil, &NotFoundError{Kind: "bookmark", ID: parentID}
	}
	return parent.Children, nil
}

func (f *Fake) UpdateBookmark(_ context.Context, id string, title *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.bookmarks[id]
	if !ok {
		return &NotFoundError{Kind: "bookmark", ID: id}
	}
	if title != nil {
		n.Title = *title
	}
	f.bookmarks[id] = n
	if parent, ok := f.bookmarks[n.ParentID]; ok {
		for i := range parent.Children {
			if parent.Children[i].ID == id {
				parent.Children[i] = n
			}
		}
		f.bookmarks[n.ParentID] = parent
	}
	return nil
}

func (f *Fake) BookmarkTree(_ context.Context) (BookmarkNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buildTree("0"), nil
}

func (f *Fake) buildTree(id string) BookmarkNode {
	n := f.bookmarks[id]
	children := make([]BookmarkNode, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, f.buildTree(c.ID))
	}
	n.Children = children
	return n
}

// CreateFolder is a test convenience wrapping CreateBookmark with no URL.
func (f *Fake) CreateFolder(ctx context.Context, parentID, title string) (BookmarkNode, error) {
	return f.CreateBookmark(ctx, parentID, title, "")
}

// FindFolderByTitle is a test convenience mirroring the bookmark writer's
// fallback scan (spec.md §6 "Bookmark folder resilience").
func (f *Fake) FindFolderByTitle(ctx context.Context, parentID, title string) (BookmarkNode, bool) {
	children, err := f.BookmarkChildren(ctx, parentID)
	if err != nil {
		return BookmarkNode{}, false
	}
	for _, c := range children {
		if c.URL == "" && strings.EqualFold(c.Title, title) {
			return c, true
		}
	}
	return BookmarkNode{}, false
}

var _ API = (*Fake)(nil)
