// Package browserapi defines the BrowserAPI collaborator contract
// (spec.md §6): the core's only window onto the live browser. Two
// implementations exist — CDPBrowserAPI, which drives a real Chrome
// instance, and the in-process fake in fake.go used by every other
// package's tests.
package browserapi

import (
	"context"
	"errors"
)

// Tab mirrors one open, non-pinned browser tab.
type Tab struct {
	TabID       string
	WindowID    string
	GroupID     string // "" if ungrouped
	URL         string
	Title       string
	Pinned      bool
	Discarded   bool
	Index       int
	OpenerTabID string // "" if the tab was not opened from another tab
}

// Group mirrors one tab group (a "user group" or a core-managed special
// group — the BrowserAPI layer does not distinguish them, spec.md §3
// leaves that classification to WindowState).
type Group struct {
	GroupID  string
	WindowID string
	Title    string
	Color    string
	Index    int
}

// BookmarkNode mirrors one node of the bookmark tree.
type BookmarkNode struct {
	ID       string
	ParentID string
	Title    string
	URL      string // "" for folders
	Children []BookmarkNode
}

// Event is the sum type fed to the core's event router (C6), spec.md
// §4.6. Exactly one of the typed payload fields is populated per Kind.
type Event struct {
	Kind EventKind

	TabCreated        *TabCreated
	TabRemoved        *TabRemoved
	TabUpdated        *TabUpdated
	TabMoved          *TabMoved
	TabAttached       *TabAttached
	TabDetached       *TabDetached
	GroupUpdated      *GroupUpdated
	GroupRemoved      *GroupRemoved
	WindowFocusChanged *WindowFocusChanged
	WindowRemoved     *WindowRemoved
	NavigationCommitted *NavigationCommitted
	Alarm             *Alarm
}

// EventKind discriminates Event's payload.
type EventKind string

const (
	EventTabCreated          EventKind = "tab-created"
	EventTabRemoved          EventKind = "tab-removed"
	EventTabUpdated          EventKind = "tab-updated"
	EventTabMoved            EventKind = "tab-moved"
	EventTabAttached         EventKind = "tab-attached"
	EventTabDetached         EventKind = "tab-detached"
	EventGroupUpdated        EventKind = "group-updated"
	EventGroupRemoved        EventKind = "group-removed"
	EventWindowFocusChanged  EventKind = "window-focus-changed"
	EventWindowRemoved       EventKind = "window-removed"
	EventNavigationCommitted EventKind = "navigation-committed"
	EventAlarm               EventKind = "alarm"
)

type TabCreated struct{ Tab Tab }
type TabRemoved struct {
	TabID    string
	WindowID string
}
type TabUpdated struct {
	TabID     string
	Pinned    *bool
	Discarded *bool
	Title     *string
	URL       *string
	GroupID   *string // set only when tabGroups membership changed; "" means ungrouped
}
type TabMoved struct {
	TabID    string
	WindowID string
	ToIndex  int
}
type TabAttached struct {
	TabID       string
	NewWindowID string
}
type TabDetached struct {
	TabID       string
	OldWindowID string
}
type GroupUpdated struct{ Group Group }
type GroupRemoved struct {
	GroupID  string
	WindowID string
}

// WindowFocusChanged carries "" as WindowID when the browser loses OS
// focus entirely (spec.md §4.1).
type WindowFocusChanged struct{ WindowID string }
type WindowRemoved struct{ WindowID string }
type NavigationCommitted struct {
	TabID string
	URL   string
}
type Alarm struct{ Name string }

// TabFilter narrows Tabs(); zero value means "no filter".
type TabFilter struct {
	WindowID string
	GroupID  string
}

// API is the full BrowserAPI contract the core depends on (spec.md §6).
// All methods accept a context for cancellation; implementations must
// treat "item vanished underneath us" (closed tab, removed group) as a
// NotFoundError the caller can recognize and skip per the §7 error policy.
type API interface {
	Tabs(ctx context.Context, filter TabFilter) ([]Tab, error)
	Tab(ctx context.Context, tabID string) (Tab, error)
	CreateTab(ctx context.Context, windowID, url string) (Tab, error)
	MoveTab(ctx context.Context, tabID string, toIndex int) error
	GroupTabs(ctx context.Context, tabIDs []string, existingGroupID string) (string, error)
	UngroupTabs(ctx context.Context, tabIDs []string) error
	RemoveTab(ctx context.Context, tabID string) error

	Groups(ctx context.Context, windowID string) ([]Group, error)
	Group(ctx context.Context, groupID string) (Group, error)
	UpdateGroup(ctx context.Context, groupID string, title, color *string) error
	MoveGroup(ctx context.Context, groupID string, toIndex int) error

	Subscribe(ctx context.Context) (<-chan Event, error)

	ClearAlarm(ctx context.Context, name string) error
	CreateAlarm(ctx context.Context, name string, periodMS int64) error

	CreateBookmark(ctx context.Context, parentID, title, url string) (BookmarkNode, error)
	Bookmark(ctx context.Context, id string) (BookmarkNode, error)
	BookmarkChildren(ctx context.Context, parentID string) ([]BookmarkNode, error)
	UpdateBookmark(ctx context.Context, id string, title *string) error
	BookmarkTree(ctx context.Context) (BookmarkNode, error)
}

// NotFoundError is returned by implementations when the referenced tab,
// group, or bookmark no longer exists — the expected shape of a race with
// the user closing something out from under the core (spec.md §7).
type NotFoundError struct {
	Kind string // "tab", "group", "bookmark"
	ID   string
}

func (e *NotFoundError) Error() string {
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
