package browserapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	chromelaunch "github.com/tabkeeper/tabkeeper/internal/cdp"
)

// Chrome's tab-groups, bookmarks, and alarms surfaces are extension-only
// APIs (chrome.tabGroups, chrome.bookmarks, chrome.alarms): the DevTools
// Protocol itself has no domain for any of them. CDPBrowserAPI therefore
// attaches to a companion privileged extension's service-worker target
// (matched by a chrome-extension:// URL prefix) and drives those calls by
// evaluating JS in that context via Runtime.Evaluate, the same technique
// the teacher's manager.go uses to reach into page targets. Tab-level
// calls (query/get/create/move/group/ungroup/remove) go through the same
// bridge via chrome.tabs, so every tab id is an extension tab id.
type CDPBrowserAPI struct {
	chromePort    string
	extensionHint string // URL prefix identifying the companion extension's service worker

	mu           sync.Mutex
	allocatorCtx context.Context
	cancelAlloc  context.CancelFunc
	browserCtx   context.Context
	cancelBrow   context.CancelFunc
	extCtx       context.Context // attached to the extension service worker

	subscriber chan Event
}

// NewCDPBrowserAPI constructs an adapter for a Chrome instance already
// listening on chromePort with --remote-debugging-port, and whose
// companion extension's service worker URL begins with extensionHint
// (e.g. "chrome-extension://<id>/").
func NewCDPBrowserAPI(chromePort, extensionHint string) *CDPBrowserAPI {
	return &CDPBrowserAPI{chromePort: chromePort, extensionHint: extensionHint}
}

// Connect attaches to the running Chrome instance and the companion
// extension context. Grounded on the teacher's cdp.Manager.connect(): the
// same discover-then-attach shape, adapted to also locate the extension's
// privileged target rather than individual page tabs.
func (c *CDPBrowserAPI) Connect(ctx context.Context) error {
	info, err := chromelaunch.DiscoverBrowserInfo(c.chromePort)
	if err != nil {
		return fmt.Errorf("browserapi: discover browser info: %w", err)
	}

	c.mu.Lock()
	c.allocatorCtx, c.cancelAlloc = chromedp.NewRemoteAllocator(ctx, info.WebSocketDebuggerURL)
	c.browserCtx, c.cancelBrow = chromedp.NewContext(c.allocatorCtx)
	c.mu.Unlock()

	if err := chromedp.Run(c.browserCtx, target.SetDiscoverTargets(true)); err != nil {
		c.cancelBrow()
		c.cancelAlloc()
		return fmt.Errorf("browserapi: enable target discovery: %w", err)
	}

	extTargetID, err := c.findExtensionTarget(ctx)
	if err != nil {
		return fmt.Errorf("browserapi: locate companion extension: %w", err)
	}

	extCtx, _ := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(extTargetID))
	c.mu.Lock()
	c.extCtx = extCtx
	c.mu.Unlock()

	return nil
}

func (c *CDPBrowserAPI) findExtensionTarget(ctx context.Context) (target.ID, error) {
	var targets []*target.Info
	if err := chromedp.Run(c.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		infos, err := target.GetTargets().Do(ctx)
		targets = infos
		return err
	})); err != nil {
		return "", err
	}
	for _, t := range targets {
		if len(t.URL) >= len(c.extensionHint) && t.URL[:len(c.extensionHint)] == c.extensionHint {
			return t.TargetID, nil
		}
	}
	return "", fmt.Errorf("no target matching %q", c.extensionHint)
}

// evalJSON evaluates a JS expression that returns a JSON-serializable
// value in the extension context and unmarshals the result into out.
func (c *CDPBrowserAPI) evalJSON(ctx context.Context, expr string, out interface{}) error {
	var raw []byte
	action := chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithReturnByValue(true)
	})
	if err := chromedp.Run(c.extCtx, action); err != nil {
		return fmt.Errorf("browserapi: evaluate %q: %w", expr, err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *CDPBrowserAPI) Tabs(ctx context.Context, filter TabFilter) ([]Tab, error) {
	query := "{}"
	if filter.WindowID != "" {
		query = fmt.Sprintf(`{windowId: %s}`, filter.WindowID)
	}
	expr := fmt.Sprintf(`chrome.tabs.query(%s).then(tabs => tabs
		.filter(t => !t.pinned)
		.map(t => ({tabId: String(t.id), windowId: String(t.windowId), groupId: t.groupId > 0 ? String(t.groupId) : "", url: t.url, title: t.title, pinned: t.pinned, discarded: t.discarded, index: t.index})))`, query)
	var tabs []Tab
	if err := c.evalJSON(ctx, expr, &tabs); err != nil {
		return nil, err
	}
	if filter.GroupID != "" {
		var out []Tab
		for _, t := range tabs {
			if t.GroupID == filter.GroupID {
				out = append(out, t)
			}
		}
		return out, nil
	}
	return tabs, nil
}

func (c *CDPBrowserAPI) Tab(ctx context.Context, tabID string) (Tab, error) {
	var t Tab
	expr := fmt.Sprintf(`chrome.tabs.get(%s).then(t => ({tabId: String(t.id), windowId: String(t.windowId), groupId: t.groupId > 0 ? String(t.groupId) : "", url: t.url, title: t.title, pinned: t.pinned, discarded: t.discarded, index: t.index}))`, tabID)
	if err := c.evalJSON(ctx, expr, &t); err != nil {
		return Tab{}, &NotFoundError{Kind: "tab", ID: tabID}
	}
	return t, nil
}

func (c *CDPBrowserAPI) CreateTab(ctx context.Context, windowID, url string) (Tab, error) {
	var t Tab
	expr := fmt.Sprintf(`chrome.tabs.create({windowId: %s, url: %q, active: false}).then(t => ({tabId: String(t.id), windowId: String(t.windowId), url: t.url, title: t.title || "", index: t.index}))`, windowID, url)
	if err := c.evalJSON(ctx, expr, &t); err != nil {
		return Tab{}, fmt.Errorf("browserapi: create tab: %w", err)
	}
	return t, nil
}

func (c *CDPBrowserAPI) MoveTab(ctx context.Context, tabID string, toIndex int) error {
	expr := fmt.Sprintf(`chrome.tabs.move(%s, {index: %d})`, tabID, toIndex)
	if err := c.evalJSON(ctx, expr, nil); err != nil {
		return &NotFoundError{Kind: "tab", ID: tabID}
	}
	return nil
}

func (c *CDPBrowserAPI) GroupTabs(ctx context.Context, tabIDs []string, existingGroupID string) (string, error) {
	ids := jsIDArray(tabIDs)
	var opts string
	if existingGroupID != "" {
		opts = fmt.Sprintf(`{tabIds: %s, groupId: %s}`, ids, existingGroupID)
	} else {
		opts = fmt.Sprintf(`{tabIds: %s}`, ids)
	}
	var groupID string
	expr := fmt.Sprintf(`chrome.tabs.group(%s).then(id => String(id))`, opts)
	if err := c.evalJSON(ctx, expr, &groupID); err != nil {
		return "", fmt.Errorf("browserapi: group tabs: %w", err)
	}
	return groupID, nil
}

func (c *CDPBrowserAPI) UngroupTabs(ctx context.Context, tabIDs []string) error {
	expr := fmt.Sprintf(`chrome.tabs.ungroup(%s)`, jsIDArray(tabIDs))
	return c.evalJSON(ctx, expr, nil)
}

func (c *CDPBrowserAPI) RemoveTab(ctx context.Context, tabID string) error {
	expr := fmt.Sprintf(`chrome.tabs.remove(%s)`, tabID)
	if err := c.evalJSON(ctx, expr, nil); err != nil {
		return &NotFoundError{Kind: "tab", ID: tabID}
	}
	return nil
}

func (c *CDPBrowserAPI) Groups(ctx context.Context, windowID string) ([]Group, error) {
	query := "{}"
	if windowID != "" {
		query = fmt.Sprintf(`{windowId: %s}`, windowID)
	}
	var groups []Group
	expr := fmt.Sprintf(`chrome.tabGroups.query(%s).then(gs => gs.map(g => ({groupId: String(g.id), windowId: String(g.windowId), title: g.title || "", color: g.color, index: -1})))`, query)
	if err := c.evalJSON(ctx, expr, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *CDPBrowserAPI) Group(ctx context.Context, groupID string) (Group, error) {
	var g Group
	expr := fmt.Sprintf(`chrome.tabGroups.get(%s).then(g => ({groupId: String(g.id), windowId: String(g.windowId), title: g.title || "", color: g.color, index: -1}))`, groupID)
	if err := c.evalJSON(ctx, expr, &g); err != nil {
		return Group{}, &NotFoundError{Kind: "group", ID: groupID}
	}
	return g, nil
}

func (c *CDPBrowserAPI) UpdateGroup(ctx context.Context, groupID string, title, color *string) error {
	fields := map[string]string{}
	if title != nil {
		fields["title"] = fmt.Sprintf("%q", *title)
	}
	if color != nil {
		fields["color"] = fmt.Sprintf("%q", *color)
	}
	if len(fields) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`chrome.tabGroups.update(%s, %s)`, groupID, jsObject(fields))
	if err := c.evalJSON(ctx, expr, nil); err != nil {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	return nil
}

func (c *CDPBrowserAPI) MoveGroup(ctx context.Context, groupID string, toIndex int) error {
	expr := fmt.Sprintf(`chrome.tabGroups.move(%s, {index: %d})`, groupID, toIndex)
	if err := c.evalJSON(ctx, expr, nil); err != nil {
		return &NotFoundError{Kind: "group", ID: groupID}
	}
	return nil
}

// Subscribe wires the extension's event listeners to a Go channel via a
// CDP binding: the companion extension's service worker calls
// `__tabkeeperEmit(JSON.stringify(event))`, and Runtime.bindingCalled
// delivers it here, mirroring the teacher's ListenTarget dispatch loop.
func (c *CDPBrowserAPI) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 256)
	c.mu.Lock()
	c.subscriber = ch
	c.mu.Unlock()

	if err := chromedp.Run(c.extCtx, runtime.AddBinding("__tabkeeperEmit")); err != nil {
		return nil, fmt.Errorf("browserapi: add binding: %w", err)
	}

	chromedp.ListenTarget(c.extCtx, func(ev interface{}) {
		bc, ok := ev.(*runtime.EventBindingCalled)
		if !ok || bc.Name != "__tabkeeperEmit" {
			return
		}
		var e Event
		if err := json.Unmarshal([]byte(bc.Payload), &e); err != nil {
			log.Printf("browserapi: malformed event payload: %v", err)
			return
		}
		select {
		case ch <- e:
		case <-ctx.Done():
		}
	})

	return ch, nil
}

func (c *CDPBrowserAPI) ClearAlarm(ctx context.Context, name string) error {
	return c.evalJSON(ctx, fmt.Sprintf(`chrome.alarms.clear(%q)`, name), nil)
}

func (c *CDPBrowserAPI) CreateAlarm(ctx context.Context, name string, periodMS int64) error {
	periodMinutes := float64(periodMS) / float64(time.Minute/time.Millisecond)
	expr := fmt.Sprintf(`chrome.alarms.create(%q, {periodInMinutes: %f})`, name, periodMinutes)
	return c.evalJSON(ctx, expr, nil)
}

func (c *CDPBrowserAPI) CreateBookmark(ctx context.Context, parentID, title, url string) (BookmarkNode, error) {
	var n BookmarkNode
	expr := fmt.Sprintf(`chrome.bookmarks.create({parentId: %q, title: %q, url: %s}).then(b => ({id: b.id, parentId: b.parentId, title: b.title, url: b.url || ""}))`,
		parentID, title, jsStringOrUndefined(url))
	if err := c.evalJSON(ctx, expr, &n); err != nil {
		return BookmarkNode{}, fmt.Errorf("browserapi: create bookmark: %w", err)
	}
	return n, nil
}

func (c *CDPBrowserAPI) Bookmark(ctx context.Context, id string) (BookmarkNode, error) {
	var nodes []BookmarkNode
	expr := fmt.Sprintf(`chrome.bookmarks.get(%q).then(ns => ns.map(n => ({id: n.id, parentId: n.parentId || "", title: n.title, url: n.url || ""})))`, id)
	if err := c.evalJSON(ctx, expr, &nodes); err != nil || len(nodes) == 0 {
		return BookmarkNode{}, &NotFoundError{Kind: "bookmark", ID: id}
	}
	return nodes[0], nil
}

func (c *CDPBrowserAPI) BookmarkChildren(ctx context.Context, parentID string) ([]BookmarkNode, error) {
	var nodes []BookmarkNode
	expr := fmt.Sprintf(`chrome.bookmarks.getChildren(%q).then(ns => ns.map(n => ({id: n.id, parentId: n.parentId || "", title: n.title, url: n.url || ""})))`, parentID)
	if err := c.evalJSON(ctx, expr, &nodes); err != nil {
		return nil, &NotFoundError{Kind: "bookmark", ID: parentID}
	}
	return nodes, nil
}

func (c *CDPBrowserAPI) UpdateBookmark(ctx context.Context, id string, title *string) error {
	if title == nil {
		return nil
	}
	expr := fmt.Sprintf(`chrome.bookmarks.update(%q, {title: %q})`, id, *title)
	if err := c.evalJSON(ctx, expr, nil); err != nil {
		return &NotFoundError{Kind: "bookmark", ID: id}
	}
	return nil
}

func (c *CDPBrowserAPI) BookmarkTree(ctx context.Context) (BookmarkNode, error) {
	var roots []BookmarkNode
	expr := `chrome.bookmarks.getTree()`
	if err := c.evalJSON(ctx, expr, &roots); err != nil || len(roots) == 0 {
		return BookmarkNode{}, fmt.Errorf("browserapi: get bookmark tree: %w", err)
	}
	return roots[0], nil
}

func (c *CDPBrowserAPI) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelBrow != nil {
		c.cancelBrow()
	}
	if c.cancelAlloc != nil {
		c.cancelAlloc()
	}
	return nil
}

func jsIDArray(ids []string) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		out += id
	}
	return out + "]"
}

func jsObject(fields map[string]string) string {
	out := "{"
	first := true
	for k, v := range fields {
		if !first {
			out += ", "
		}
		first = false
		out += k + ": " + v
	}
	return out + "}"
}

func jsStringOrUndefined(s string) string {
	if s == "" {
		return "undefined"
	}
	return fmt.Sprintf("%q", s)
}

var _ API = (*CDPBrowserAPI)(nil)
