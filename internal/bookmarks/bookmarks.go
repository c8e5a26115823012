// Package bookmarks implements the bookmark-writer collaborator (spec.md
// §6 "Bookmark folder resilience", §4.7 phase 4): folder resolution with
// an id-then-title fallback, per-group subfolders, and external-rename
// detection. Grounded on the teacher's internal/logger.FileManager, whose
// per-key resource cache with lazy creation and double-checked
// sync.RWMutex locking is generalized here from "one file per site" to
// "one bookmark folder per group".
package bookmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/redact"
)

const rootParentID = "0" // "Other Bookmarks", per spec.md §6

var excludedSchemes = map[string]bool{
	"about:blank":      true,
	"chrome://newtab":  true,
	"chrome://newtab/": true,
}

// Item is one tab worth of bookmarkable material.
type Item struct {
	Title string
	URL   string
}

// Bookmarkable reports whether url qualifies for bookmarking (spec.md
// §4.7 phase 4): non-empty and not one of the excluded schemes.
func Bookmarkable(rawURL string) bool {
	return rawURL != "" && !excludedSchemes[rawURL]
}

// Writer resolves and caches the root "Closed Tabs"-style folder and
// writes bookmarks into it, mirroring any external rename back through
// the supplied settings sink.
type Writer struct {
	api      browserapi.API
	redactor *redact.Redactor

	mu       sync.Mutex
	folderID string // cached resolution, "" until first resolve
}

// SettingsSink lets the writer report an externally observed rename of
// the bookmark folder, without importing internal/settings directly (the
// dependency the other way already exists: C8 reads bookmark_folder_name
// to pass in here).
type SettingsSink interface {
	ReportExternalFolderRename(ctx context.Context, newTitle string) error
}

// New constructs a Writer. redactEnabled gates query-string scrubbing on
// bookmarked URLs (spec.md's privacy stance is silent here; this reuses
// the teacher's redaction toggle rather than inventing a new one).
func New(api browserapi.API, redactEnabled bool) *Writer {
	return &Writer{api: api, redactor: redact.New(redactEnabled)}
}

// SeedFolderID primes the writer's cache from a previously persisted
// resolution (internal/bookmarkstate), so the very first write after a
// host-process restart can skip the root-folder title scan entirely.
// A no-op once the writer has already resolved a folder this process
// lifetime.
func (w *Writer) SeedFolderID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.folderID == "" {
		w.folderID = id
	}
}

// FolderID returns the writer's currently cached folder id ("" if no
// folder has been resolved or seeded via SeedFolderID yet this process
// lifetime), for the caller
// to persist into internal/bookmarkstate after every cycle.
func (w *Writer) FolderID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.folderID
}

// resolveFolder implements spec.md §6's resilience protocol: stored id
// first, then a title scan of "Other Bookmarks", then create. On success
// it detects and reports an external rename.
func (w *Writer) resolveFolder(ctx context.Context, storedFolderID, wantTitle string, sink SettingsSink) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	candidate := w.folderID
	if candidate == "" {
		candidate = storedFolderID
	}

	if candidate != "" {
		node, err := w.api.Bookmark(ctx, candidate)
		if err == nil {
			w.folderID = node.ID
			w.detectRenameLocked(ctx, node.Title, wantTitle, sink)
			return node.ID, nil
		}
	}

	children, err := w.api.BookmarkChildren(ctx, rootParentID)
	if err != nil {
		return "", fmt.Errorf("bookmarks: scan root folder: %w", err)
	}
	for _, c := range children {
		if c.URL == "" && strings.EqualFold(c.Title, wantTitle) {
			w.folderID = c.ID
			return c.ID, nil
		}
	}

	node, err := w.api.CreateBookmark(ctx, rootParentID, wantTitle, "")
	if err != nil {
		return "", fmt.Errorf("bookmarks: create folder: %w", err)
	}
	w.folderID = node.ID
	return node.ID, nil
}

func (w *Writer) detectRenameLocked(ctx context.Context, liveTitle, wantTitle string, sink SettingsSink) {
	if liveTitle == "" || liveTitle == wantTitle || sink == nil {
		return
	}
	_ = sink.ReportExternalFolderRename(ctx, liveTitle)
}

// WriteGroup bookmarks every bookmarkable item under a subfolder named
// groupTitle (or "(unnamed)" if blank) inside the resolved root folder
// (spec.md §4.7 phase 4). A per-item bookmark failure is skipped: the
// remaining items are still written, and the first failure is returned
// for the caller to log. WriteGroup never blocks the corresponding tab
// close on a bookmark error (spec.md §7).
func (w *Writer) WriteGroup(ctx context.Context, storedFolderID, folderTitle, groupTitle string, items []Item, sink SettingsSink) error {
	rootID, err := w.resolveFolder(ctx, storedFolderID, folderTitle, sink)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(groupTitle)
	if name == "" {
		name = "(unnamed)"
	}

	sub, err := w.findOrCreateSubfolder(ctx, rootID, name)
	if err != nil {
		return fmt.Errorf("bookmarks: create group subfolder %q: %w", name, err)
	}

	var firstErr error
	for _, item := range items {
		if !Bookmarkable(item.URL) {
			continue
		}
		if _, err := w.createOne(ctx, sub, item); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("bookmarks: write %q: %w", item.URL, err)
		}
	}
	return firstErr
}

// WriteRoot bookmarks a single item directly under the resolved root
// folder (ungrouped gone tabs, and tabs leaving the red special group
// individually, per spec.md §4.7 phase 4).
func (w *Writer) WriteRoot(ctx context.Context, storedFolderID, folderTitle string, item Item, sink SettingsSink) error {
	if !Bookmarkable(item.URL) {
		return nil
	}
	rootID, err := w.resolveFolder(ctx, storedFolderID, folderTitle, sink)
	if err != nil {
		return err
	}
	_, err = w.createOne(ctx, rootID, item)
	return err
}

func (w *Writer) findOrCreateSubfolder(ctx context.Context, parentID, title string) (string, error) {
	children, err := w.api.BookmarkChildren(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, c := range children {
		if c.URL == "" && c.Title == title {
			return c.ID, nil
		}
	}
	node, err := w.api.CreateBookmark(ctx, parentID, title, "")
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

func (w *Writer) createOne(ctx context.Context, parentID string, item Item) (browserapi.BookmarkNode, error) {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = item.URL // spec.md §8: whitespace-only title falls back to URL
	} else {
		title = w.redactor.RedactText(title)
	}
	return w.api.CreateBookmark(ctx, parentID, title, w.scrubURL(item.URL))
}

// scrubURL strips denylisted query parameters (tokens, api keys, session
// secrets) from a URL before it is persisted as a bookmark, reusing the
// teacher's JSON-field redaction logic against the query string decoded
// as a flat object.
func (w *Writer) scrubURL(rawURL string) string {
	if !w.redactor.IsEnabled() {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.RawQuery == "" {
		return rawURL
	}

	query := u.Query()
	asMap := make(map[string]interface{}, len(query))
	for k, v := range query {
		if len(v) == 1 {
			asMap[k] = v[0]
		} else {
			asMap[k] = v
		}
	}
	raw, err := json.Marshal(asMap)
	if err != nil {
		return rawURL
	}
	scrubbed := w.redactor.RedactBody(string(raw))

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(scrubbed), &out); err != nil {
		return rawURL
	}
	newQuery := url.Values{}
	for k, v := range out {
		newQuery.Set(k, fmt.Sprint(v))
	}
	u.RawQuery = newQuery.Encode()
	return u.String()
}
