package browserapi

import (
	"context"
	"testing"
)

func TestCreateTabEmitsEvent(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	ch, err := f.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tab, err := f.CreateTab(ctx, "w1", "https://example.com")
	if err != nil {
		t.Fatalf("create tab: %v", err)
	}

	ev := <-ch
	if ev.Kind != EventTabCreated || ev.TabCreated.Tab.TabID != tab.TabID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestGroupTabsCreatesNewGroup(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	t1, _ := f.CreateTab(ctx, "w1", "https://a.example")
	t2, _ := f.CreateTab(ctx, "w1", "https://b.example")

	groupID, err := f.GroupTabs(ctx, []string{t1.TabID, t2.TabID}, "")
	if err != nil {
		t.Fatalf("group tabs: %v", err)
	}
	if groupID == "" {
		t.Fatal("expected non-empty group id")
	}

	got1, _ := f.Tab(ctx, t1.TabID)
	got2, _ := f.Tab(ctx, t2.TabID)
	if got1.GroupID != groupID || got2.GroupID != groupID {
		t.Fatalf("expected both tabs in %q, got %+v %+v", groupID, got1, got2)
	}
}

func TestGroupTabsJoinsExistingGroup(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	t1, _ := f.CreateTab(ctx, "w1", "https://a.example")
	groupID, _ := f.GroupTabs(ctx, []string{t1.TabID}, "")

	t2, _ := f.CreateTab(ctx, "w1", "https://b.example")
	got, err := f.GroupTabs(ctx, []string{t2.TabID}, groupID)
	if err != nil || got != groupID {
		t.Fatalf("expected to join existing group %q, got %q err=%v", groupID, got, err)
	}
}

func TestUngroupTabsClearsGroupID(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	t1, _ := f.CreateTab(ctx, "w1", "https://a.example")
	groupID, _ := f.GroupTabs(ctx, []string{t1.TabID}, "")
	_ = groupID

	if err := f.UngroupTabs(ctx, []string{t1.TabID}); err != nil {
		t.Fatalf("ungroup: %v", err)
	}
	got, _ := f.Tab(ctx, t1.TabID)
	if got.GroupID != "" {
		t.Fatalf("expected cleared group id, got %q", got.GroupID)
	}
}

func TestRemoveTabReturnsNotFoundOnSecondCall(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	t1, _ := f.CreateTab(ctx, "w1", "https://a.example")

	if err := f.RemoveTab(ctx, t1.TabID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	err := f.RemoveTab(ctx, t1.TabID)
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestBookmarkFolderResolutionByTitle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	folder, err := f.CreateFolder(ctx, "0", "Closed Tabs")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}

	found, ok := f.FindFolderByTitle(ctx, "0", "closed tabs")
	if !ok || found.ID != folder.ID {
		t.Fatalf("expected case-insensitive folder match, got %+v ok=%v", found, ok)
	}
}

func TestCreateBookmarkUnderFolder(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	folder, _ := f.CreateFolder(ctx, "0", "Closed Tabs")

	bm, err := f.CreateBookmark(ctx, folder.ID, "Example", "https://example.com")
	if err != nil {
		t.Fatalf("create bookmark: %v", err)
	}

	children, err := f.BookmarkChildren(ctx, folder.ID)
	if err != nil || len(children) != 1 || children[0].ID != bm.ID {
		t.Fatalf("expected bookmark listed under folder, got %+v err=%v", children, err)
	}
}

func TestUpdateBookmarkTitleReflectsInParentChildren(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	folder, _ := f.CreateFolder(ctx, "0", "Closed Tabs")
	bm, _ := f.CreateBookmark(ctx, folder.ID, "Old Title", "https://example.com")

	newTitle := "New Title"
	if err := f.UpdateBookmark(ctx, bm.ID, &newTitle); err != nil {
		t.Fatalf("update bookmark: %v", err)
	}

	children, _ := f.BookmarkChildren(ctx, folder.ID)
	if children[0].Title != "New Title" {
		t.Fatalf("expected updated title reflected in parent's children, got %+v", children)
	}
}

func TestTabsFilterByWindowAndGroup(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	t1, _ := f.CreateTab(ctx, "w1", "https://a.example")
	_, _ = f.CreateTab(ctx, "w2", "https://b.example")
	groupID, _ := f.GroupTabs(ctx, []string{t1.TabID}, "")

	byWindow, _ := f.Tabs(ctx, TabFilter{WindowID: "w1"})
	if len(byWindow) != 1 || byWindow[0].TabID != t1.TabID {
		t.Fatalf("expected 1 tab in w1, got %+v", byWindow)
	}

	byGroup, _ := f.Tabs(ctx, TabFilter{GroupID: groupID})
	if len(byGroup) != 1 || byGroup[0].TabID != t1.TabID {
		t.Fatalf("expected 1 tab in group, got %+v", byGroup)
	}
}
