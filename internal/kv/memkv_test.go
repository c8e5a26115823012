package kv

import (
	"context"
	"testing"
)

func TestMemStoreGetSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	if got, err := s.Get(ctx, "a"); err != nil || len(got) != 0 {
		t.Fatalf("expected empty get, got %v err %v", got, err)
	}

	if err := s.Set(ctx, map[string][]byte{"a": []byte(`1`), "b": []byte(`2`)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Get(ctx, "a", "b", "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("unexpected values: %v", got)
	}
	if _, ok := got["c"]; ok {
		t.Fatalf("expected missing key c to be absent")
	}

	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, _ = s.Get(ctx, "a")
	if _, ok := got["a"]; ok {
		t.Fatalf("expected a removed")
	}
}

func TestMemStoreSubscribeNotifiesOldAndNew(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	if err := s.Set(ctx, map[string][]byte{"k": []byte(`"v1"`)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, map[string][]byte{"k": []byte(`"v2"`)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Remove(ctx, "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d", len(changes))
	}
	if changes[0].Old != nil {
		t.Errorf("expected first change to have nil old, got %q", changes[0].Old)
	}
	if string(changes[1].Old) != `"v1"` || string(changes[1].New) != `"v2"` {
		t.Errorf("unexpected second change: %+v", changes[1])
	}
	if changes[2].New != nil {
		t.Errorf("expected remove to have nil new, got %q", changes[2].New)
	}
}

func TestMemStoreSetCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	v := []byte(`"x"`)
	if err := s.Set(ctx, map[string][]byte{"k": v}); err != nil {
		t.Fatalf("set: %v", err)
	}
	v[1] = 'Y' // mutate caller's slice after Set

	got, _ := s.Get(ctx, "k")
	if string(got["k"]) != `"x"` {
		t.Fatalf("expected stored value unaffected by caller mutation, got %q", got["k"])
	}
}
