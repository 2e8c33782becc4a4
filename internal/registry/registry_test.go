package registry

import "testing"

func TestRegistry_InsertRejectsDuplicate(t *testing.T) {
	r := New[string, int]()
	if !r.Insert("a", 1) {
		t.Fatal("first insert should succeed")
	}
	if r.Insert("a", 2) {
		t.Fatal("second insert of same key should be rejected")
	}
	v, ok := r.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected original value 1 to survive rejected insert, got %v", v)
	}
}

func TestRegistry_RemoveReportsPresence(t *testing.T) {
	r := New[string, int]()
	r.Insert("a", 1)
	if _, ok := r.Remove("a"); !ok {
		t.Fatal("expected remove of present key to report true")
	}
	if _, ok := r.Remove("a"); ok {
		t.Fatal("expected remove of absent key to report false")
	}
}

func TestRegistry_SnapshotIsIndependentOfLiveMap(t *testing.T) {
	r := New[string, int]()
	r.Insert("a", 1)
	r.Insert("b", 2)

	var snapshot []Entry[string, int]
	r.Snapshot(func(entries []Entry[string, int]) {
		snapshot = entries
		r.Insert("c", 3) // mutate after snapshot is captured
	})

	if len(snapshot) != 2 {
		t.Fatalf("expected snapshot of 2 entries taken before mutation, got %d", len(snapshot))
	}
}

func TestRegistry_Find(t *testing.T) {
	r := New[string, int]()
	r.Insert("a", 1)
	r.Insert("b", 2)

	v, ok := r.Find(func(k string, v int) bool { return v == 2 })
	if !ok || v != 2 {
		t.Fatalf("expected to find value 2, got %v, ok=%v", v, ok)
	}

	if _, ok := r.Find(func(k string, v int) bool { return v == 99 }); ok {
		t.Fatal("expected no match for absent value")
	}
}
