package player

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestRegistryRegisterGetRemove(t *testing.T) {
	r := NewRegistry()

	a := NewEntityIDAllocator()
	if _, err := r.Register("alice", 0, a, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.Register("alice", 0, a, nil); !errors.Is(err, ErrDuplicateUsername) {
		t.Errorf("expected ErrDuplicateUsername, got %v", err)
	}

	p, ok := r.Get("alice")
	if !ok {
		t.Fatal("alice not found")
	}
	if p.EntityID != 1 || p.Y != SpawnY || p.Stance != SpawnStance || !p.OnGround {
		t.Errorf("unexpected spawn state: %+v", p)
	}

	// Get returns a copy.
	p.X = 100
	if again, _ := r.Get("alice"); again.X != 0 {
		t.Error("mutating a copy changed the registry")
	}

	if _, ok := r.Remove("alice"); !ok {
		t.Error("Remove reported missing player")
	}
	if r.Count() != 0 {
		t.Errorf("Count = %d after remove", r.Count())
	}
	if _, ok := r.Remove("alice"); ok {
		t.Error("second Remove should report missing")
	}
}

func TestRegistryUpdate(t *testing.T) {
	r := NewRegistry()
	r.Register("bob", 0, NewEntityIDAllocator(), nil)

	err := r.Update("bob", func(p *Player) {
		p.SetPosition(1, 2, 3, 3.62)
		p.SetLook(90, -10)
		p.SetOnGround(false)
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	p, _ := r.Get("bob")
	if p.X != 1 || p.Y != 2 || p.Z != 3 || p.Stance != 3.62 {
		t.Errorf("position not applied: %+v", p)
	}
	if p.Yaw != 90 || p.Pitch != -10 || p.OnGround {
		t.Errorf("look not applied: %+v", p)
	}

	if err := r.Update("nobody", func(*Player) {}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	a := NewEntityIDAllocator()
	for _, n := range []string{"c", "a", "b", "d"} {
		r.Register(n, 0, a, nil)
	}
	r.Remove("b")

	got := r.List()
	want := []string{"c", "a", "d"}
	if len(got) != len(want) {
		t.Fatalf("List len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Username != want[i] {
			t.Errorf("List[%d] = %s, want %s", i, got[i].Username, want[i])
		}
	}
}

func TestAllocatorStartsAtOne(t *testing.T) {
	a := NewEntityIDAllocator()
	if a.Last() != 0 {
		t.Errorf("Last before any allocation = %d", a.Last())
	}
	for want := int32(1); want <= 3; want++ {
		if got := a.Next(); got != want {
			t.Errorf("Next = %d, want %d", got, want)
		}
	}
}

func TestConcurrentLogins(t *testing.T) {
	const n = 64
	r := NewRegistry()
	a := NewEntityIDAllocator()

	var wg sync.WaitGroup
	ids := make([]int32, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := r.Register(fmt.Sprintf("player%d", i), 0, a, nil)
			if err != nil {
				t.Errorf("Register failed: %v", err)
			}
			ids[i] = p.EntityID
		}(i)
	}
	wg.Wait()

	if r.Count() != n {
		t.Fatalf("Count = %d, want %d", r.Count(), n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int32(i+1) {
			t.Fatalf("ids not unique and dense: position %d has %d", i, id)
		}
	}
}

func TestOfflineUUID(t *testing.T) {
	u := OfflineUUID("Notch")
	if u.Version() != 3 {
		t.Errorf("version = %d, want 3", u.Version())
	}
	if u != OfflineUUID("Notch") {
		t.Error("UUID should be deterministic")
	}
	if u == OfflineUUID("notch") {
		t.Error("UUID should be case sensitive")
	}
}

func TestRegisterConsumesIDOnlyOnSuccess(t *testing.T) {
	r := NewRegistry()
	alloc := NewEntityIDAllocator()

	tests := []struct {
		name    string
		user    string
		limit   int
		wantErr error
		wantID  int32
	}{
		{"first", "alice", 0, nil, 1},
		{"duplicate", "alice", 0, ErrDuplicateUsername, 0},
		{"full", "bob", 1, ErrFull, 0},
		{"second", "bob", 2, nil, 2},
	}
	for _, tt := range tests {
		p, err := r.Register(tt.user, tt.limit, alloc, func(p *Player) { p.Remote = "pipe" })
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
		if p.EntityID != tt.wantID {
			t.Errorf("%s: eid = %d, want %d", tt.name, p.EntityID, tt.wantID)
		}
		if err == nil && p.Remote != "pipe" {
			t.Errorf("%s: init not applied", tt.name)
		}
	}
	if alloc.Last() != 2 {
		t.Errorf("allocator last = %d, want 2", alloc.Last())
	}
}

func TestRegisterEnforcesLimitConcurrently(t *testing.T) {
	r := NewRegistry()
	alloc := NewEntityIDAllocator()
	const limit = 5

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(fmt.Sprintf("player%d", i), limit, alloc, nil)
		}(i)
	}
	wg.Wait()

	if r.Count() != limit {
		t.Errorf("count = %d, want %d", r.Count(), limit)
	}
	if alloc.Last() != limit {
		t.Errorf("allocator last = %d, want %d", alloc.Last(), limit)
	}
}
