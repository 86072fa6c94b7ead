package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_PutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != ErrKeyNotFound {
		t.Fatalf("Get missing = %v, want ErrKeyNotFound", err)
	}
	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get = %q, want v", got)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != ErrKeyNotFound {
		t.Fatalf("Get after delete = %v, want ErrKeyNotFound", err)
	}
	// Deleting again is not an error.
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	s.nowF = func() time.Time { return now }

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); err != ErrKeyNotFound {
		t.Fatalf("Get after expiry = %v, want ErrKeyNotFound", err)
	}
}

func TestMemoryStore_CompareAndReplace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.CompareAndReplace(ctx, "k", []byte("wrong"), []byte("new"), time.Minute)
	if err != nil {
		t.Fatalf("CompareAndReplace: %v", err)
	}
	if ok {
		t.Fatal("CAS should fail when expected does not match")
	}

	ok, err = s.CompareAndReplace(ctx, "k", []byte("old"), []byte("new"), time.Minute)
	if err != nil {
		t.Fatalf("CompareAndReplace: %v", err)
	}
	if !ok {
		t.Fatal("CAS should succeed when expected matches")
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get = %q, want new", got)
	}

	ok, err = s.CompareAndReplace(ctx, "missing", []byte("x"), []byte("y"), time.Minute)
	if err != nil {
		t.Fatalf("CompareAndReplace missing: %v", err)
	}
	if ok {
		t.Fatal("CAS on a missing key should fail")
	}
}

func TestMemoryStore_CompareAndReplace_SingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("old"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const goroutines = 16
	var wg sync.WaitGroup
	wins := make(chan int, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.CompareAndReplace(ctx, "k", []byte("old"), []byte{byte(i)}, time.Minute)
			if err != nil {
				t.Errorf("CompareAndReplace: %v", err)
				return
			}
			if ok {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []int
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %v, want exactly one", winners)
	}
}

func TestMemoryStore_Sets(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	members, err := s.SetMembers(ctx, "set")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("SetMembers = %v, want empty", members)
	}

	if err := s.AddToSet(ctx, "set", "a", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	if err := s.AddToSet(ctx, "set", "b", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}
	// Re-adding is idempotent.
	if err := s.AddToSet(ctx, "set", "a", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}

	members, err = s.SetMembers(ctx, "set")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("SetMembers = %v, want 2 members", members)
	}

	if err := s.RemoveFromSet(ctx, "set", "a"); err != nil {
		t.Fatalf("RemoveFromSet: %v", err)
	}
	members, err = s.SetMembers(ctx, "set")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("SetMembers = %v, want [b]", members)
	}
}

func TestMemoryStore_SetExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now().UTC()
	s.nowF = func() time.Time { return now }

	if err := s.AddToSet(ctx, "set", "a", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}

	now = now.Add(30 * time.Second)
	// Adding b extends a's lifetime too.
	if err := s.AddToSet(ctx, "set", "b", time.Minute); err != nil {
		t.Fatalf("AddToSet: %v", err)
	}

	now = now.Add(45 * time.Second)
	members, err := s.SetMembers(ctx, "set")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("SetMembers = %v, want both members still live", members)
	}

	now = now.Add(time.Minute)
	members, err = s.SetMembers(ctx, "set")
	if err != nil {
		t.Fatalf("SetMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("SetMembers = %v, want empty after expiry", members)
	}
}
