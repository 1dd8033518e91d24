package memory

import (
	"fmt"
	"testing"
)

func TestBufferCapInvariant(t *testing.T) {
	b := NewBuffer(5, nil)

	for i := 0; i < 8; i++ {
		b.Add("u1", &Item{ID: fmt.Sprintf("m%d", i), Type: TypeEpisodic})
	}

	got := b.Recent("u1")
	if len(got) != 5 {
		t.Fatalf("got %d buffered items, want 5", len(got))
	}
	// The five most recent survive, oldest first.
	for i, it := range got {
		want := fmt.Sprintf("m%d", i+3)
		if it.ID != want {
			t.Errorf("position %d: got %q, want %q", i, it.ID, want)
		}
	}
}

func TestBufferEvictionCallback(t *testing.T) {
	var (
		evictedUser string
		evictedIDs  []string
	)
	b := NewBuffer(3, func(userID string, evicted []*Item) {
		evictedUser = userID
		for _, it := range evicted {
			evictedIDs = append(evictedIDs, it.ID)
		}
	})

	for i := 0; i < 4; i++ {
		b.Add("u1", &Item{ID: fmt.Sprintf("m%d", i)})
	}

	if evictedUser != "u1" {
		t.Fatalf("got evicted user %q, want %q", evictedUser, "u1")
	}
	if len(evictedIDs) != 1 || evictedIDs[0] != "m0" {
		t.Errorf("got evicted %v, want [m0]", evictedIDs)
	}
}

func TestBufferUsersIsolated(t *testing.T) {
	b := NewBuffer(10, nil)
	b.Add("u1", &Item{ID: "a"})
	b.Add("u2", &Item{ID: "b"})

	if n := b.Len("u1"); n != 1 {
		t.Errorf("u1: got %d items, want 1", n)
	}
	if n := b.Len("u2"); n != 1 {
		t.Errorf("u2: got %d items, want 1", n)
	}
	if n := b.Len("missing"); n != 0 {
		t.Errorf("missing user: got %d items, want 0", n)
	}
}

func TestBufferDrop(t *testing.T) {
	b := NewBuffer(10, nil)
	b.Add("u1", &Item{ID: "keep"})
	b.Add("u1", &Item{ID: "gone"})

	b.Drop("u1", []string{"gone"})

	got := b.Recent("u1")
	if len(got) != 1 || got[0].ID != "keep" {
		t.Fatalf("got %d items after drop, want only %q", len(got), "keep")
	}
}
