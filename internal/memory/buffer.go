package memory

import (
	"sync"
	"time"
)

// DefaultBufferCap is the per-user short-term item limit.
const DefaultBufferCap = 50

// EvictFunc is called when a user's buffer overflows its cap. The manager
// uses it to kick off a consolidation pass instead of hitting storage per
// item.
type EvictFunc func(userID string, evicted []*Item)

// Buffer is the in-process short-term memory: the most recently stored
// items per user, oldest evicted first once the cap is exceeded. It does
// not survive a restart; the store is the system of record.
type Buffer struct {
	mu       sync.RWMutex
	cap      int
	users    map[string]*userBuffer
	onEvict  EvictFunc
	idleTTL  time.Duration
}

type userBuffer struct {
	items    []*Item
	lastSeen time.Time
}

// NewBuffer creates a Buffer with the given per-user cap. A cap of zero
// or less falls back to the default.
func NewBuffer(capacity int, onEvict EvictFunc) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCap
	}
	return &Buffer{
		cap:     capacity,
		users:   make(map[string]*userBuffer),
		onEvict: onEvict,
		idleTTL: 12 * time.Hour,
	}
}

// Add appends an item to the user's buffer. If the buffer overflows, the
// oldest items past the cap are evicted and handed to the evict callback
// in one batch.
func (b *Buffer) Add(userID string, item *Item) {
	var evicted []*Item

	b.mu.Lock()
	ub, ok := b.users[userID]
	if !ok {
		ub = &userBuffer{}
		b.users[userID] = ub
	}
	ub.items = append(ub.items, item)
	ub.lastSeen = time.Now()
	if over := len(ub.items) - b.cap; over > 0 {
		evicted = make([]*Item, over)
		copy(evicted, ub.items[:over])
		ub.items = append(ub.items[:0], ub.items[over:]...)
	}
	b.mu.Unlock()

	if len(evicted) > 0 && b.onEvict != nil {
		b.onEvict(userID, evicted)
	}
}

// Recent returns a copy of the user's buffered items, oldest first.
func (b *Buffer) Recent(userID string) []*Item {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ub, ok := b.users[userID]
	if !ok {
		return nil
	}
	out := make([]*Item, len(ub.items))
	copy(out, ub.items)
	return out
}

// Len reports how many items are buffered for the user.
func (b *Buffer) Len(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ub, ok := b.users[userID]
	if !ok {
		return 0
	}
	return len(ub.items)
}

// Drop removes the given item ids from the user's buffer. Called after a
// consolidation pass has compressed them into a semantic memory.
func (b *Buffer) Drop(userID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ub, ok := b.users[userID]
	if !ok {
		return
	}
	kept := ub.items[:0]
	for _, it := range ub.items {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	ub.items = kept
}

// SweepIdle removes buffers for users inactive longer than the idle TTL,
// so the process-lifetime map does not grow forever. Returns the number
// of users evicted.
func (b *Buffer) SweepIdle() int {
	cutoff := time.Now().Add(-b.idleTTL)

	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for user, ub := range b.users {
		if ub.lastSeen.Before(cutoff) {
			delete(b.users, user)
			n++
		}
	}
	return n
}
