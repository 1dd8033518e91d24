package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeStorage is an in-memory Storage for unit tests. It mirrors the SQL
// store's ordering contract: importance × type weight desc, most-recent
// last access breaking ties, with access stats bumped on fetch.
type fakeStorage struct {
	mu        sync.Mutex
	items     []*Item
	snapshots []*Snapshot
	failing   bool
}

func newFakeStorage() *fakeStorage { return &fakeStorage{} }

func (f *fakeStorage) Insert(_ context.Context, item *Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return ErrStorageUnavailable
	}
	if !item.Type.Valid() {
		return ErrInvalidType
	}
	if item.ID == "" {
		item.ID = "fake-" + time.Now().Format("150405.000000000")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.LastAccessed.IsZero() {
		item.LastAccessed = item.CreatedAt
	}
	cp := *item
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakeStorage) Fetch(_ context.Context, userID, agentID string, opts FetchOpts) ([]*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, ErrStorageUnavailable
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, ErrInvalidType
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	var out []*Item
	for _, it := range f.items {
		if it.UserID != userID || it.AgentID != agentID {
			continue
		}
		if opts.Type != "" && it.Type != opts.Type {
			continue
		}
		if opts.Window > 0 && time.Since(it.CreatedAt) > opts.Window {
			continue
		}
		out = append(out, it)
	}
	if opts.OrderByRecency {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		})
	} else {
		rankByImportance(out)
	}
	if len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	now := time.Now()
	for _, it := range out {
		it.AccessCount++
		it.LastAccessed = now
	}
	return out, nil
}

func (f *fakeStorage) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return ErrStorageUnavailable
	}
	if snap.ID == "" {
		snap.ID = "snap-" + time.Now().Format("150405.000000000")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	cp := *snap
	f.snapshots = append(f.snapshots, &cp)
	return nil
}

func (f *fakeStorage) LatestSnapshot(_ context.Context, userID, agentID string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, ErrStorageUnavailable
	}
	var latest *Snapshot
	for _, s := range f.snapshots {
		if s.UserID != userID || s.AgentID != agentID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeStorage) KnownPairs(context.Context) ([]UserAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, ErrStorageUnavailable
	}
	seen := make(map[UserAgent]bool)
	var pairs []UserAgent
	for _, it := range f.items {
		p := UserAgent{UserID: it.UserID, AgentID: it.AgentID}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (f *fakeStorage) ArchiveStale(context.Context, time.Duration, float64) (int64, error) {
	return 0, nil
}

func (f *fakeStorage) countByType(t Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, it := range f.items {
		if it.Type == t {
			n++
		}
	}
	return n
}
