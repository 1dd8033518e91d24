package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
)

func seedEpisodes(t *testing.T, store Storage, userID, agentID string, n int, topic string) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.Insert(context.Background(), &Item{
			ID:      fmt.Sprintf("%s-%s-%d", userID, topic, i),
			UserID:  userID,
			AgentID: agentID,
			Type:    TypeEpisodic,
			Content: map[string]interface{}{
				"message": fmt.Sprintf("another conversation about %s today", topic),
			},
			Importance: 0.5,
		})
		if err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}
}

func TestConsolidateExtractsThemes(t *testing.T) {
	store := newFakeStorage()
	buf := NewBuffer(DefaultBufferCap, nil)
	c := NewConsolidator(store, buf, zap.NewNop())

	seedEpisodes(t, store, "u1", "companion", 4, "gardening")

	res, err := c.Consolidate(context.Background(), "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PatternsFound != 1 {
		t.Fatalf("got %d patterns, want 1", res.PatternsFound)
	}
	if res.NewMemoryID == "" {
		t.Fatal("expected a new semantic memory id")
	}
	if store.countByType(TypeSemantic) != 1 {
		t.Fatalf("got %d semantic memories, want 1", store.countByType(TypeSemantic))
	}

	var found bool
	for _, theme := range res.Themes {
		if theme == "gardening" {
			found = true
		}
	}
	if !found {
		t.Errorf("themes %v missing %q", res.Themes, "gardening")
	}
}

func TestSweepOnceConsolidatesKnownPairs(t *testing.T) {
	store := newFakeStorage()
	buf := NewBuffer(DefaultBufferCap, nil)
	c := NewConsolidator(store, buf, zap.NewNop())

	seedEpisodes(t, store, "u1", "companion", 4, "gardening")
	seedEpisodes(t, store, "u2", "docqa", 5, "invoices")

	if got := c.SweepOnce(context.Background()); got != 2 {
		t.Fatalf("SweepOnce consolidated %d pairs, want 2", got)
	}

	// Each summary stays scoped to its own (user, agent) pair.
	for _, pair := range []UserAgent{
		{UserID: "u1", AgentID: "companion"},
		{UserID: "u2", AgentID: "docqa"},
	} {
		items, err := store.Fetch(context.Background(), pair.UserID, pair.AgentID,
			FetchOpts{Type: TypeSemantic, Limit: 10})
		if err != nil {
			t.Fatalf("Fetch(%s, %s): %v", pair.UserID, pair.AgentID, err)
		}
		if len(items) != 1 {
			t.Errorf("pair %s/%s has %d semantic summaries, want 1",
				pair.UserID, pair.AgentID, len(items))
		}
	}
}

func TestConsolidatePrefersRecentHistory(t *testing.T) {
	store := newFakeStorage()
	buf := NewBuffer(DefaultBufferCap, nil)
	c := NewConsolidator(store, buf, zap.NewNop())

	// An old, highly important memory followed by a full batch of newer
	// low-importance ones. Consolidation reads recent history, so the old
	// item's theme must not surface.
	now := time.Now()
	if err := store.Insert(context.Background(), &Item{
		ID: "old", UserID: "u1", AgentID: "companion", Type: TypeEpisodic,
		Content:    map[string]interface{}{"message": "ancient shipwreck shipwreck shipwreck"},
		Importance: 1.0,
		CreatedAt:  now.Add(-30 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	for i := 0; i < consolidationBatch; i++ {
		if err := store.Insert(context.Background(), &Item{
			ID: fmt.Sprintf("new-%d", i), UserID: "u1", AgentID: "companion", Type: TypeEpisodic,
			Content:    map[string]interface{}{"message": "another morning swimming practice"},
			Importance: 0.2,
			CreatedAt:  now.Add(time.Duration(i-consolidationBatch) * time.Minute),
		}); err != nil {
			t.Fatalf("seed insert: %v", err)
		}
	}

	res, err := c.Consolidate(context.Background(), "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, theme := range res.Themes {
		if theme == "shipwreck" {
			t.Fatalf("themes %v include the stale high-importance memory", res.Themes)
		}
	}
}

func TestConsolidateTooFewIsNoop(t *testing.T) {
	store := newFakeStorage()
	c := NewConsolidator(store, NewBuffer(DefaultBufferCap, nil), zap.NewNop())

	seedEpisodes(t, store, "u1", "companion", 2, "chess")

	res, err := c.Consolidate(context.Background(), "u1", "companion")
	if err != nil {
		t.Fatalf("no-op consolidation must not error: %v", err)
	}
	if res.PatternsFound != 0 || res.NewMemoryID != "" {
		t.Errorf("got %+v, want zero-result no-op", res)
	}
	if store.countByType(TypeSemantic) != 0 {
		t.Errorf("no semantic memory should be written for thin history")
	}
}

func TestConsolidateEmptyHistory(t *testing.T) {
	c := NewConsolidator(newFakeStorage(), NewBuffer(DefaultBufferCap, nil), zap.NewNop())

	res, err := c.Consolidate(context.Background(), "nobody", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PatternsFound != 0 || res.SourceCount != 0 {
		t.Errorf("got %+v, want empty result", res)
	}
}

func TestConsolidatedMemoryImportance(t *testing.T) {
	store := newFakeStorage()
	c := NewConsolidator(store, NewBuffer(DefaultBufferCap, nil), zap.NewNop())

	seedEpisodes(t, store, "u1", "companion", 5, "painting")

	if _, err := c.Consolidate(context.Background(), "u1", "companion"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, _ := store.Fetch(context.Background(), "u1", "companion", FetchOpts{Type: TypeSemantic, Limit: 5})
	if len(items) != 1 {
		t.Fatalf("got %d semantic items, want 1", len(items))
	}
	if items[0].Importance != ConsolidationImportance {
		t.Errorf("got importance %v, want %v", items[0].Importance, ConsolidationImportance)
	}
	if items[0].Content["source_count"] == nil {
		t.Errorf("consolidated content missing source_count")
	}
}

func TestConsolidateIdempotent(t *testing.T) {
	store := newFakeStorage()
	c := NewConsolidator(store, NewBuffer(DefaultBufferCap, nil), zap.NewNop())
	ctx := context.Background()

	seedEpisodes(t, store, "u1", "companion", 4, "climbing")

	first, err := c.Consolidate(ctx, "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.NewMemoryID == "" {
		t.Fatal("first pass should produce a summary")
	}

	// Immediate second pass with no new memories: at most one summary total.
	second, err := c.Consolidate(ctx, "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.NewMemoryID != "" {
		t.Errorf("second pass wrote %q, want no duplicate summary", second.NewMemoryID)
	}
	if n := store.countByType(TypeSemantic); n != 1 {
		t.Errorf("got %d semantic memories, want 1", n)
	}

	// New history re-arms consolidation.
	seedEpisodes(t, store, "u1", "companion", 3, "bouldering")
	third, err := c.Consolidate(ctx, "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.NewMemoryID == "" {
		t.Errorf("new memories should trigger a fresh summary")
	}
}

func TestConsolidatePreferenceExtraction(t *testing.T) {
	store := newFakeStorage()
	c := NewConsolidator(store, NewBuffer(DefaultBufferCap, nil), zap.NewNop())
	ctx := context.Background()

	seedEpisodes(t, store, "u1", "companion", 3, "cycling")
	store.Insert(ctx, &Item{
		ID: "pref", UserID: "u1", AgentID: "companion", Type: TypeEpisodic,
		Content: map[string]interface{}{
			"message":     "short answers please",
			"preferences": map[string]interface{}{"reply_style": "concise"},
		},
	})

	res, err := c.Consolidate(ctx, "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.PreferencesExtracted != 1 {
		t.Errorf("got %d preferences, want 1", res.PreferencesExtracted)
	}
}

func TestConsolidateThemeWordLength(t *testing.T) {
	store := newFakeStorage()
	c := NewConsolidator(store, NewBuffer(DefaultBufferCap, nil), zap.NewNop())
	ctx := context.Background()

	// All content words are four characters or shorter: no themes.
	for i := 0; i < 4; i++ {
		store.Insert(ctx, &Item{
			ID: fmt.Sprintf("s%d", i), UserID: "u1", AgentID: "companion",
			Type:    TypeEpisodic,
			Content: map[string]interface{}{"m": "it was ok and fun"},
		})
	}

	res, err := c.Consolidate(ctx, "u1", "companion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Themes) != 0 {
		t.Errorf("short words must not become themes, got %v", res.Themes)
	}
}
