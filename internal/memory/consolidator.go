package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// ConsolidationImportance is the fixed importance of a consolidated
	// semantic memory. Consolidated knowledge outlasts any raw event.
	ConsolidationImportance = 0.9

	// DefaultSweepInterval is the wall-clock cadence of the background
	// consolidation sweep over all known users.
	DefaultSweepInterval = 6 * time.Hour

	consolidationBatch = 100
	minGroupSize       = 3
	maxThemes          = 5
	minThemeLen        = 5 // content words longer than 4 characters
	minThemeFreq       = 2
)

// Consolidator compresses a user's accumulated memories into single
// higher-importance semantic summaries, bounding unbounded growth.
type Consolidator struct {
	store  Storage
	buffer *Buffer
	group  singleflight.Group
	logger *zap.Logger

	mu       sync.Mutex
	lastSeen map[string]string // userID -> fingerprint of last consolidated source set
}

// NewConsolidator creates a Consolidator.
func NewConsolidator(store Storage, buffer *Buffer, logger *zap.Logger) *Consolidator {
	return &Consolidator{
		store:    store,
		buffer:   buffer,
		logger:   logger,
		lastSeen: make(map[string]string),
	}
}

// Consolidate runs one consolidation pass for a user. Concurrent calls for
// the same user are collapsed into a single flight so the same source set
// never produces duplicate semantic summaries. Too little history is a
// zero-result no-op, never an error.
func (c *Consolidator) Consolidate(ctx context.Context, userID, agentID string) (*ConsolidationResult, error) {
	v, err, shared := c.group.Do(userID, func() (interface{}, error) {
		return c.consolidate(ctx, userID, agentID)
	})
	if err != nil {
		return nil, err
	}
	res := v.(*ConsolidationResult)
	if shared {
		c.logger.Debug("consolidation deduplicated", zap.String("user", userID))
	}
	return res, nil
}

func (c *Consolidator) consolidate(ctx context.Context, userID, agentID string) (*ConsolidationResult, error) {
	items := c.collect(ctx, userID, agentID)
	if len(items) == 0 {
		return &ConsolidationResult{}, nil
	}

	// A second pass over an unchanged source set must not produce a
	// duplicate summary. The fingerprint is the newest raw item seen.
	fp := sourceFingerprint(items)
	c.mu.Lock()
	if c.lastSeen[userID] == fp {
		c.mu.Unlock()
		c.logger.Debug("consolidation skipped, sources unchanged", zap.String("user", userID))
		return &ConsolidationResult{SourceCount: len(items)}, nil
	}
	c.mu.Unlock()

	groups := make(map[Type][]*Item)
	for _, it := range items {
		groups[it.Type] = append(groups[it.Type], it)
	}

	var (
		patterns []map[string]interface{}
		themes   []string
	)
	for t, group := range groups {
		if len(group) < minGroupSize {
			continue
		}
		groupThemes := extractThemes(group)
		var avgImportance float64
		for _, it := range group {
			avgImportance += it.Importance
		}
		avgImportance /= float64(len(group))
		patterns = append(patterns, map[string]interface{}{
			"type":           string(t),
			"frequency":      len(group),
			"avg_importance": avgImportance,
			"common_themes":  groupThemes,
		})
		themes = append(themes, groupThemes...)
	}

	prefs := extractPreferences(items)
	successful := successfulPatterns(items)

	result := &ConsolidationResult{
		PatternsFound:        len(patterns),
		PreferencesExtracted: len(prefs),
		Themes:               themes,
		SourceCount:          len(items),
	}
	if len(patterns) == 0 {
		return result, nil
	}

	summary := &Item{
		UserID:  userID,
		AgentID: agentID,
		Type:    TypeSemantic,
		Content: map[string]interface{}{
			"patterns":        patterns,
			"preferences":     prefs,
			"source_count":    len(items),
			"consolidated_at": time.Now().Format(time.RFC3339),
		},
		Importance:  ConsolidationImportance,
		DecayFactor: 1.0,
	}
	if len(successful) > 0 {
		summary.Content["successful_patterns"] = successful
	}
	if err := c.store.Insert(ctx, summary); err != nil {
		return nil, err
	}
	result.NewMemoryID = summary.ID

	c.mu.Lock()
	c.lastSeen[userID] = fp
	c.mu.Unlock()

	// The raw items live on in the store; only the buffered copies of
	// consolidated sources are released.
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if it.Type != TypeSemantic {
			ids = append(ids, it.ID)
		}
	}
	c.buffer.Drop(userID, ids)

	c.logger.Info("consolidation complete",
		zap.String("user", userID),
		zap.Int("sources", len(items)),
		zap.Int("patterns", result.PatternsFound),
		zap.String("memory_id", result.NewMemoryID))
	return result, nil
}

// sourceFingerprint identifies a source set by its newest raw item, so an
// unchanged set is recognized regardless of access-stat churn.
func sourceFingerprint(items []*Item) string {
	var newestID string
	var newest time.Time
	var raw int
	for _, it := range items {
		if it.Type == TypeSemantic {
			continue
		}
		raw++
		if it.CreatedAt.After(newest) {
			newest = it.CreatedAt
			newestID = it.ID
		}
	}
	return fmt.Sprintf("%s|%d", newestID, raw)
}

// collect merges buffered and persisted memories up to the batch size,
// most recent first. Storage failure degrades to buffer-only.
func (c *Consolidator) collect(ctx context.Context, userID, agentID string) []*Item {
	seen := make(map[string]bool)
	var items []*Item

	for _, it := range c.buffer.Recent(userID) {
		if it.AgentID != agentID {
			continue
		}
		items = append(items, it)
		seen[it.ID] = true
	}

	persisted, err := c.store.Fetch(ctx, userID, agentID, FetchOpts{Limit: consolidationBatch, OrderByRecency: true})
	if err != nil {
		c.logger.Warn("consolidation fetch degraded to buffer only",
			zap.String("user", userID), zap.Error(err))
	}
	for _, it := range persisted {
		if !seen[it.ID] {
			items = append(items, it)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > consolidationBatch {
		items = items[:consolidationBatch]
	}
	return items
}

// extractThemes finds the most frequent long content words in a group.
func extractThemes(items []*Item) []string {
	freq := make(map[string]int)
	for _, it := range items {
		content, err := serializeContent(it.Content)
		if err != nil {
			continue // drop the single malformed item
		}
		for _, w := range tokenize(content) {
			if len(w) >= minThemeLen {
				freq[w]++
			}
		}
	}

	type wordCount struct {
		word  string
		count int
	}
	counts := make([]wordCount, 0, len(freq))
	for w, n := range freq {
		if n >= minThemeFreq {
			counts = append(counts, wordCount{w, n})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].word < counts[j].word
	})
	if len(counts) > maxThemes {
		counts = counts[:maxThemes]
	}
	themes := make([]string, len(counts))
	for i, wc := range counts {
		themes[i] = wc.word
	}
	return themes
}

// extractPreferences aggregates explicit preference markers from content.
func extractPreferences(items []*Item) map[string]interface{} {
	prefs := make(map[string]interface{})
	for _, it := range items {
		raw, ok := it.Content["preferences"]
		if !ok {
			continue
		}
		if m, ok := raw.(map[string]interface{}); ok {
			for k, v := range m {
				prefs[k] = v
			}
		}
	}
	return prefs
}

// successfulPatterns lists themes from interactions tagged successful.
func successfulPatterns(items []*Item) []string {
	var good []*Item
	for _, it := range items {
		if score, ok := it.Content["success_score"].(float64); ok && score >= 0.7 {
			good = append(good, it)
		}
	}
	if len(good) < minGroupSize {
		return nil
	}
	return extractThemes(good)
}

// RunSweeper consolidates every known (user, agent) pair on a fixed
// interval until the context is cancelled. Sweeps are best-effort: a
// failing pair is logged and skipped without affecting request-path
// behavior.
func (c *Consolidator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one consolidation pass over all known pairs and returns
// how many produced a summary.
func (c *Consolidator) SweepOnce(ctx context.Context) int {
	pairs, err := c.store.KnownPairs(ctx)
	if err != nil {
		c.logger.Warn("consolidation sweep skipped", zap.Error(err))
		return 0
	}
	var consolidated int
	for _, p := range pairs {
		res, err := c.Consolidate(ctx, p.UserID, p.AgentID)
		if err != nil {
			c.logger.Warn("sweep consolidation failed",
				zap.String("user", p.UserID), zap.String("agent", p.AgentID), zap.Error(err))
			continue
		}
		if res != nil && res.NewMemoryID != "" {
			consolidated++
		}
	}
	return consolidated
}
