package memory

import (
	"context"

	"go.uber.org/zap"
)

// Assembly limits: top relevant memories, plus emotional context that is
// always surfaced even when off-topic, plus procedural guidance.
const (
	defaultRelevantLimit   = 5
	defaultEmotionalLimit  = 3
	defaultProceduralLimit = 2
)

// Recaller finds memory ids semantically related to a query. Optional:
// when present, recalled items bypass the lexical relevance gate (they are
// relevant by construction) but still rank by importance like the rest.
type Recaller interface {
	Recall(ctx context.Context, userID, agentID, query string, limit int) ([]string, error)
}

// Assembler merges the short-term buffer, persisted memories and the
// current context snapshot into the bundle handed to the prompt builder.
type Assembler struct {
	store    Storage
	buffer   *Buffer
	score    ScoreFunc
	recaller Recaller
	logger   *zap.Logger
}

// NewAssembler creates an Assembler. A nil score falls back to the
// lexical default.
func NewAssembler(store Storage, buffer *Buffer, score ScoreFunc, logger *zap.Logger) *Assembler {
	if score == nil {
		score = LexicalScore
	}
	return &Assembler{store: store, buffer: buffer, score: score, logger: logger}
}

// SetRecaller enables the semantic recall path.
func (a *Assembler) SetRecaller(r Recaller) { a.recaller = r }

// Assemble builds the context bundle for a query. It never fails on absent
// history: a user with no snapshot gets a synthesized default, and storage
// errors degrade to buffer-only results. The bundle is always usable.
func (a *Assembler) Assemble(ctx context.Context, userID, agentID, query string) *Bundle {
	snap, err := a.store.LatestSnapshot(ctx, userID, agentID)
	if err != nil {
		a.logger.Warn("snapshot lookup failed, using default context",
			zap.String("user", userID), zap.Error(err))
	}
	if snap == nil {
		snap = NewSnapshot(userID, agentID)
	}

	return &Bundle{
		Snapshot:   snap,
		Relevant:   a.relevant(ctx, userID, agentID, query),
		Emotional:  a.byType(ctx, userID, agentID, TypeEmotional, defaultEmotionalLimit),
		Procedural: a.byType(ctx, userID, agentID, TypeProcedural, defaultProceduralLimit),
	}
}

// relevant merges buffered and persisted memories, gates them through the
// relevance threshold and returns the top items by importance rank.
func (a *Assembler) relevant(ctx context.Context, userID, agentID, query string) []*Item {
	merged := a.merge(ctx, userID, agentID, FetchOpts{Limit: defaultRelevantLimit * 2})
	kept := filterByRelevance(merged, query, a.score)

	if a.recaller != nil {
		keptIDs := make(map[string]bool, len(kept))
		for _, it := range kept {
			keptIDs[it.ID] = true
		}
		ids, err := a.recaller.Recall(ctx, userID, agentID, query, defaultRelevantLimit)
		if err != nil {
			a.logger.Warn("semantic recall failed, lexical results only",
				zap.String("user", userID), zap.Error(err))
		}
		recalled := make(map[string]bool, len(ids))
		for _, id := range ids {
			recalled[id] = true
		}
		for _, it := range merged {
			if recalled[it.ID] && !keptIDs[it.ID] {
				kept = append(kept, it)
			}
		}
	}

	rankByImportance(kept)
	if len(kept) > defaultRelevantLimit {
		kept = kept[:defaultRelevantLimit]
	}
	return kept
}

// byType fetches memories of one type regardless of topical relevance.
func (a *Assembler) byType(ctx context.Context, userID, agentID string, t Type, limit int) []*Item {
	merged := a.merge(ctx, userID, agentID, FetchOpts{Type: t, Limit: limit})
	filtered := merged[:0]
	for _, it := range merged {
		if it.Type == t {
			filtered = append(filtered, it)
		}
	}
	rankByImportance(filtered)
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// merge combines buffered items with persisted ones, deduplicating by id.
// A store failure logs and falls back to buffer-only.
func (a *Assembler) merge(ctx context.Context, userID, agentID string, opts FetchOpts) []*Item {
	var merged []*Item
	seen := make(map[string]bool)

	for _, it := range a.buffer.Recent(userID) {
		if it.AgentID != agentID {
			continue
		}
		if opts.Type != "" && it.Type != opts.Type {
			continue
		}
		merged = append(merged, it)
		seen[it.ID] = true
	}

	persisted, err := a.store.Fetch(ctx, userID, agentID, opts)
	if err != nil {
		a.logger.Warn("memory fetch failed, degrading to buffer only",
			zap.String("user", userID), zap.Error(err))
		return merged
	}
	for _, it := range persisted {
		if !seen[it.ID] {
			merged = append(merged, it)
		}
	}
	return merged
}

// UpdateContext merges new fields into the latest snapshot, bumps the
// interaction count, smooths the emotional state and appends a brand-new
// snapshot row with a fresh id and timestamp.
func (a *Assembler) UpdateContext(ctx context.Context, userID, agentID string, fields map[string]interface{}, emotions map[string]float64, prefs map[string]interface{}) (*Snapshot, error) {
	current, err := a.store.LatestSnapshot(ctx, userID, agentID)
	if err != nil {
		a.logger.Warn("snapshot lookup failed, starting fresh",
			zap.String("user", userID), zap.Error(err))
	}
	if current == nil {
		current = NewSnapshot(userID, agentID)
	}

	next := NewSnapshot(userID, agentID)
	for k, v := range current.ContextData {
		next.ContextData[k] = v
	}
	for k, v := range fields {
		next.ContextData[k] = v
	}
	next.InteractionCount = current.InteractionCount + 1
	next.EmotionalState = SmoothEmotions(current.EmotionalState, emotions)
	for k, v := range current.Preferences {
		next.Preferences[k] = v
	}
	for k, v := range prefs {
		next.Preferences[k] = v
	}

	if err := a.store.SaveSnapshot(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// SmoothEmotions folds incoming emotion intensities into the current
// state with exponential smoothing: new = 0.7*old + 0.3*incoming for keys
// already present; unseen emotions take the incoming value directly.
func SmoothEmotions(current, incoming map[string]float64) map[string]float64 {
	updated := make(map[string]float64, len(current)+len(incoming))
	for k, v := range current {
		updated[k] = v
	}
	for emotion, value := range incoming {
		if old, ok := updated[emotion]; ok {
			updated[emotion] = old*0.7 + value*0.3
		} else {
			updated[emotion] = value
		}
	}
	return updated
}
