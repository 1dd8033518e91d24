package memory

import (
	"context"
	"errors"
	"time"
)

// Type classifies a memory item. The set is closed; anything else is
// rejected at the API boundary.
type Type string

const (
	TypeEpisodic   Type = "episodic"   // events and experiences
	TypeSemantic   Type = "semantic"   // facts and consolidated knowledge
	TypeProcedural Type = "procedural" // how to handle situations
	TypeEmotional  Type = "emotional"  // emotional associations
)

// Valid reports whether t is a member of the closed type set.
func (t Type) Valid() bool {
	switch t {
	case TypeEpisodic, TypeSemantic, TypeProcedural, TypeEmotional:
		return true
	}
	return false
}

// Weight returns the retrieval multiplier for the type. Emotionally
// salient items surface more readily than procedural ones.
func (t Type) Weight() float64 {
	switch t {
	case TypeEmotional:
		return 1.1
	case TypeEpisodic:
		return 1.0
	case TypeSemantic:
		return 0.9
	case TypeProcedural:
		return 0.8
	}
	return 1.0
}

var (
	// ErrInvalidType means the caller supplied a memory type outside the
	// closed set. Never coerced silently.
	ErrInvalidType = errors.New("memory: invalid memory type")

	// ErrStorageUnavailable means the persistence layer could not be
	// reached. Callers degrade to buffer-only memory and continue.
	ErrStorageUnavailable = errors.New("memory: storage unavailable")

	// ErrMalformedContent means an item's content failed to serialize.
	// The single item is dropped; the batch is not.
	ErrMalformedContent = errors.New("memory: malformed content")
)

// Item is one stored unit of interaction history or derived knowledge.
type Item struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	AgentID      string                 `json:"agent_id"`
	Content      map[string]interface{} `json:"content"`
	Type         Type                   `json:"memory_type"`
	Importance   float64                `json:"importance_score"`
	AccessCount  int                    `json:"access_count"`
	CreatedAt    time.Time              `json:"created_at"`
	LastAccessed time.Time              `json:"last_accessed"`
	// DecayFactor is persisted for scoring plugins but no built-in
	// retrieval path applies it. See ScoreFunc.
	DecayFactor float64 `json:"decay_factor"`
}

// RankScore is the retrieval ordering key: importance weighted by type.
func (it *Item) RankScore() float64 {
	return it.Importance * it.Type.Weight()
}

// Snapshot is a point-in-time bundle of context for a (user, agent) pair.
// Snapshots are append-only; the latest one is the current context.
type Snapshot struct {
	ID               string                 `json:"snapshot_id"`
	UserID           string                 `json:"user_id"`
	AgentID          string                 `json:"agent_id"`
	ContextData      map[string]interface{} `json:"context_data"`
	InteractionCount int                    `json:"interaction_count"`
	EmotionalState   map[string]float64     `json:"emotional_state"`
	Preferences      map[string]interface{} `json:"preferences"`
	CreatedAt        time.Time              `json:"created_at"`
}

// NewSnapshot returns an empty default-valued snapshot. Absence of history
// is not an error, so downstream prompt building never sees a nil context.
func NewSnapshot(userID, agentID string) *Snapshot {
	return &Snapshot{
		UserID:         userID,
		AgentID:        agentID,
		ContextData:    map[string]interface{}{},
		EmotionalState: map[string]float64{},
		Preferences:    map[string]interface{}{},
	}
}

// Bundle is what the assembler hands to the prompt builder.
type Bundle struct {
	Snapshot   *Snapshot `json:"snapshot"`
	Relevant   []*Item   `json:"relevant_memories"`
	Emotional  []*Item   `json:"emotional_memories"`
	Procedural []*Item   `json:"procedural_memories"`
}

// ConsolidationResult summarizes one consolidation pass.
type ConsolidationResult struct {
	PatternsFound        int      `json:"patterns_found"`
	PreferencesExtracted int      `json:"preferences_extracted"`
	NewMemoryID          string   `json:"new_memory_id,omitempty"`
	Themes               []string `json:"themes,omitempty"`
	SourceCount          int      `json:"source_count"`
}

// UserAgent identifies one user's history with one agent. The background
// sweep consolidates per pair so summaries stay agent-scoped.
type UserAgent struct {
	UserID  string
	AgentID string
}

// Storage is the persistence contract the subsystem needs. *Store is the
// PostgreSQL implementation; tests substitute an in-memory fake.
type Storage interface {
	Insert(ctx context.Context, item *Item) error
	Fetch(ctx context.Context, userID, agentID string, opts FetchOpts) ([]*Item, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LatestSnapshot(ctx context.Context, userID, agentID string) (*Snapshot, error)
	KnownPairs(ctx context.Context) ([]UserAgent, error)
	ArchiveStale(ctx context.Context, olderThan time.Duration, maxImportance float64) (int64, error)
}

// UnavailableStorage reports ErrStorageUnavailable for every operation.
// Wiring it in place of a real backend puts the subsystem in buffer-only
// mode: conversations keep short-term context but nothing survives a
// restart.
type UnavailableStorage struct{}

func (UnavailableStorage) Insert(ctx context.Context, item *Item) error {
	return ErrStorageUnavailable
}

func (UnavailableStorage) Fetch(ctx context.Context, userID, agentID string, opts FetchOpts) ([]*Item, error) {
	return nil, ErrStorageUnavailable
}

func (UnavailableStorage) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return ErrStorageUnavailable
}

func (UnavailableStorage) LatestSnapshot(ctx context.Context, userID, agentID string) (*Snapshot, error) {
	return nil, ErrStorageUnavailable
}

func (UnavailableStorage) KnownPairs(ctx context.Context) ([]UserAgent, error) {
	return nil, ErrStorageUnavailable
}

func (UnavailableStorage) ArchiveStale(ctx context.Context, olderThan time.Duration, maxImportance float64) (int64, error) {
	return 0, ErrStorageUnavailable
}

// clamp01 pins v into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
