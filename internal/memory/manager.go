package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives memory lifecycle notifications. Implemented by the
// Redis event bus; a nil sink disables publishing.
type EventSink interface {
	MemoryStored(ctx context.Context, item *Item)
	ContextUpdated(ctx context.Context, snap *Snapshot)
	ConsolidationCompleted(ctx context.Context, userID string, result *ConsolidationResult)
}

// SemanticIndex is the optional embedding-backed recall path: items are
// vectorized on store and recalled by nearest-neighbor search at assembly.
type SemanticIndex interface {
	Recaller
	Index(ctx context.Context, item *Item) error
}

// ManagerConfig tunes the memory subsystem.
type ManagerConfig struct {
	BufferCap            int
	SweepInterval        time.Duration
	ArchiveAfter         time.Duration // zero disables the archival sweep
	ArchiveMaxImportance float64
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BufferCap:            DefaultBufferCap,
		SweepInterval:        DefaultSweepInterval,
		ArchiveMaxImportance: 0.3,
	}
}

// Manager is the entry point the route layer consumes: record an
// interaction, assemble context for a query, run consolidation. Each
// user's state is an independently lockable unit; cross-user operations
// run fully in parallel.
type Manager struct {
	store        Storage
	buffer       *Buffer
	assembler    *Assembler
	consolidator *Consolidator
	events       EventSink
	semantic     SemanticIndex
	cfg          ManagerConfig
	logger       *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires the memory subsystem together. score may be nil for the
// lexical default; events may be nil to disable publishing.
func NewManager(store Storage, cfg ManagerConfig, score ScoreFunc, events EventSink, logger *zap.Logger) *Manager {
	m := &Manager{
		store:  store,
		events: events,
		cfg:    cfg,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
	m.buffer = NewBuffer(cfg.BufferCap, m.onEvict)
	m.assembler = NewAssembler(store, m.buffer, score, logger)
	m.consolidator = NewConsolidator(store, m.buffer, logger)
	return m
}

// SetSemanticIndex enables embedding-backed recall alongside the lexical
// scorer. Indexing is best-effort and off the request path.
func (m *Manager) SetSemanticIndex(idx SemanticIndex) {
	m.semantic = idx
	m.assembler.SetRecaller(idx)
}

// userLock returns the mutex guarding one user's buffer, snapshot writes
// and consolidation, creating it on first use.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// onEvict runs a consolidation pass when a user's buffer overflows. It
// fires from the request path, so failures only log.
func (m *Manager) onEvict(userID string, evicted []*Item) {
	if len(evicted) == 0 {
		return
	}
	agentID := evicted[0].AgentID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.consolidator.Consolidate(ctx, userID, agentID); err != nil {
			m.logger.Warn("overflow consolidation failed",
				zap.String("user", userID), zap.Error(err))
		}
	}()
}

// Store persists one memory item and mirrors it into the short-term
// buffer. An invalid type is rejected outright; a storage failure degrades
// to buffer-only memory for the rest of the session and is reported so the
// caller can decide whether to proceed.
func (m *Manager) Store(ctx context.Context, userID, agentID string, content map[string]interface{}, memType Type, importance float64) (string, error) {
	if !memType.Valid() {
		return "", ErrInvalidType
	}

	now := time.Now()
	item := &Item{
		ID:           uuid.New().String(),
		UserID:       userID,
		AgentID:      agentID,
		Content:      content,
		Type:         memType,
		Importance:   clamp01(importance),
		CreatedAt:    now,
		LastAccessed: now,
		DecayFactor:  1.0,
	}

	lock := m.userLock(userID)
	lock.Lock()
	m.buffer.Add(userID, item)
	lock.Unlock()

	if err := m.store.Insert(ctx, item); err != nil {
		m.logger.Warn("memory persistence failed, buffer holds the item",
			zap.String("user", userID), zap.String("type", string(memType)), zap.Error(err))
		return item.ID, err
	}

	if m.events != nil {
		m.events.MemoryStored(ctx, item)
	}
	if m.semantic != nil {
		go func() {
			ictx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := m.semantic.Index(ictx, item); err != nil {
				m.logger.Warn("semantic indexing failed",
					zap.String("item", item.ID), zap.Error(err))
			}
		}()
	}
	m.logger.Debug("memory stored",
		zap.String("user", userID),
		zap.String("agent", agentID),
		zap.String("type", string(memType)))
	return item.ID, nil
}

// RecordInteraction stores one chat exchange as an episodic memory and
// updates the context snapshot, folding any emotion delta into the same
// snapshot write so one exchange advances interaction_count exactly once.
// Memory failures never block the chat reply; the conversation proceeds
// with reduced personalization.
func (m *Manager) RecordInteraction(ctx context.Context, userID, agentID, text, response string, emotions map[string]float64) (string, error) {
	content := map[string]interface{}{
		"message":  text,
		"response": response,
	}
	id, err := m.Store(ctx, userID, agentID, content, TypeEpisodic, 0.5)
	if err != nil {
		return id, err
	}

	lock := m.userLock(userID)
	lock.Lock()
	snap, err := m.assembler.UpdateContext(ctx, userID, agentID,
		map[string]interface{}{"recent_topic": text}, emotions, nil)
	lock.Unlock()
	if err != nil {
		m.logger.Warn("context update failed", zap.String("user", userID), zap.Error(err))
		return id, nil
	}
	if m.events != nil {
		m.events.ContextUpdated(ctx, snap)
	}
	return id, nil
}

// GetContext assembles the context bundle for a query. Always returns a
// usable bundle; absence of memory is normal, not exceptional.
func (m *Manager) GetContext(ctx context.Context, userID, agentID, query string) *Bundle {
	return m.assembler.Assemble(ctx, userID, agentID, query)
}

// UpdateContext merges new fields, emotions and preferences into the
// user's context under the per-user lock.
func (m *Manager) UpdateContext(ctx context.Context, userID, agentID string, fields map[string]interface{}, emotions map[string]float64, prefs map[string]interface{}) (*Snapshot, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	snap, err := m.assembler.UpdateContext(ctx, userID, agentID, fields, emotions, prefs)
	if err != nil {
		return nil, err
	}
	if m.events != nil {
		m.events.ContextUpdated(ctx, snap)
	}
	return snap, nil
}

// RunConsolidation triggers one consolidation pass for a user.
func (m *Manager) RunConsolidation(ctx context.Context, userID, agentID string) (*ConsolidationResult, error) {
	result, err := m.consolidator.Consolidate(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}
	if m.events != nil {
		m.events.ConsolidationCompleted(ctx, userID, result)
	}
	return result, nil
}

// StartBackground launches the consolidation sweeper, the buffer idle
// sweep and (when configured) the archival sweep. All run until ctx is
// cancelled and are best-effort.
func (m *Manager) StartBackground(ctx context.Context) {
	go m.consolidator.RunSweeper(ctx, m.cfg.SweepInterval)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.buffer.SweepIdle(); n > 0 {
					m.logger.Debug("idle buffers evicted", zap.Int("users", n))
				}
				if m.cfg.ArchiveAfter > 0 {
					n, err := m.store.ArchiveStale(ctx, m.cfg.ArchiveAfter, m.cfg.ArchiveMaxImportance)
					if err != nil {
						m.logger.Warn("archival sweep failed", zap.Error(err))
					} else if n > 0 {
						m.logger.Info("stale memories archived", zap.Int64("rows", n))
					}
				}
			}
		}
	}()
}

// Buffered exposes the user's short-term buffer size, mainly for
// diagnostics and tests.
func (m *Manager) Buffered(userID string) int {
	return m.buffer.Len(userID)
}
