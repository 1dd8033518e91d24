package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store persists memory items and context snapshots in PostgreSQL.
// It is the system of record; the short-term buffer is only a cache.
type Store struct {
	db      *pgxpool.Pool
	logger  *zap.Logger
	timeout time.Duration
}

// DefaultStoreTimeout bounds every persistence call so a storage outage
// degrades the request instead of hanging it.
const DefaultStoreTimeout = 3 * time.Second

// NewStore creates a Store with a pgx connection pool.
func NewStore(dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger, timeout: DefaultStoreTimeout}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// Pool exposes the underlying connection pool so sibling stores can
// share it.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Insert persists a memory item. The item's ID and timestamps are assigned
// here if unset; importance and decay factor are clamped to [0,1].
func (s *Store) Insert(ctx context.Context, item *Item) error {
	if !item.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, item.Type)
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessed.IsZero() {
		item.LastAccessed = item.CreatedAt
	}
	item.Importance = clamp01(item.Importance)
	item.DecayFactor = clamp01(item.DecayFactor)

	content, err := json.Marshal(item.Content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	bctx, cancel := s.bounded(ctx)
	defer cancel()

	_, err = s.db.Exec(bctx, `
		INSERT INTO memory_items
			(item_id, user_id, agent_id, content, memory_type,
			 importance_score, access_count, created_at, last_accessed, decay_factor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		item.ID, item.UserID, item.AgentID, content, string(item.Type),
		item.Importance, item.AccessCount, item.CreatedAt, item.LastAccessed,
		item.DecayFactor,
	)
	if err != nil {
		return fmt.Errorf("%w: insert memory: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// FetchOpts narrows a memory fetch.
type FetchOpts struct {
	Type   Type // zero value means all types
	Limit  int
	Window time.Duration // only items created within the window; zero means all

	// OrderByRecency selects the most recently created items instead of
	// the importance-ranked ones. Consolidation wants the newest history,
	// not the strongest.
	OrderByRecency bool
}

// Fetch returns the user's memories for an agent ranked by importance ×
// type weight descending (or newest first with OrderByRecency). Every
// returned item gets its access count and last-accessed bumped; the bump is
// read-modify-write and best-effort, an occasional lost increment under
// concurrent readers is acceptable for this workload.
func (s *Store) Fetch(ctx context.Context, userID, agentID string, opts FetchOpts) ([]*Item, error) {
	if opts.Type != "" && !opts.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, opts.Type)
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	query := `
		SELECT item_id, user_id, agent_id, content, memory_type,
		       importance_score, access_count, created_at, last_accessed, decay_factor
		FROM memory_items
		WHERE user_id = $1 AND agent_id = $2 AND archived = FALSE`
	args := []interface{}{userID, agentID}
	if opts.Type != "" {
		args = append(args, string(opts.Type))
		query += fmt.Sprintf(" AND memory_type = $%d", len(args))
	}
	if opts.Window > 0 {
		args = append(args, time.Now().Add(-opts.Window))
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	args = append(args, opts.Limit)
	if opts.OrderByRecency {
		query += fmt.Sprintf(`
		ORDER BY created_at DESC
		LIMIT $%d`, len(args))
	} else {
		query += fmt.Sprintf(`
		ORDER BY importance_score * CASE memory_type
			WHEN 'emotional' THEN 1.1
			WHEN 'episodic' THEN 1.0
			WHEN 'semantic' THEN 0.9
			WHEN 'procedural' THEN 0.8
			ELSE 1.0 END DESC,
		last_accessed DESC
		LIMIT $%d`, len(args))
	}

	bctx, cancel := s.bounded(ctx)
	defer cancel()

	rows, err := s.db.Query(bctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch memories: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			// One unreadable row must not fail the whole batch.
			s.logger.Warn("skipping unreadable memory row", zap.Error(err))
			continue
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: fetch memories: %v", ErrStorageUnavailable, err)
	}

	s.touchAccess(ctx, items)
	return items, nil
}

// touchAccess bumps access stats for returned items. Failures are logged
// and swallowed: a lost increment is not a correctness violation.
func (s *Store) touchAccess(ctx context.Context, items []*Item) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, len(items))
	now := time.Now()
	for i, it := range items {
		ids[i] = it.ID
		it.AccessCount++
		it.LastAccessed = now
	}

	bctx, cancel := s.bounded(ctx)
	defer cancel()

	_, err := s.db.Exec(bctx, `
		UPDATE memory_items
		SET access_count = access_count + 1, last_accessed = $2
		WHERE item_id = ANY($1)`, ids, now)
	if err != nil {
		s.logger.Warn("access bump failed", zap.Int("items", len(ids)), zap.Error(err))
	}
}

func scanItem(row pgx.Row) (*Item, error) {
	var (
		it      Item
		content []byte
		memType string
	)
	if err := row.Scan(&it.ID, &it.UserID, &it.AgentID, &content, &memType,
		&it.Importance, &it.AccessCount, &it.CreatedAt, &it.LastAccessed,
		&it.DecayFactor); err != nil {
		return nil, fmt.Errorf("scan memory: %w", err)
	}
	it.Type = Type(memType)
	if err := json.Unmarshal(content, &it.Content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return &it, nil
}

// SaveSnapshot appends a new context snapshot row. Snapshots are never
// updated in place; the latest row is the current context.
func (s *Store) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	contextData, err := json.Marshal(snap.ContextData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	emotional, err := json.Marshal(snap.EmotionalState)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	prefs, err := json.Marshal(snap.Preferences)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	bctx, cancel := s.bounded(ctx)
	defer cancel()

	_, err = s.db.Exec(bctx, `
		INSERT INTO context_snapshots
			(snapshot_id, user_id, agent_id, context_data,
			 interaction_count, emotional_state, preferences, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		snap.ID, snap.UserID, snap.AgentID, contextData,
		snap.InteractionCount, emotional, prefs, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: save snapshot: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot for a (user, agent) pair,
// or nil when the pair has no history yet.
func (s *Store) LatestSnapshot(ctx context.Context, userID, agentID string) (*Snapshot, error) {
	bctx, cancel := s.bounded(ctx)
	defer cancel()

	var (
		snap      Snapshot
		ctxData   []byte
		emotional []byte
		prefs     []byte
	)
	err := s.db.QueryRow(bctx, `
		SELECT snapshot_id, user_id, agent_id, context_data,
		       interaction_count, emotional_state, preferences, created_at
		FROM context_snapshots
		WHERE user_id = $1 AND agent_id = $2
		ORDER BY created_at DESC
		LIMIT 1`, userID, agentID,
	).Scan(&snap.ID, &snap.UserID, &snap.AgentID, &ctxData,
		&snap.InteractionCount, &emotional, &prefs, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: latest snapshot: %v", ErrStorageUnavailable, err)
	}

	if err := json.Unmarshal(ctxData, &snap.ContextData); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if err := json.Unmarshal(emotional, &snap.EmotionalState); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	if err := json.Unmarshal(prefs, &snap.Preferences); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}
	return &snap, nil
}

// KnownPairs lists distinct (user, agent) pairs with at least one stored
// memory. Used by the background consolidation sweep.
func (s *Store) KnownPairs(ctx context.Context) ([]UserAgent, error) {
	bctx, cancel := s.bounded(ctx)
	defer cancel()

	rows, err := s.db.Query(bctx, `SELECT DISTINCT user_id, agent_id FROM memory_items`)
	if err != nil {
		return nil, fmt.Errorf("%w: known pairs: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var pairs []UserAgent
	for rows.Next() {
		var p UserAgent
		if err := rows.Scan(&p.UserID, &p.AgentID); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ArchiveStale demotes old low-importance episodic memories by marking them
// archived so they stop competing at retrieval time. No-op unless the
// caller gives a positive age.
func (s *Store) ArchiveStale(ctx context.Context, olderThan time.Duration, maxImportance float64) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	bctx, cancel := s.bounded(ctx)
	defer cancel()

	tag, err := s.db.Exec(bctx, `
		UPDATE memory_items
		SET archived = TRUE
		WHERE memory_type = 'episodic'
		  AND archived = FALSE
		  AND importance_score <= $1
		  AND created_at < $2`,
		maxImportance, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("%w: archive stale: %v", ErrStorageUnavailable, err)
	}
	return tag.RowsAffected(), nil
}
