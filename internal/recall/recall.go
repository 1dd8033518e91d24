// Package recall provides embedding-backed semantic memory lookup. It
// complements lexical relevance scoring: a query about "my dog" can
// surface a memory that only mentions "the golden retriever".
package recall

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillback/mnemo/internal/embedding"
	"github.com/quillback/mnemo/internal/memory"
	"github.com/quillback/mnemo/internal/vectorstore"
)

// minScore discards near-random matches. Cosine similarity under this
// is noise for short conversational texts.
const minScore = 0.35

// Index embeds memory items into Qdrant and recalls them by query
// similarity. It implements memory.SemanticIndex.
type Index struct {
	embedder   embedding.Provider
	store      *vectorstore.Client
	collection string
	logger     *zap.Logger
}

// New creates the index and ensures its collection exists.
func New(ctx context.Context, embedder embedding.Provider, store *vectorstore.Client, collection string, logger *zap.Logger) (*Index, error) {
	dim := embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension unknown, configure it explicitly")
	}
	if err := store.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return &Index{
		embedder:   embedder,
		store:      store,
		collection: collection,
		logger:     logger.Named("recall"),
	}, nil
}

// Index embeds one memory item and upserts it keyed by the item id, so
// re-indexing an updated item replaces the old vector.
func (ix *Index) Index(ctx context.Context, item *memory.Item) error {
	text := itemText(item)
	if text == "" {
		return nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed item %s: %w", item.ID, err)
	}
	if len(vecs) == 0 {
		return fmt.Errorf("embed item %s: empty result", item.ID)
	}

	payload := map[string]string{
		"user_id":     item.UserID,
		"agent_id":    item.AgentID,
		"memory_type": string(item.Type),
	}
	if err := ix.store.Upsert(ctx, ix.collection, item.ID, vecs[0], payload); err != nil {
		return fmt.Errorf("upsert item %s: %w", item.ID, err)
	}
	return nil
}

// Recall returns ids of the user's stored memories nearest to the query.
func (ix *Index) Recall(ctx context.Context, userID, agentID, query string, limit int) ([]string, error) {
	if query == "" || limit <= 0 {
		return nil, nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}

	filter := map[string]string{"user_id": userID}
	if agentID != "" {
		filter["agent_id"] = agentID
	}
	hits, err := ix.store.Search(ctx, ix.collection, vecs[0], uint64(limit), filter)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Score < minScore {
			continue
		}
		ids = append(ids, h.ID)
	}
	ix.logger.Debug("semantic recall",
		zap.String("user", userID),
		zap.Int("hits", len(ids)))
	return ids, nil
}

// itemText flattens item content for embedding, preferring readable
// fields over raw JSON.
func itemText(item *memory.Item) string {
	for _, key := range []string{"summary", "message", "text"} {
		if v, ok := item.Content[key].(string); ok && v != "" {
			return v
		}
	}
	b, err := json.Marshal(item.Content)
	if err != nil || len(b) <= 2 {
		return ""
	}
	return string(b)
}
