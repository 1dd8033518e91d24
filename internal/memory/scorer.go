package memory

import (
	"encoding/json"
	"sort"
	"strings"
)

// ScoreFunc rates how relevant an item is to a query. Implementations must
// return a deterministic value in [0,1] that is monotonically non-decreasing
// in keyword overlap, so the relevance threshold stays meaningful when the
// scorer is swapped (e.g. for one that folds in the stored decay factor).
type ScoreFunc func(item *Item, query string) float64

// RelevanceThreshold gates inclusion: items scoring at or below it are
// dropped from results, not merely ranked low.
const RelevanceThreshold = 0.1

// LexicalScore is the default scorer. Purely lexical, no stemming, no
// embeddings — it runs synchronously in the request path and has to be cheap.
//
// Base score: 0.5 if the whole lowercase query is a substring of the
// serialized content, plus 0.1 per distinct query word found, capped at 1.0.
// The result is then multiplied by the memory type weight.
func LexicalScore(item *Item, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}

	content, err := serializeContent(item.Content)
	if err != nil {
		return 0
	}

	var score float64
	if strings.Contains(content, q) {
		score += 0.5
	}
	seen := make(map[string]bool)
	for _, w := range tokenize(q) {
		if seen[w] {
			continue
		}
		seen[w] = true
		if strings.Contains(content, w) {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return clamp01(score * item.Type.Weight())
}

// serializeContent renders content to a lowercase search string.
func serializeContent(content map[string]interface{}) (string, error) {
	b, err := json.Marshal(content)
	if err != nil {
		return "", ErrMalformedContent
	}
	return strings.ToLower(string(b)), nil
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127) // keep unicode chars
	})
	result := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 { // skip single chars
			result = append(result, w)
		}
	}
	return result
}

// filterByRelevance keeps only items whose score clears the relevance
// threshold. Relevance gates inclusion; ordering stays importance-based.
// Items whose content fails to serialize score zero and drop out
// individually, never failing the whole batch.
func filterByRelevance(items []*Item, query string, score ScoreFunc) []*Item {
	kept := make([]*Item, 0, len(items))
	for _, it := range items {
		if score(it, query) > RelevanceThreshold {
			kept = append(kept, it)
		}
	}
	return kept
}

// rankByImportance orders items by importance × type weight descending,
// ties broken by most-recent last access. This is the fetch ordering.
func rankByImportance(items []*Item) {
	sort.SliceStable(items, func(i, j int) bool {
		si, sj := items[i].RankScore(), items[j].RankScore()
		if si != sj {
			return si > sj
		}
		return items[i].LastAccessed.After(items[j].LastAccessed)
	})
}
