package memory

import (
	"context"
	"math"
	"time"
)

// AgeDistribution buckets memories by age.
type AgeDistribution struct {
	Recent     int `json:"recent"`      // < 1 day
	ShortTerm  int `json:"short_term"`  // 1-7 days
	MediumTerm int `json:"medium_term"` // 1-4 weeks
	LongTerm   int `json:"long_term"`   // > 4 weeks
}

// Analytics summarizes a user's memory profile.
type Analytics struct {
	TotalMemories     int             `json:"total_memories"`
	TypeCounts        map[Type]int    `json:"memory_types"`
	AverageImportance float64         `json:"average_importance"`
	AgeDistribution   AgeDistribution `json:"age_distribution"`
	MostAccessedID    string          `json:"most_accessed,omitempty"`
	Efficiency        float64         `json:"memory_efficiency"`
}

// Analyze computes the memory analytics over the user's most recent
// memories. Pure aggregation; an empty history yields a zero report.
func (m *Manager) Analyze(ctx context.Context, userID, agentID string) (*Analytics, error) {
	items, err := m.store.Fetch(ctx, userID, agentID, FetchOpts{Limit: 50})
	if err != nil {
		return nil, err
	}
	return analyze(items, time.Now()), nil
}

func analyze(items []*Item, now time.Time) *Analytics {
	a := &Analytics{TypeCounts: make(map[Type]int)}
	if len(items) == 0 {
		return a
	}

	var (
		sumImportance float64
		mostAccessed  *Item
	)
	for _, it := range items {
		a.TypeCounts[it.Type]++
		sumImportance += it.Importance
		if mostAccessed == nil || it.AccessCount > mostAccessed.AccessCount {
			mostAccessed = it
		}

		age := now.Sub(it.CreatedAt)
		switch {
		case age < 24*time.Hour:
			a.AgeDistribution.Recent++
		case age < 7*24*time.Hour:
			a.AgeDistribution.ShortTerm++
		case age < 4*7*24*time.Hour:
			a.AgeDistribution.MediumTerm++
		default:
			a.AgeDistribution.LongTerm++
		}
	}

	a.TotalMemories = len(items)
	a.AverageImportance = sumImportance / float64(len(items))
	a.MostAccessedID = mostAccessed.ID
	a.Efficiency = efficiency(items)
	return a
}

// efficiency measures how well access patterns line up with importance:
// important memories should be the accessed ones.
func efficiency(items []*Item) float64 {
	if len(items) == 0 {
		return 0
	}
	var total float64
	for _, it := range items {
		expected := it.Importance * 10
		if expected <= 0 {
			continue
		}
		total += math.Min(1.0, float64(it.AccessCount)/expected)
	}
	return total / float64(len(items))
}
