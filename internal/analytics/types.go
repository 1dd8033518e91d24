package analytics

import "time"

// Metric is one per-interaction performance record. Scores live in [0,1]
// except ResponseTime (seconds). Append-only; never mutated after write.
type Metric struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	UserID        string    `json:"user_id"`
	ResponseTime  float64   `json:"response_time"`
	Satisfaction  float64   `json:"satisfaction"`
	Completion    float64   `json:"completion"`
	Engagement    float64   `json:"engagement"`
	Effectiveness float64   `json:"effectiveness"`
	ErrorRate     float64   `json:"error_rate"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// InteractionAnalysis is the qualitative companion to a Metric.
type InteractionAnalysis struct {
	ID              string    `json:"id"`
	AgentID         string    `json:"agent_id"`
	UserID          string    `json:"user_id"`
	InteractionType string    `json:"interaction_type"`
	SuccessScore    float64   `json:"success_score"`
	ComplexityLevel int       `json:"complexity_level"`
	FeaturesUsed    []string  `json:"features_used"`
	ResponseQuality float64   `json:"response_quality"`
	Relevance       float64   `json:"relevance"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Trend labels the direction of a metric series.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// Stats holds descriptive statistics over one numeric field.
type Stats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Distribution buckets satisfaction-like scores by quality band.
type Distribution struct {
	Excellent float64 `json:"excellent"` // >= 0.9
	Good      float64 `json:"good"`      // [0.7, 0.9)
	Average   float64 `json:"average"`   // [0.5, 0.7)
	Poor      float64 `json:"poor"`      // < 0.5
}

// Report is the aggregated performance view for one agent and window.
type Report struct {
	AgentID           string       `json:"agent_id"`
	Samples           int          `json:"samples"`
	ResponseTime      Stats        `json:"response_time"`
	Satisfaction      Stats        `json:"satisfaction"`
	SatisfactionSplit Distribution `json:"satisfaction_distribution"`
	Engagement        Stats        `json:"engagement"`
	ErrorRate         Stats        `json:"error_rate"`
	Trend             Trend        `json:"trend"`
	HealthScore       float64      `json:"health_score"`
}
