package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const storeTimeout = 3 * time.Second

// Store persists metrics and analyses in Postgres. All writes are
// append-only.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("analytics")}
}

// RecordMetric inserts one interaction metric and returns its id.
func (s *Store) RecordMetric(ctx context.Context, m *Metric) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.RecordedAt.IsZero() {
		m.RecordedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_metrics
			(metric_id, agent_id, user_id, response_time, satisfaction,
			 completion, engagement, effectiveness, error_rate, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.AgentID, m.UserID, m.ResponseTime, m.Satisfaction,
		m.Completion, m.Engagement, m.Effectiveness, m.ErrorRate, m.RecordedAt)
	if err != nil {
		return "", fmt.Errorf("insert metric: %w", err)
	}
	return m.ID, nil
}

// RecordAnalysis inserts one interaction analysis and returns its id.
func (s *Store) RecordAnalysis(ctx context.Context, a *InteractionAnalysis) (string, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}
	if a.ComplexityLevel < 1 {
		a.ComplexityLevel = 1
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO interaction_analyses
			(analysis_id, agent_id, user_id, interaction_type, success_score,
			 complexity_level, features_used, response_quality, relevance, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.AgentID, a.UserID, a.InteractionType, a.SuccessScore,
		a.ComplexityLevel, a.FeaturesUsed, a.ResponseQuality, a.Relevance, a.RecordedAt)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return a.ID, nil
}

// MetricsSince returns metrics for one agent recorded after the cutoff,
// oldest first so trend detection can compare early against late samples.
func (s *Store) MetricsSince(ctx context.Context, agentID string, since time.Time) ([]*Metric, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT metric_id, agent_id, user_id, response_time, satisfaction,
		       completion, engagement, effectiveness, error_rate, recorded_at
		FROM agent_metrics
		WHERE agent_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`,
		agentID, since)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.AgentID, &m.UserID, &m.ResponseTime, &m.Satisfaction,
			&m.Completion, &m.Engagement, &m.Effectiveness, &m.ErrorRate, &m.RecordedAt); err != nil {
			s.logger.Warn("skipping unreadable metric row", zap.Error(err))
			continue
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// AnalysesSince returns analyses for one agent recorded after the cutoff.
func (s *Store) AnalysesSince(ctx context.Context, agentID string, since time.Time) ([]*InteractionAnalysis, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT analysis_id, agent_id, user_id, interaction_type, success_score,
		       complexity_level, features_used, response_quality, relevance, recorded_at
		FROM interaction_analyses
		WHERE agent_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at ASC`,
		agentID, since)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var out []*InteractionAnalysis
	for rows.Next() {
		var a InteractionAnalysis
		if err := rows.Scan(&a.ID, &a.AgentID, &a.UserID, &a.InteractionType, &a.SuccessScore,
			&a.ComplexityLevel, &a.FeaturesUsed, &a.ResponseQuality, &a.Relevance, &a.RecordedAt); err != nil {
			s.logger.Warn("skipping unreadable analysis row", zap.Error(err))
			continue
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
