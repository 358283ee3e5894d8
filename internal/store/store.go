// Package store persists the engine's history: usage records, prompt
// executions, template counters and A/B tests. The engine keeps in-memory
// state authoritative and writes behind to the store.
package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigdegenenergy/open-cloud-ops/strategos/pkg/models"
)

// Store defines the persistence interface. Implementations must be safe for
// concurrent use.
type Store interface {
	SaveUsage(ctx context.Context, rec models.UsageRecord) error
	ListUsage(ctx context.Context, since time.Time, limit int) ([]models.UsageRecord, error)

	SaveExecution(ctx context.Context, exec models.PromptExecution) error
	ListExecutions(ctx context.Context, limit int) ([]models.PromptExecution, error)

	SaveTemplateStats(ctx context.Context, stats models.TemplateStats) error
	ListTemplateStats(ctx context.Context) ([]models.TemplateStats, error)

	SaveABTest(ctx context.Context, test models.ABTest) error
	ListABTests(ctx context.Context) ([]models.ABTest, error)
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// PgStore implements Store using PostgreSQL via pgxpool.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL-backed store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const usageCols = `request_id, timestamp, provider, task_type, complexity,
	input_tokens, output_tokens, total_cost_usd, response_time_seconds,
	quality_rating, cost_efficiency`

const executionCols = `id, template_id, provider, rendered_prompt, variables,
	raw_response, execution_time_seconds, cost_usd, scores, success, error, timestamp`

const statsCols = `template_id, usage_count, success_rate, variants, updated_at`

const abTestCols = `id, variant_a, variant_b, start_time, end_time,
	target_metrics, min_sample_size, created_at`

// SaveUsage appends a usage record.
func (s *PgStore) SaveUsage(ctx context.Context, r models.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (`+usageCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.RequestID, r.Timestamp, string(r.Provider), r.TaskType, string(r.Complexity),
		r.InputTokens, r.OutputTokens, r.TotalCostUSD, r.ResponseTimeSec,
		r.QualityRating, r.CostEfficiency)
	if err != nil {
		return fmt.Errorf("pgstore: save usage: %w", err)
	}
	return nil
}

// ListUsage returns the newest limit records at or after since, oldest first.
func (s *PgStore) ListUsage(ctx context.Context, since time.Time, limit int) ([]models.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+usageCols+` FROM usage_records
			WHERE timestamp >= $1 ORDER BY timestamp DESC LIMIT $2
		) recent ORDER BY timestamp ASC`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list usage: %w", err)
	}
	defer rows.Close()

	var out []models.UsageRecord
	for rows.Next() {
		r, scanErr := scanUsage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveExecution inserts or updates a prompt execution.
func (s *PgStore) SaveExecution(ctx context.Context, e models.PromptExecution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prompt_executions (`+executionCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			raw_response=$6, execution_time_seconds=$7, cost_usd=$8,
			scores=$9, success=$10, error=$11`,
		e.ID, e.TemplateID, string(e.Provider), e.RenderedPrompt, e.Variables,
		e.RawResponse, e.ExecutionTime, e.CostUSD, e.Scores, e.Success, e.Error, e.Timestamp)
	if err != nil {
		return fmt.Errorf("pgstore: save execution: %w", err)
	}
	return nil
}

// ListExecutions returns the newest limit executions, oldest first.
func (s *PgStore) ListExecutions(ctx context.Context, limit int) ([]models.PromptExecution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+executionCols+` FROM prompt_executions
			ORDER BY timestamp DESC LIMIT $1
		) recent ORDER BY timestamp ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list executions: %w", err)
	}
	defer rows.Close()

	var out []models.PromptExecution
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveTemplateStats upserts a template's counters and variants.
func (s *PgStore) SaveTemplateStats(ctx context.Context, st models.TemplateStats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO template_stats (`+statsCols+`)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (template_id) DO UPDATE SET
			usage_count=$2, success_rate=$3, variants=$4, updated_at=$5`,
		st.TemplateID, st.UsageCount, st.SuccessRate, st.Variants, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save template stats: %w", err)
	}
	return nil
}

// ListTemplateStats returns every persisted template counter.
func (s *PgStore) ListTemplateStats(ctx context.Context) ([]models.TemplateStats, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+statsCols+` FROM template_stats ORDER BY template_id`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list template stats: %w", err)
	}
	defer rows.Close()

	var out []models.TemplateStats
	for rows.Next() {
		var st models.TemplateStats
		if err := rows.Scan(&st.TemplateID, &st.UsageCount, &st.SuccessRate, &st.Variants, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan template stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveABTest inserts an A/B test.
func (s *PgStore) SaveABTest(ctx context.Context, t models.ABTest) error {
	metrics := make([]string, len(t.TargetMetrics))
	for i, m := range t.TargetMetrics {
		metrics[i] = string(m)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ab_tests (`+abTestCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.VariantA, t.VariantB, t.StartTime, t.EndTime, metrics, t.MinSampleSize, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: save ab test: %w", err)
	}
	return nil
}

// ListABTests returns every persisted A/B test.
func (s *PgStore) ListABTests(ctx context.Context) ([]models.ABTest, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+abTestCols+` FROM ab_tests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list ab tests: %w", err)
	}
	defer rows.Close()

	var out []models.ABTest
	for rows.Next() {
		var t models.ABTest
		var metrics []string
		if err := rows.Scan(&t.ID, &t.VariantA, &t.VariantB, &t.StartTime, &t.EndTime,
			&metrics, &t.MinSampleSize, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan ab test: %w", err)
		}
		for _, m := range metrics {
			t.TargetMetrics = append(t.TargetMetrics, models.Metric(m))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanUsage(s scannable) (models.UsageRecord, error) {
	var r models.UsageRecord
	var provider, complexity string
	err := s.Scan(
		&r.RequestID, &r.Timestamp, &provider, &r.TaskType, &complexity,
		&r.InputTokens, &r.OutputTokens, &r.TotalCostUSD, &r.ResponseTimeSec,
		&r.QualityRating, &r.CostEfficiency)
	if err != nil {
		if err == pgx.ErrNoRows {
			return r, fmt.Errorf("pgstore: usage record not found")
		}
		return r, fmt.Errorf("pgstore: scan usage: %w", err)
	}
	r.Provider = models.LLMProvider(provider)
	r.Complexity = models.ComplexityTier(complexity)
	return r, nil
}

func scanExecution(s scannable) (models.PromptExecution, error) {
	var e models.PromptExecution
	var provider string
	err := s.Scan(
		&e.ID, &e.TemplateID, &provider, &e.RenderedPrompt, &e.Variables,
		&e.RawResponse, &e.ExecutionTime, &e.CostUSD, &e.Scores, &e.Success, &e.Error, &e.Timestamp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return e, fmt.Errorf("pgstore: execution not found")
		}
		return e, fmt.Errorf("pgstore: scan execution: %w", err)
	}
	e.Provider = models.LLMProvider(provider)
	return e, nil
}

// LogErr logs a store persistence error without failing the operation.
// The in-memory state remains authoritative.
func LogErr(operation string, err error) {
	if err != nil {
		log.Printf("store: warning: %s failed: %v", operation, err)
	}
}
