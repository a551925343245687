package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// RunRepository persists per-run summaries and serves the aggregated status
// queries built on top of them.
type RunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewRunRepository(db *sql.DB, logger *zap.Logger) *RunRepository {
	return &RunRepository{
		db:     db,
		logger: logger,
	}
}

// InsertRunSummary records the outcome of one verification run.
func (r *RunRepository) InsertRunSummary(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("summary is required")
	}
	if summary.ExecutionID == "" {
		return fmt.Errorf("execution_id is required")
	}

	query := `
		INSERT INTO run_summaries (
			execution_id,
			verification_time,
			started_at,
			duration_ms,
			events_fetched,
			records_processed,
			records_skipped,
			groups_evaluated,
			deviations_found,
			alerts_emitted,
			errors,
			partial_failure,
			failed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		summary.ExecutionID,
		summary.VerificationTime,
		summary.StartedAt,
		summary.Duration.Milliseconds(),
		summary.EventsFetched,
		summary.RecordsProcessed,
		summary.RecordsSkipped,
		summary.GroupsEvaluated,
		summary.DeviationsFound,
		summary.AlertsEmitted,
		summary.Errors,
		summary.PartialFailure,
		summary.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run summary %s: %w", summary.ExecutionID, err)
	}

	r.logger.Debug("Inserted run summary",
		zap.String("execution_id", summary.ExecutionID),
		zap.Bool("failed", summary.Failed),
	)
	return nil
}

// RunMetrics aggregates the last 24 hours of runs for the status surface.
type RunMetrics struct {
	Runs            int
	FailedRuns      int
	DeviationsFound int
	AlertsEmitted   int
	LastRunAt       *time.Time
}

// LatestRunMetrics aggregates run summaries newer than 24 hours before now.
func (r *RunRepository) LatestRunMetrics(ctx context.Context, now time.Time) (*RunMetrics, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE failed),
			COALESCE(SUM(deviations_found), 0),
			COALESCE(SUM(alerts_emitted), 0),
			MAX(started_at)
		FROM run_summaries
		WHERE started_at >= $1
	`

	var metrics RunMetrics
	var lastRun sql.NullTime

	err := r.db.QueryRowContext(ctx, query, now.Add(-24*time.Hour)).Scan(
		&metrics.Runs,
		&metrics.FailedRuns,
		&metrics.DeviationsFound,
		&metrics.AlertsEmitted,
		&lastRun,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query run metrics: %w", err)
	}

	if lastRun.Valid {
		metrics.LastRunAt = &lastRun.Time
	}
	return &metrics, nil
}
