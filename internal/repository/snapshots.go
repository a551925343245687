package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// SnapshotRepository persists hourly group snapshots. The table is
// append-only; re-running an hour inserts new rows keyed by execution id, so
// history is never rewritten.
type SnapshotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSnapshotRepository(db *sql.DB, logger *zap.Logger) *SnapshotRepository {
	return &SnapshotRepository{
		db:     db,
		logger: logger,
	}
}

// InsertSnapshots writes all snapshots of one run in a single transaction.
func (r *SnapshotRepository) InsertSnapshots(ctx context.Context, executionID string, snapshots []*models.GroupSnapshot) error {
	if executionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO group_snapshots (
			execution_id,
			facility,
			group_name,
			verification_time,
			vehicle_count,
			sla_limit,
			occupancy_pct,
			in_deviation,
			excess,
			vehicle_plates
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, snap := range snapshots {
		if snap.Facility == "" {
			return fmt.Errorf("facility is required")
		}
		if snap.Group == "" {
			return fmt.Errorf("group is required")
		}

		plates, err := json.Marshal(snap.Plates())
		if err != nil {
			return fmt.Errorf("failed to marshal plates for %s/%s: %w", snap.Facility, snap.Group, err)
		}

		var limit sql.NullInt64
		if snap.SLALimit != nil {
			limit = sql.NullInt64{Int64: int64(*snap.SLALimit), Valid: true}
		}

		_, err = stmt.ExecContext(ctx,
			executionID,
			snap.Facility,
			snap.Group,
			snap.VerificationTime,
			snap.VehicleCount,
			limit,
			snap.OccupancyPct,
			snap.InDeviation,
			snap.Excess,
			plates,
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot %s/%s: %w", snap.Facility, snap.Group, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}

	r.logger.Debug("Inserted group snapshots",
		zap.String("execution_id", executionID),
		zap.Int("count", len(snapshots)),
	)
	return nil
}
