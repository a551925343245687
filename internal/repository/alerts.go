package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// AlertRepository persists emitted alerts for reporting. The alert id is the
// primary key; ON CONFLICT DO NOTHING makes replayed runs harmless here too.
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// InsertAlert records one alert row.
func (r *AlertRepository) InsertAlert(ctx context.Context, executionID string, alert *models.Alert) error {
	if executionID == "" {
		return fmt.Errorf("execution_id is required")
	}
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	plates, err := json.Marshal(alert.AffectedVehicles)
	if err != nil {
		return fmt.Errorf("failed to marshal affected vehicles: %w", err)
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			execution_id,
			facility,
			group_name,
			level,
			generated_at,
			vehicle_count,
			sla_limit,
			excess,
			affected_vehicles,
			message
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (alert_id) DO NOTHING
	`

	_, err = r.db.ExecContext(ctx, query,
		alert.AlertID,
		executionID,
		alert.Facility,
		alert.Group,
		string(alert.Level),
		alert.GeneratedAt,
		alert.VehicleCount,
		alert.SLALimit,
		alert.Excess,
		plates,
		alert.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.AlertID, err)
	}

	r.logger.Debug("Inserted alert",
		zap.String("alert_id", alert.AlertID),
		zap.String("execution_id", executionID),
	)
	return nil
}
