package models

import (
	"time"
)

// Alert is an emitted notification event. Immutable once created; the
// AlertID format is a wire-level contract matched on by downstream consumers:
// {FACILITY}_{GROUP_NO_SPACES}_{LEVEL}_{DDMMYYYY}_{HHMMSS}.
type Alert struct {
	AlertID          string    `json:"alert_id"`
	Facility         string    `json:"facility"`
	Group            string    `json:"group"`
	Level            Level     `json:"level"`
	GeneratedAt      time.Time `json:"generated_at"`
	AffectedVehicles []string  `json:"affected_vehicles"`
	VehicleCount     int       `json:"vehicle_count"`
	SLALimit         int       `json:"sla_limit"`
	Excess           int       `json:"excess"`
	Message          string    `json:"message"`
}
