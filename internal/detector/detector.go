package detector

import (
	"math"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// Detector decides OK/deviation per group snapshot and fills the reporting
// metrics (excess, occupancy, per-vehicle dwell hours). Escalation is driven
// by consecutive deviation hours, never by dwell time; dwell is reporting
// only.
type Detector struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect mutates the snapshot in place. A group is in deviation iff it has a
// configured limit and the count exceeds it; unmapped groups (nil limit) are
// never flagged.
func (d *Detector) Detect(snap *models.GroupSnapshot) {
	if snap.SLALimit != nil {
		limit := *snap.SLALimit
		if snap.VehicleCount > limit {
			snap.InDeviation = true
			snap.Excess = snap.VehicleCount - limit
		} else {
			snap.InDeviation = false
			snap.Excess = 0
		}
		if limit > 0 {
			snap.OccupancyPct = math.Round(float64(snap.VehicleCount)/float64(limit)*100*10) / 10
		}
	}

	for i := range snap.Vehicles {
		hours := snap.VerificationTime.Sub(snap.Vehicles[i].EntryTimestamp).Hours()
		if hours < 0 {
			// Entry after the floored hour (vehicle arrived mid-hour).
			hours = 0
		}
		snap.Vehicles[i].DwellHours = math.Round(hours*100) / 100
	}

	if snap.InDeviation {
		d.logger.Warn("SLA deviation detected",
			zap.String("facility", snap.Facility),
			zap.String("group", snap.Group),
			zap.Int("vehicle_count", snap.VehicleCount),
			zap.Intp("sla_limit", snap.SLALimit),
			zap.Int("excess", snap.Excess),
		)
	}
}
