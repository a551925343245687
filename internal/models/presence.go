package models

import (
	"time"
)

// PresenceRecord is one vehicle's occupancy of one POI at verification time.
// Produced fresh each run from the events API; never persisted on its own.
type PresenceRecord struct {
	VehiclePlate   string     `json:"vehicle_plate"`
	POI            string     `json:"poi"`
	EntryTimestamp time.Time  `json:"entry_timestamp"`
	ExitTimestamp  *time.Time `json:"exit_timestamp,omitempty"`
	StillPresent   bool       `json:"still_present"`
	EventID        int64      `json:"event_id,omitempty"`

	// DwellHours is filled by the detector for reporting (2 decimal places).
	DwellHours float64 `json:"dwell_hours"`
}

// GroupSnapshot is the aggregated state of one (facility, group) at one
// verification hour. VerificationTime is always floored to the top of the
// hour so that re-running the same hour yields identical keys.
type GroupSnapshot struct {
	Facility         string           `json:"facility"`
	Group            string           `json:"group"`
	GroupKey         string           `json:"group_key"`
	VerificationTime time.Time        `json:"verification_time"`
	VehicleCount     int              `json:"vehicle_count"`
	SLALimit         *int             `json:"sla_limit,omitempty"`
	OccupancyPct     float64          `json:"occupancy_pct"`
	InDeviation      bool             `json:"in_deviation"`
	Excess           int              `json:"excess"`
	Vehicles         []PresenceRecord `json:"vehicles"`
}

// Plates returns the affected vehicle plates in snapshot order.
func (s *GroupSnapshot) Plates() []string {
	plates := make([]string, 0, len(s.Vehicles))
	for _, v := range s.Vehicles {
		plates = append(plates, v.VehiclePlate)
	}
	return plates
}
