package aggregator

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
	"sentinela-poi/internal/poi"
)

// Stats counts records excluded during aggregation. Skipped records are
// malformed; stale ones fall outside the group's dwell window; unmapped ones
// belong to POIs without an SLA group.
type Stats struct {
	Skipped  int
	Stale    int
	Unmapped int
}

// Aggregator turns the run's presence records into per-(facility, group)
// snapshots keyed by the floored verification hour.
type Aggregator struct {
	catalog *poi.Catalog
	logger  *zap.Logger
}

func New(catalog *poi.Catalog, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		catalog: catalog,
		logger:  logger,
	}
}

// FloorHour floors a timestamp to the top of the hour (12:20 -> 12:00). All
// downstream timestamps use the floored value, never wall-clock time, so that
// replaying the same hour produces identical group keys.
func FloorHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

// Aggregate groups presence records by (facility, group) and counts
// concurrently present vehicles per group. A snapshot is emitted for every
// configured group, including empty ones, so a group that cleared out still
// flows through escalation and resets its record.
func (a *Aggregator) Aggregate(records []models.PresenceRecord, verificationTime time.Time) ([]models.GroupSnapshot, Stats) {
	verifiedAt := FloorHour(verificationTime)

	var stats Stats
	members := make(map[poi.GroupRef]map[string]models.PresenceRecord)

	for _, rec := range records {
		if rec.VehiclePlate == "" || rec.EntryTimestamp.IsZero() {
			stats.Skipped++
			continue
		}

		facility, group := a.catalog.Resolve(rec.POI)
		if group == poi.GroupUnmapped {
			// Unmapped POIs must not generate false alerts; log for operator
			// visibility and move on.
			stats.Unmapped++
			a.logger.Debug("Presence record in unmapped POI",
				zap.String("poi", rec.POI),
				zap.String("facility", facility),
				zap.String("vehicle_plate", rec.VehiclePlate),
			)
			continue
		}

		if verifiedAt.Sub(rec.EntryTimestamp) > a.catalog.DwellWindow(group) {
			stats.Stale++
			continue
		}

		// Vehicles that already exited are excluded from the occupancy count.
		if !rec.StillPresent {
			continue
		}

		ref := poi.GroupRef{Facility: facility, Group: group}
		if members[ref] == nil {
			members[ref] = make(map[string]models.PresenceRecord)
		}

		// Dedupe by plate keeping the earliest entry.
		if existing, ok := members[ref][rec.VehiclePlate]; !ok || rec.EntryTimestamp.Before(existing.EntryTimestamp) {
			members[ref][rec.VehiclePlate] = rec
		}
	}

	refs := a.catalog.ConfiguredGroups()
	snapshots := make([]models.GroupSnapshot, 0, len(refs))

	for _, ref := range refs {
		vehicles := make([]models.PresenceRecord, 0, len(members[ref]))
		for _, rec := range members[ref] {
			vehicles = append(vehicles, rec)
		}
		sort.Slice(vehicles, func(i, j int) bool {
			if !vehicles[i].EntryTimestamp.Equal(vehicles[j].EntryTimestamp) {
				return vehicles[i].EntryTimestamp.Before(vehicles[j].EntryTimestamp)
			}
			return vehicles[i].VehiclePlate < vehicles[j].VehiclePlate
		})

		snapshots = append(snapshots, models.GroupSnapshot{
			Facility:         ref.Facility,
			Group:            ref.Group,
			GroupKey:         poi.NormalizeGroupKey(ref.Group),
			VerificationTime: verifiedAt,
			VehicleCount:     len(vehicles),
			SLALimit:         a.catalog.LimitFor(ref.Facility, ref.Group),
			Vehicles:         vehicles,
		})
	}

	return snapshots, stats
}
