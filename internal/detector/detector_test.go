package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"sentinela-poi/internal/models"
	"sentinela-poi/internal/poi"
)

func intPtr(v int) *int { return &v }

func TestDetect_DeviationWithExcess(t *testing.T) {
	d := New(zap.NewNop())

	snap := &models.GroupSnapshot{
		Facility:         poi.FacilityRRP,
		Group:            poi.GroupFabrica,
		VerificationTime: time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC),
		VehicleCount:     9,
		SLALimit:         intPtr(8),
	}

	d.Detect(snap)

	assert.True(t, snap.InDeviation)
	assert.Equal(t, 1, snap.Excess)
	assert.InDelta(t, 112.5, snap.OccupancyPct, 0.01)
}

func TestDetect_AtLimitIsNotDeviation(t *testing.T) {
	d := New(zap.NewNop())

	snap := &models.GroupSnapshot{
		VehicleCount: 8,
		SLALimit:     intPtr(8),
	}

	d.Detect(snap)

	assert.False(t, snap.InDeviation)
	assert.Equal(t, 0, snap.Excess)
}

func TestDetect_NilLimitNeverDeviates(t *testing.T) {
	d := New(zap.NewNop())

	snap := &models.GroupSnapshot{
		Group:        poi.GroupUnmapped,
		VehicleCount: 100,
	}

	d.Detect(snap)

	assert.False(t, snap.InDeviation)
	assert.Equal(t, 0, snap.Excess)
}

func TestDetect_DwellHoursRoundedToTwoDecimals(t *testing.T) {
	d := New(zap.NewNop())
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	snap := &models.GroupSnapshot{
		VerificationTime: verifiedAt,
		VehicleCount:     2,
		SLALimit:         intPtr(12),
		Vehicles: []models.PresenceRecord{
			{VehiclePlate: "AAA1234", EntryTimestamp: verifiedAt.Add(-(2*time.Hour + 20*time.Minute))},
			{VehiclePlate: "BBB5678", EntryTimestamp: verifiedAt.Add(-10 * time.Minute)},
		},
	}

	d.Detect(snap)

	assert.InDelta(t, 2.33, snap.Vehicles[0].DwellHours, 0.001)
	assert.InDelta(t, 0.17, snap.Vehicles[1].DwellHours, 0.001)
}

func TestDetect_NegativeDwellClampedToZero(t *testing.T) {
	d := New(zap.NewNop())
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	// Vehicle entered after the floored hour.
	snap := &models.GroupSnapshot{
		VerificationTime: verifiedAt,
		Vehicles: []models.PresenceRecord{
			{VehiclePlate: "AAA1234", EntryTimestamp: verifiedAt.Add(25 * time.Minute)},
		},
	}

	d.Detect(snap)

	assert.Equal(t, 0.0, snap.Vehicles[0].DwellHours)
}
