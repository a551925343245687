package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinela-poi/internal/models"
	"sentinela-poi/internal/poi"
)

func intPtr(v int) *int { return &v }

func sampleSnapshot() *models.GroupSnapshot {
	// 2025-08-09 16:00 UTC == 12:00 local (UTC−4).
	verifiedAt := time.Date(2025, 8, 9, 16, 0, 0, 0, time.UTC)
	return &models.GroupSnapshot{
		Facility:         poi.FacilityRRP,
		Group:            poi.GroupPontoApoio,
		GroupKey:         poi.NormalizeGroupKey(poi.GroupPontoApoio),
		VerificationTime: verifiedAt,
		VehicleCount:     7,
		SLALimit:         intPtr(6),
		InDeviation:      true,
		Excess:           1,
		Vehicles: []models.PresenceRecord{
			{VehiclePlate: "AAA1234"},
			{VehiclePlate: "BBB5678"},
		},
	}
}

func TestFormatID_CanonicalFormat(t *testing.T) {
	verifiedAt := time.Date(2025, 8, 9, 16, 0, 0, 0, time.UTC)

	id := FormatID(poi.FacilityRRP, "PontoApoioRRP", models.LevelN1, verifiedAt)

	assert.Equal(t, "RRP_PontoApoioRRP_N1_09082025_120000", id)
}

func TestFormatID_FacilityLocalTimezone(t *testing.T) {
	// 02:00 UTC on the 10th is still 22:00 on the 9th in UTC−4.
	verifiedAt := time.Date(2025, 8, 10, 2, 0, 0, 0, time.UTC)

	id := FormatID(poi.FacilityTLS, "Terminal", models.LevelN3, verifiedAt)

	assert.Equal(t, "TLS_Terminal_N3_09082025_220000", id)
}

func TestFormatID_Idempotent(t *testing.T) {
	verifiedAt := time.Date(2025, 8, 9, 16, 0, 0, 0, time.UTC)

	first := FormatID(poi.FacilityRRP, "Fábrica", models.LevelN2, verifiedAt)
	second := FormatID(poi.FacilityRRP, "Fábrica", models.LevelN2, verifiedAt)

	assert.Equal(t, first, second)
	assert.Equal(t, "RRP_Fábrica_N2_09082025_120000", first)
}

func TestFormat_BuildsAlert(t *testing.T) {
	snap := sampleSnapshot()

	a := Format(snap, models.LevelN1)

	assert.Equal(t, "RRP_PontoApoio_N1_09082025_120000", a.AlertID)
	assert.Equal(t, poi.FacilityRRP, a.Facility)
	assert.Equal(t, poi.GroupPontoApoio, a.Group)
	assert.Equal(t, models.LevelN1, a.Level)
	assert.Equal(t, snap.VerificationTime, a.GeneratedAt)
	assert.Equal(t, []string{"AAA1234", "BBB5678"}, a.AffectedVehicles)
	assert.Equal(t, 7, a.VehicleCount)
	assert.Equal(t, 6, a.SLALimit)
	assert.Equal(t, 1, a.Excess)

	require.NotEmpty(t, a.Message)
	assert.Contains(t, a.Message, "ALERTA POI - N1")
	assert.Contains(t, a.Message, "Filial: RRP")
	assert.Contains(t, a.Message, "Grupo: Ponto Apoio")
	assert.Contains(t, a.Message, "Veículos: 7 (limite 6)")
	assert.Contains(t, a.Message, "Excesso: 1")
	assert.Contains(t, a.Message, "Placas: AAA1234, BBB5678")
	assert.Contains(t, a.Message, "Detectado: 09/08/2025 12:00")
}

func TestFormat_NilLimitRendersZero(t *testing.T) {
	snap := sampleSnapshot()
	snap.SLALimit = nil

	a := Format(snap, models.LevelN1)

	assert.Equal(t, 0, a.SLALimit)
}
