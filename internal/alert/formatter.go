package alert

import (
	"fmt"
	"strings"
	"time"

	"sentinela-poi/internal/models"
)

// Both facilities sit in Mato Grosso do Sul (America/Campo_Grande, UTC−4).
// Alert ids carry the local wall-clock of the floored verification hour.
var facilityTZ = time.FixedZone("America/Campo_Grande", -4*60*60)

// FormatID builds the canonical alert id:
// {FACILITY}_{GROUP_NO_SPACES}_{LEVEL}_{DDMMYYYY}_{HHMMSS}.
// The format is bit-for-bit stable: the same tuple always yields the same id,
// which the emitter relies on to deduplicate re-emission attempts.
func FormatID(facility, groupKey string, level models.Level, verifiedAt time.Time) string {
	local := verifiedAt.In(facilityTZ)
	return fmt.Sprintf("%s_%s_%s_%s_%s",
		facility,
		groupKey,
		level,
		local.Format("02012006"),
		local.Format("150405"),
	)
}

// Format builds the immutable Alert for one qualifying escalation transition.
func Format(snap *models.GroupSnapshot, level models.Level) *models.Alert {
	limit := 0
	if snap.SLALimit != nil {
		limit = *snap.SLALimit
	}

	plates := snap.Plates()

	return &models.Alert{
		AlertID:          FormatID(snap.Facility, snap.GroupKey, level, snap.VerificationTime),
		Facility:         snap.Facility,
		Group:            snap.Group,
		Level:            level,
		GeneratedAt:      snap.VerificationTime,
		AffectedVehicles: plates,
		VehicleCount:     snap.VehicleCount,
		SLALimit:         limit,
		Excess:           snap.Excess,
		Message:          formatMessage(snap, level, limit, plates),
	}
}

func formatMessage(snap *models.GroupSnapshot, level models.Level, limit int, plates []string) string {
	local := snap.VerificationTime.In(facilityTZ)

	var b strings.Builder
	fmt.Fprintf(&b, "ALERTA POI - %s\n\n", level)
	fmt.Fprintf(&b, "Filial: %s\n", snap.Facility)
	fmt.Fprintf(&b, "Grupo: %s\n", snap.Group)
	fmt.Fprintf(&b, "Veículos: %d (limite %d)\n", snap.VehicleCount, limit)
	fmt.Fprintf(&b, "Excesso: %d\n\n", snap.Excess)
	if len(plates) > 0 {
		fmt.Fprintf(&b, "Placas: %s\n\n", strings.Join(plates, ", "))
	}
	fmt.Fprintf(&b, "Detectado: %s\n", local.Format("02/01/2006 15:04"))
	b.WriteString("Sistema: Sentinela BD - POI Monitoring")
	return b.String()
}
