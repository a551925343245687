package escalation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// StateStore is the escalation machine's view of the state store.
type StateStore interface {
	Get(ctx context.Context, facility, groupKey string) (*models.EscalationRecord, error)
	Put(ctx context.Context, rec *models.EscalationRecord, expectedVersion int64) error
}

// Decision is the outcome of processing one group for one verification hour.
type Decision struct {
	Record        *models.EscalationRecord
	PreviousLevel models.Level
	EmitAlert     bool
	// Skipped means the key was already processed for this hour (or nothing
	// needed to change), so no state was written and no alert may fire.
	Skipped bool
}

// Machine applies the N1–N4 escalation rules and persists transitions through
// the state store with bounded reload-and-reapply on version conflicts.
type Machine struct {
	store       StateStore
	maxAttempts int
	logger      *zap.Logger
}

func NewMachine(store StateStore, maxAttempts int, logger *zap.Logger) *Machine {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Machine{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Transition computes the successor record for one hourly observation.
// It returns (nil, false) when there is nothing to persist: no record and no
// deviation, or a record already verified for this hour (same-hour replay).
// The returned record is always a fresh value; prev is never mutated.
//
// Levels move one step per hour of continued deviation (N1→N2→N3→N4), never
// skipping, and hold at N4. A single clean hour fully resets the episode.
// An alert is warranted iff the level strictly increased.
func Transition(prev *models.EscalationRecord, snap *models.GroupSnapshot) (*models.EscalationRecord, bool) {
	verifiedAt := snap.VerificationTime

	if prev == nil {
		if !snap.InDeviation {
			return nil, false
		}
		first := verifiedAt
		level := models.LevelN1
		return &models.EscalationRecord{
			Key:                snap.Facility + "_" + snap.GroupKey,
			Facility:           snap.Facility,
			Group:              snap.Group,
			GroupKey:           snap.GroupKey,
			CurrentLevel:       level,
			ConsecutiveHours:   1,
			FirstDeviationAt:   &first,
			LastVerificationAt: verifiedAt,
			LastAlertLevel:     &level,
			Status:             models.StatusActive,
			CreatedAt:          verifiedAt,
			UpdatedAt:          verifiedAt,
		}, true
	}

	// Same hour already processed (or an older hour replayed): no double
	// escalation, no re-emission.
	if !verifiedAt.After(prev.LastVerificationAt) {
		return nil, false
	}

	next := prev.Clone()
	next.LastVerificationAt = verifiedAt
	next.UpdatedAt = verifiedAt

	if prev.Status == models.StatusActive {
		if snap.InDeviation {
			next.ConsecutiveHours = prev.ConsecutiveHours + 1
			next.CurrentLevel = prev.CurrentLevel.Next()
			if next.CurrentLevel != prev.CurrentLevel {
				level := next.CurrentLevel
				next.LastAlertLevel = &level
				return next, true
			}
			return next, false
		}

		// One clean hour fully resets the counter. No partial credit.
		next.Status = models.StatusResolved
		resolved := verifiedAt
		next.ResolvedAt = &resolved
		next.CurrentLevel = models.LevelNone
		next.ConsecutiveHours = 0
		return next, false
	}

	// Resolved record: a new deviation opens a fresh episode at N1.
	if snap.InDeviation {
		first := verifiedAt
		level := models.LevelN1
		next.Status = models.StatusActive
		next.CurrentLevel = level
		next.ConsecutiveHours = 1
		next.FirstDeviationAt = &first
		next.LastAlertLevel = &level
		next.ResolvedAt = nil
		return next, true
	}

	// Still clean: just record that this hour was verified.
	return next, false
}

// Process runs the transition for one group snapshot, persisting through the
// conditional put. On a version conflict it reloads and reapplies up to the
// bounded attempt count, then surfaces a per-key failure.
func (m *Machine) Process(ctx context.Context, snap *models.GroupSnapshot) (*Decision, error) {
	var lastErr error

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		prev, err := m.store.Get(ctx, snap.Facility, snap.GroupKey)
		if err != nil {
			return nil, err
		}

		prevLevel := models.LevelNone
		var expected int64
		if prev != nil {
			prevLevel = prev.CurrentLevel
			expected = prev.Version
		}

		next, emit := Transition(prev, snap)
		if next == nil {
			return &Decision{
				Record:        prev,
				PreviousLevel: prevLevel,
				Skipped:       true,
			}, nil
		}

		if err := m.store.Put(ctx, next, expected); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				lastErr = err
				m.logger.Warn("Escalation write conflict, reloading",
					zap.String("facility", snap.Facility),
					zap.String("group", snap.Group),
					zap.Int("attempt", attempt),
				)
				continue
			}
			return nil, err
		}

		m.logger.Info("Escalation state updated",
			zap.String("facility", snap.Facility),
			zap.String("group", snap.Group),
			zap.String("previous_level", string(prevLevel)),
			zap.String("current_level", string(next.CurrentLevel)),
			zap.String("status", next.Status),
			zap.Int("consecutive_hours", next.ConsecutiveHours),
			zap.Bool("emit_alert", emit),
		)

		return &Decision{
			Record:        next,
			PreviousLevel: prevLevel,
			EmitAlert:     emit,
		}, nil
	}

	return nil, fmt.Errorf("escalation update for %s_%s failed after %d attempts: %w",
		snap.Facility, snap.GroupKey, m.maxAttempts, lastErr)
}
