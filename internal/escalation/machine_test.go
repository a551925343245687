package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sentinela-poi/internal/models"
	"sentinela-poi/internal/poi"
)

func deviationSnapshot(verifiedAt time.Time) *models.GroupSnapshot {
	limit := 8
	return &models.GroupSnapshot{
		Facility:         poi.FacilityRRP,
		Group:            poi.GroupFabrica,
		GroupKey:         "Fábrica",
		VerificationTime: verifiedAt,
		VehicleCount:     9,
		SLALimit:         &limit,
		InDeviation:      true,
		Excess:           1,
	}
}

func cleanSnapshot(verifiedAt time.Time) *models.GroupSnapshot {
	limit := 8
	return &models.GroupSnapshot{
		Facility:         poi.FacilityRRP,
		Group:            poi.GroupFabrica,
		GroupKey:         "Fábrica",
		VerificationTime: verifiedAt,
		VehicleCount:     7,
		SLALimit:         &limit,
	}
}

func TestTransition_FirstDeviationCreatesN1(t *testing.T) {
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	rec, emit := Transition(nil, deviationSnapshot(verifiedAt))

	require.NotNil(t, rec)
	assert.True(t, emit)
	assert.Equal(t, models.LevelN1, rec.CurrentLevel)
	assert.Equal(t, 1, rec.ConsecutiveHours)
	assert.Equal(t, models.StatusActive, rec.Status)
	require.NotNil(t, rec.FirstDeviationAt)
	assert.Equal(t, verifiedAt, *rec.FirstDeviationAt)
	assert.Equal(t, verifiedAt, rec.LastVerificationAt)
	assert.Equal(t, "RRP_Fábrica", rec.Key)
}

func TestTransition_NoRecordNoDeviationIsNoop(t *testing.T) {
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	rec, emit := Transition(nil, cleanSnapshot(verifiedAt))

	assert.Nil(t, rec)
	assert.False(t, emit)
}

func TestTransition_EscalatesOneStepPerHour(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	rec, emit := Transition(nil, deviationSnapshot(hour0))
	require.True(t, emit)

	// Hours 2..5 of continuous deviation: N2, N3, N4, then hold at N4.
	wantLevels := []models.Level{models.LevelN2, models.LevelN3, models.LevelN4, models.LevelN4}
	wantEmit := []bool{true, true, true, false}

	for i := range wantLevels {
		snap := deviationSnapshot(hour0.Add(time.Duration(i+1) * time.Hour))
		rec, emit = Transition(rec, snap)
		require.NotNil(t, rec)
		assert.Equal(t, wantLevels[i], rec.CurrentLevel, "hour %d", i+2)
		assert.Equal(t, wantEmit[i], emit, "hour %d", i+2)
		assert.Equal(t, i+2, rec.ConsecutiveHours)
		assert.Equal(t, models.StatusActive, rec.Status)
	}
}

func TestTransition_NeverSkipsLevels(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))

	// A large excess jump still escalates exactly one step.
	snap := deviationSnapshot(hour0.Add(time.Hour))
	snap.VehicleCount = 50
	snap.Excess = 42

	rec, emit := Transition(rec, snap)
	require.NotNil(t, rec)
	assert.True(t, emit)
	assert.Equal(t, models.LevelN2, rec.CurrentLevel)
}

func TestTransition_CleanHourFullyResets(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))
	rec, _ = Transition(rec, deviationSnapshot(hour0.Add(time.Hour)))
	require.Equal(t, models.LevelN2, rec.CurrentLevel)

	resolvedAt := hour0.Add(2 * time.Hour)
	rec, emit := Transition(rec, cleanSnapshot(resolvedAt))

	require.NotNil(t, rec)
	assert.False(t, emit)
	assert.Equal(t, models.LevelNone, rec.CurrentLevel)
	assert.Equal(t, 0, rec.ConsecutiveHours)
	assert.Equal(t, models.StatusResolved, rec.Status)
	require.NotNil(t, rec.ResolvedAt)
	assert.Equal(t, resolvedAt, *rec.ResolvedAt)
}

func TestTransition_ResolvedRecordOpensFreshEpisode(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))
	rec, _ = Transition(rec, cleanSnapshot(hour0.Add(time.Hour)))
	require.Equal(t, models.StatusResolved, rec.Status)

	again := hour0.Add(2 * time.Hour)
	rec, emit := Transition(rec, deviationSnapshot(again))

	require.NotNil(t, rec)
	assert.True(t, emit)
	assert.Equal(t, models.LevelN1, rec.CurrentLevel)
	assert.Equal(t, 1, rec.ConsecutiveHours)
	assert.Equal(t, models.StatusActive, rec.Status)
	require.NotNil(t, rec.FirstDeviationAt)
	assert.Equal(t, again, *rec.FirstDeviationAt)
	assert.Nil(t, rec.ResolvedAt)
}

func TestTransition_ResolvedAndStillCleanTouchesTimestampOnly(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))
	rec, _ = Transition(rec, cleanSnapshot(hour0.Add(time.Hour)))

	later := hour0.Add(2 * time.Hour)
	rec, emit := Transition(rec, cleanSnapshot(later))

	require.NotNil(t, rec)
	assert.False(t, emit)
	assert.Equal(t, models.LevelNone, rec.CurrentLevel)
	assert.Equal(t, models.StatusResolved, rec.Status)
	assert.Equal(t, later, rec.LastVerificationAt)
}

func TestTransition_SameHourReplayIsNoop(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))

	next, emit := Transition(rec, deviationSnapshot(hour0))

	assert.Nil(t, next)
	assert.False(t, emit)
}

func TestTransition_DoesNotMutatePrevious(t *testing.T) {
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)
	rec, _ := Transition(nil, deviationSnapshot(hour0))

	_, _ = Transition(rec, deviationSnapshot(hour0.Add(time.Hour)))

	assert.Equal(t, models.LevelN1, rec.CurrentLevel)
	assert.Equal(t, 1, rec.ConsecutiveHours)
}

// ============================================
// Machine.Process against a real (mini)redis store
// ============================================

func setupMachine(t *testing.T) (*Machine, *Store) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewStore(client, "sentinela:escalation:", 7*24*time.Hour, zap.NewNop())
	return NewMachine(store, 3, zap.NewNop()), store
}

func TestProcess_CreatesAndPersistsFirstDeviation(t *testing.T) {
	m, store := setupMachine(t)
	ctx := context.Background()
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	decision, err := m.Process(ctx, deviationSnapshot(verifiedAt))

	require.NoError(t, err)
	assert.True(t, decision.EmitAlert)
	assert.False(t, decision.Skipped)
	assert.Equal(t, models.LevelNone, decision.PreviousLevel)
	assert.Equal(t, models.LevelN1, decision.Record.CurrentLevel)

	stored, err := store.Get(ctx, poi.FacilityRRP, "Fábrica")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.LevelN1, stored.CurrentLevel)
	assert.Equal(t, int64(1), stored.Version)
}

func TestProcess_SameHourSecondRunSkips(t *testing.T) {
	m, store := setupMachine(t)
	ctx := context.Background()
	verifiedAt := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	first, err := m.Process(ctx, deviationSnapshot(verifiedAt))
	require.NoError(t, err)
	require.True(t, first.EmitAlert)

	second, err := m.Process(ctx, deviationSnapshot(verifiedAt))
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.False(t, second.EmitAlert)

	// No state mutation: version unchanged.
	stored, err := store.Get(ctx, poi.FacilityRRP, "Fábrica")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 1, stored.ConsecutiveHours)
}

func TestProcess_ConsecutiveHoursEscalate(t *testing.T) {
	m, _ := setupMachine(t)
	ctx := context.Background()
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	d1, err := m.Process(ctx, deviationSnapshot(hour0))
	require.NoError(t, err)
	assert.Equal(t, models.LevelN1, d1.Record.CurrentLevel)
	assert.True(t, d1.EmitAlert)

	d2, err := m.Process(ctx, deviationSnapshot(hour0.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.LevelN2, d2.Record.CurrentLevel)
	assert.True(t, d2.EmitAlert)

	d3, err := m.Process(ctx, deviationSnapshot(hour0.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, models.LevelN3, d3.Record.CurrentLevel)
	assert.True(t, d3.EmitAlert)
}

func TestProcess_ResetDoesNotEmit(t *testing.T) {
	m, _ := setupMachine(t)
	ctx := context.Background()
	hour0 := time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)

	_, err := m.Process(ctx, deviationSnapshot(hour0))
	require.NoError(t, err)

	decision, err := m.Process(ctx, cleanSnapshot(hour0.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, decision.EmitAlert)
	assert.Equal(t, models.StatusResolved, decision.Record.Status)
	assert.Equal(t, models.LevelNone, decision.Record.CurrentLevel)
}

func TestProcess_NothingToDoForCleanUnknownGroup(t *testing.T) {
	m, store := setupMachine(t)
	ctx := context.Background()

	decision, err := m.Process(ctx, cleanSnapshot(time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)))

	require.NoError(t, err)
	assert.True(t, decision.Skipped)
	assert.Nil(t, decision.Record)

	stored, err := store.Get(ctx, poi.FacilityRRP, "Fábrica")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

// conflictStore forces version conflicts for the first N puts.
type conflictStore struct {
	inner     StateStore
	conflicts int
}

func (c *conflictStore) Get(ctx context.Context, facility, groupKey string) (*models.EscalationRecord, error) {
	return c.inner.Get(ctx, facility, groupKey)
}

func (c *conflictStore) Put(ctx context.Context, rec *models.EscalationRecord, expectedVersion int64) error {
	if c.conflicts > 0 {
		c.conflicts--
		return ErrVersionConflict
	}
	return c.inner.Put(ctx, rec, expectedVersion)
}

func TestProcess_RetriesOnVersionConflict(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := NewStore(client, "sentinela:escalation:", 0, zap.NewNop())

	cs := &conflictStore{inner: inner, conflicts: 2}
	m := NewMachine(cs, 3, zap.NewNop())

	decision, err := m.Process(context.Background(), deviationSnapshot(time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)))

	require.NoError(t, err)
	assert.True(t, decision.EmitAlert)
	assert.Equal(t, models.LevelN1, decision.Record.CurrentLevel)
}

func TestProcess_SurfacesConflictAfterBoundedAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	inner := NewStore(client, "sentinela:escalation:", 0, zap.NewNop())

	cs := &conflictStore{inner: inner, conflicts: 10}
	m := NewMachine(cs, 3, zap.NewNop())

	_, err := m.Process(context.Background(), deviationSnapshot(time.Date(2025, 8, 9, 12, 0, 0, 0, time.UTC)))

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict))
}
