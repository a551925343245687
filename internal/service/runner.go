package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinela-poi/internal/aggregator"
	"sentinela-poi/internal/alert"
	"sentinela-poi/internal/detector"
	"sentinela-poi/internal/escalation"
	"sentinela-poi/internal/events"
	"sentinela-poi/internal/models"
)

// EventsSource abstracts the external fleet API for the runner.
type EventsSource interface {
	FetchActive(ctx context.Context, now time.Time) (*events.FetchResult, error)
}

// SnapshotWriter persists the hourly group snapshots.
type SnapshotWriter interface {
	InsertSnapshots(ctx context.Context, executionID string, snapshots []*models.GroupSnapshot) error
}

// AlertWriter persists emitted alert rows.
type AlertWriter interface {
	InsertAlert(ctx context.Context, executionID string, alert *models.Alert) error
}

// RunWriter persists the per-run summary.
type RunWriter interface {
	InsertRunSummary(ctx context.Context, summary *models.RunSummary) error
}

// AlertEmitter delivers alerts with id-based deduplication.
type AlertEmitter interface {
	Emit(ctx context.Context, a *models.Alert) (bool, error)
}

// Runner executes one full verification cycle: fetch, aggregate, detect,
// escalate per group, persist, emit.
type Runner struct {
	events     EventsSource
	aggregator *aggregator.Aggregator
	detector   *detector.Detector
	state      *escalation.Store
	machine    *escalation.Machine
	snapshots  SnapshotWriter
	alerts     AlertWriter
	runs       RunWriter
	emitter    AlertEmitter
	interval   time.Duration
	timeout    time.Duration
	logger     *zap.Logger
}

func NewRunner(
	eventsSource EventsSource,
	agg *aggregator.Aggregator,
	det *detector.Detector,
	state *escalation.Store,
	machine *escalation.Machine,
	snapshots SnapshotWriter,
	alerts AlertWriter,
	runs RunWriter,
	emitter AlertEmitter,
	interval time.Duration,
	timeout time.Duration,
	logger *zap.Logger,
) *Runner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Runner{
		events:     eventsSource,
		aggregator: agg,
		detector:   det,
		state:      state,
		machine:    machine,
		snapshots:  snapshots,
		alerts:     alerts,
		runs:       runs,
		emitter:    emitter,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
	}
}

// RunOnce executes a single verification for the hour containing now. The
// returned summary is always non-nil; a run-level failure is reported both in
// the summary and in the error.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (*models.RunSummary, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	startedAt := time.Now()
	summary := &models.RunSummary{
		ExecutionID:      uuid.New().String(),
		VerificationTime: aggregator.FloorHour(now),
		StartedAt:        startedAt,
	}

	r.logger.Info("Verification run started",
		zap.String("execution_id", summary.ExecutionID),
		zap.Time("verification_time", summary.VerificationTime),
	)

	// The state store is the source of truth for escalation; without it no
	// group can be processed safely, so the run aborts before fetching.
	if err := r.state.Ping(ctx); err != nil {
		return r.failRun(ctx, summary, startedAt, "state store unreachable", err)
	}

	fetched, err := r.events.FetchActive(ctx, now)
	if err != nil {
		return r.failRun(ctx, summary, startedAt, "events fetch failed", err)
	}
	summary.EventsFetched = fetched.EventsFetched

	snapshots, stats := r.aggregator.Aggregate(fetched.Records, summary.VerificationTime)
	summary.RecordsProcessed = len(fetched.Records)
	summary.RecordsSkipped = fetched.Skipped + stats.Skipped + stats.Stale + stats.Unmapped
	summary.GroupsEvaluated = len(snapshots)

	for i := range snapshots {
		r.detector.Detect(&snapshots[i])
		if snapshots[i].InDeviation {
			summary.DeviationsFound++
		}
	}

	// Each group is escalated in isolation: one failing key costs that key,
	// not the run.
	for i := range snapshots {
		if err := r.processGroup(ctx, summary, &snapshots[i]); err != nil {
			summary.Errors++
			summary.PartialFailure = true
			r.logger.Error("Group escalation failed",
				zap.String("execution_id", summary.ExecutionID),
				zap.String("facility", snapshots[i].Facility),
				zap.String("group", snapshots[i].Group),
				zap.Error(err),
			)
		}
	}

	snapshotPtrs := make([]*models.GroupSnapshot, len(snapshots))
	for i := range snapshots {
		snapshotPtrs[i] = &snapshots[i]
	}
	if err := r.snapshots.InsertSnapshots(ctx, summary.ExecutionID, snapshotPtrs); err != nil {
		summary.Errors++
		summary.PartialFailure = true
		r.logger.Error("Snapshot persistence failed",
			zap.String("execution_id", summary.ExecutionID),
			zap.Error(err),
		)
	}

	summary.Duration = time.Since(startedAt)
	r.writeSummary(ctx, summary)

	r.logger.Info("Verification run finished",
		zap.String("execution_id", summary.ExecutionID),
		zap.Int("groups_evaluated", summary.GroupsEvaluated),
		zap.Int("deviations_found", summary.DeviationsFound),
		zap.Int("alerts_emitted", summary.AlertsEmitted),
		zap.Int("errors", summary.Errors),
		zap.Bool("partial_failure", summary.PartialFailure),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processGroup runs the escalation machine for one snapshot and emits the
// alert when the transition warrants one. Emission happens strictly after the
// state write inside Process succeeded.
func (r *Runner) processGroup(ctx context.Context, summary *models.RunSummary, snap *models.GroupSnapshot) error {
	decision, err := r.machine.Process(ctx, snap)
	if err != nil {
		return err
	}
	if decision.Skipped || !decision.EmitAlert {
		return nil
	}

	a := alert.Format(snap, decision.Record.CurrentLevel)

	if err := r.alerts.InsertAlert(ctx, summary.ExecutionID, a); err != nil {
		// The alert row is reporting data; delivery still proceeds.
		summary.Errors++
		summary.PartialFailure = true
		r.logger.Error("Alert persistence failed",
			zap.String("alert_id", a.AlertID),
			zap.Error(err),
		)
	}

	emitted, err := r.emitter.Emit(ctx, a)
	if err != nil {
		return err
	}
	if emitted {
		summary.AlertsEmitted++
	}
	return nil
}

func (r *Runner) failRun(ctx context.Context, summary *models.RunSummary, startedAt time.Time, msg string, err error) (*models.RunSummary, error) {
	summary.Failed = true
	summary.Errors++
	summary.Duration = time.Since(startedAt)

	r.logger.Error("Verification run aborted",
		zap.String("execution_id", summary.ExecutionID),
		zap.String("reason", msg),
		zap.Error(err),
	)

	r.writeSummary(ctx, summary)
	return summary, err
}

// writeSummary is best-effort: losing a summary row must not turn a good run
// into a failed one. It runs on a detached context so a run that hit its
// timeout still records its partial-completion summary.
func (r *Runner) writeSummary(_ context.Context, summary *models.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.runs.InsertRunSummary(ctx, summary); err != nil {
		r.logger.Error("Run summary persistence failed",
			zap.String("execution_id", summary.ExecutionID),
			zap.Error(err),
		)
	}
}

// Start runs immediately, then once per interval aligned to the interval
// boundary (top of the hour for the default configuration), until the context
// is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("Runner started",
		zap.Duration("interval", r.interval),
	)

	if _, err := r.RunOnce(ctx, time.Now()); err != nil {
		r.logger.Error("Initial run failed", zap.Error(err))
	}

	for {
		next := time.Now().Truncate(r.interval).Add(r.interval)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Runner stopped")
			return nil
		case now := <-timer.C:
			if _, err := r.RunOnce(ctx, now); err != nil {
				r.logger.Error("Scheduled run failed", zap.Error(err))
				// keep the schedule going
			}
		}
	}
}
