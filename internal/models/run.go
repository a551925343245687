package models

import (
	"time"
)

// RunSummary is the per-execution outcome record. Produced on every run,
// including partial and failed ones.
type RunSummary struct {
	ExecutionID      string        `json:"execution_id"`
	VerificationTime time.Time     `json:"verification_time"`
	StartedAt        time.Time     `json:"started_at"`
	EventsFetched    int           `json:"events_fetched"`
	RecordsProcessed int           `json:"records_processed"`
	RecordsSkipped   int           `json:"records_skipped"`
	GroupsEvaluated  int           `json:"groups_evaluated"`
	DeviationsFound  int           `json:"deviations_found"`
	AlertsEmitted    int           `json:"alerts_emitted"`
	Errors           int           `json:"errors"`
	PartialFailure   bool          `json:"partial_failure"`
	Failed           bool          `json:"failed"`
	Duration         time.Duration `json:"duration"`
}
