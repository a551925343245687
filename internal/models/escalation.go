package models

import (
	"time"
)

// Level is the escalation severity tier of a deviation episode.
type Level string

const (
	LevelNone Level = "NONE"
	LevelN1   Level = "N1"
	LevelN2   Level = "N2"
	LevelN3   Level = "N3"
	LevelN4   Level = "N4"
)

// Next returns the level one step above the receiver. N4 is the ceiling.
func (l Level) Next() Level {
	switch l {
	case LevelNone:
		return LevelN1
	case LevelN1:
		return LevelN2
	case LevelN2:
		return LevelN3
	default:
		return LevelN4
	}
}

// Rank maps a level to its numeric position (NONE=0 .. N4=4).
func (l Level) Rank() int {
	switch l {
	case LevelN1:
		return 1
	case LevelN2:
		return 2
	case LevelN3:
		return 3
	case LevelN4:
		return 4
	default:
		return 0
	}
}

// Escalation record status values.
const (
	StatusActive   = "ACTIVE"
	StatusResolved = "RESOLVED"
)

// EscalationRecord is the durable state of one (facility, group) deviation
// episode, keyed by {facility}_{group_key}. Exclusively owned and mutated by
// the escalation state machine; read-only to everything else.
type EscalationRecord struct {
	Key                string     `json:"key"`
	Facility           string     `json:"facility"`
	Group              string     `json:"group"`
	GroupKey           string     `json:"group_key"`
	CurrentLevel       Level      `json:"current_level"`
	ConsecutiveHours   int        `json:"consecutive_deviation_hours"`
	FirstDeviationAt   *time.Time `json:"first_deviation_timestamp,omitempty"`
	LastVerificationAt time.Time  `json:"last_verification_timestamp"`
	LastAlertLevel     *Level     `json:"last_alert_sent_level,omitempty"`
	Status             string     `json:"status"`
	ResolvedAt         *time.Time `json:"resolved_timestamp,omitempty"`

	// Version backs the store's conditional put. Zero means "not yet stored".
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so transitions never mutate the loaded record.
func (r *EscalationRecord) Clone() *EscalationRecord {
	c := *r
	if r.FirstDeviationAt != nil {
		t := *r.FirstDeviationAt
		c.FirstDeviationAt = &t
	}
	if r.LastAlertLevel != nil {
		l := *r.LastAlertLevel
		c.LastAlertLevel = &l
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
