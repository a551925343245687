package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// ErrVersionConflict is returned by Put when the stored record's version no
// longer matches the caller's expectation (a concurrent writer won).
var ErrVersionConflict = errors.New("escalation record version conflict")

// Store keeps EscalationRecords in Redis, keyed by {facility}_{group_key}.
// Writes are conditional on the record version (optimistic concurrency), so
// at most one writer per key per hour can win.
type Store struct {
	client      *redis.Client
	keyPrefix   string
	resolvedTTL time.Duration
	logger      *zap.Logger
}

func NewStore(client *redis.Client, keyPrefix string, resolvedTTL time.Duration, logger *zap.Logger) *Store {
	return &Store{
		client:      client,
		keyPrefix:   keyPrefix,
		resolvedTTL: resolvedTTL,
		logger:      logger,
	}
}

// Key builds the state key for a (facility, group) pair.
func (s *Store) Key(facility, groupKey string) string {
	return fmt.Sprintf("%s%s_%s", s.keyPrefix, facility, groupKey)
}

// Ping verifies the store is reachable. Escalation decisions without durable
// state are unsafe, so an unreachable store fails the whole run.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("state store unreachable: %w", err)
	}
	return nil
}

// Get loads the record for a key. A missing record is not an error; it
// returns (nil, nil).
func (s *Store) Get(ctx context.Context, facility, groupKey string) (*models.EscalationRecord, error) {
	val, err := s.client.Get(ctx, s.Key(facility, groupKey)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation record: %w", err)
	}

	var rec models.EscalationRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal escalation record: %w", err)
	}
	return &rec, nil
}

// Put writes the record iff the stored version still equals expectedVersion
// (0 for a record that must not exist yet). On success the record's version
// is bumped to expectedVersion+1. Resolved records get the retention TTL so
// Redis expires them after the archival window.
func (s *Store) Put(ctx context.Context, rec *models.EscalationRecord, expectedVersion int64) error {
	key := s.Key(rec.Facility, rec.GroupKey)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			if expectedVersion != 0 {
				return ErrVersionConflict
			}
		case err != nil:
			return fmt.Errorf("failed to read current record: %w", err)
		default:
			var current models.EscalationRecord
			if err := json.Unmarshal([]byte(val), &current); err != nil {
				return fmt.Errorf("failed to unmarshal current record: %w", err)
			}
			if current.Version != expectedVersion {
				return ErrVersionConflict
			}
		}

		rec.Version = expectedVersion + 1
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal escalation record: %w", err)
		}

		var ttl time.Duration
		if rec.Status == models.StatusResolved {
			ttl = s.resolvedTTL
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	return err
}

// Scan returns every stored record under the key prefix, for reporting and
// cleanup.
func (s *Store) Scan(ctx context.Context) ([]models.EscalationRecord, error) {
	var records []models.EscalationRecord
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation records: %w", err)
		}

		for _, key := range keys {
			val, err := s.client.Get(ctx, key).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get escalation record %s: %w", key, err)
			}

			var rec models.EscalationRecord
			if err := json.Unmarshal([]byte(val), &rec); err != nil {
				s.logger.Warn("Skipping undecodable escalation record",
					zap.String("key", key),
					zap.Error(err),
				)
				continue
			}
			records = append(records, rec)
		}

		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

// Delete removes a record outright (operator cleanup path).
func (s *Store) Delete(ctx context.Context, facility, groupKey string) error {
	if err := s.client.Del(ctx, s.Key(facility, groupKey)).Err(); err != nil {
		return fmt.Errorf("failed to delete escalation record: %w", err)
	}
	return nil
}
