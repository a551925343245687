package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// Notifier delivers one alert at a time. Retries and channel selection are
// the notifier's own concern, not the emitter's.
type Notifier interface {
	Publish(ctx context.Context, alert *models.Alert) error
}

// Emitter hands alerts to the notifier exactly once per alert id. The caller
// must only invoke Emit after the escalation record was durably persisted;
// the id-keyed dedup marker makes retried runs safe (at-most-once emission).
type Emitter struct {
	client      *redis.Client
	notifier    Notifier
	dedupPrefix string
	dedupTTL    time.Duration
	logger      *zap.Logger
}

func NewEmitter(client *redis.Client, notifier Notifier, dedupPrefix string, dedupTTL time.Duration, logger *zap.Logger) *Emitter {
	return &Emitter{
		client:      client,
		notifier:    notifier,
		dedupPrefix: dedupPrefix,
		dedupTTL:    dedupTTL,
		logger:      logger,
	}
}

// Emit publishes the alert unless an identical id was already sent within the
// dedup window. Returns whether a publish actually happened.
func (e *Emitter) Emit(ctx context.Context, a *models.Alert) (bool, error) {
	key := e.dedupPrefix + a.AlertID

	ok, err := e.client.SetNX(ctx, key, "1", e.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve alert id: %w", err)
	}
	if !ok {
		e.logger.Info("Alert already emitted, skipping",
			zap.String("alert_id", a.AlertID),
		)
		return false, nil
	}

	if err := e.notifier.Publish(ctx, a); err != nil {
		// The marker stays: at-most-once is the documented trade-off.
		return false, fmt.Errorf("failed to publish alert %s: %w", a.AlertID, err)
	}

	e.logger.Info("Alert emitted",
		zap.String("alert_id", a.AlertID),
		zap.String("facility", a.Facility),
		zap.String("group", a.Group),
		zap.String("level", string(a.Level)),
		zap.Int("vehicle_count", a.VehicleCount),
	)
	return true, nil
}
