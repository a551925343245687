package service

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"sentinela-poi/internal/aggregator"
	"sentinela-poi/internal/alert"
	"sentinela-poi/internal/config"
	"sentinela-poi/internal/detector"
	"sentinela-poi/internal/escalation"
	"sentinela-poi/internal/events"
	"sentinela-poi/internal/notifier"
	"sentinela-poi/internal/poi"
	"sentinela-poi/internal/repository"
	"sentinela-poi/internal/storage"
)

// Service owns the wired component graph and the external connections.
type Service struct {
	Runner *Runner

	db       *sql.DB
	redis    *redis.Client
	notifier *notifier.MQTTNotifier
	logger   *zap.Logger
}

// New connects to PostgreSQL and the MQTT broker, builds the Redis client,
// and wires the full pipeline. Both connections are hard startup
// dependencies; Redis availability is checked per run instead.
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	db, err := storage.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := storage.NewRedisClient(&cfg.Redis)

	mqttNotifier, err := notifier.NewMQTTNotifier(notifier.Config{
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         cfg.MQTT.QoS,
		Retained:    cfg.MQTT.Retained,
	}, logger)
	if err != nil {
		db.Close()
		redisClient.Close()
		return nil, err
	}

	catalog := poi.NewCatalog()
	if err := applySLAOverrides(catalog, cfg.SLAOverrides); err != nil {
		db.Close()
		redisClient.Close()
		mqttNotifier.Close()
		return nil, err
	}

	state := escalation.NewStore(redisClient, cfg.Alerting.StateKeyPrefix, cfg.Alerting.ResolvedTTL, logger)
	machine := escalation.NewMachine(state, cfg.Alerting.ConflictRetries, logger)
	emitter := alert.NewEmitter(redisClient, mqttNotifier, cfg.Alerting.DedupKeyPrefix, cfg.Alerting.DedupTTL, logger)

	eventsClient := events.NewClient(events.Config{
		BaseURL:           cfg.Events.BaseURL,
		TokenURL:          cfg.Events.TokenURL,
		ClientID:          cfg.Events.ClientID,
		ClientSecret:      cfg.Events.ClientSecret,
		PageSize:          cfg.Events.PageSize,
		MinActiveVehicles: cfg.Events.MinActiveVehicles,
		Timeout:           cfg.Events.Timeout,
	}, logger)

	runner := NewRunner(
		eventsClient,
		aggregator.New(catalog, logger),
		detector.New(logger),
		state,
		machine,
		repository.NewSnapshotRepository(db, logger),
		repository.NewAlertRepository(db, logger),
		repository.NewRunRepository(db, logger),
		emitter,
		cfg.Run.Interval,
		cfg.Run.Timeout,
		logger,
	)

	return &Service{
		Runner:   runner,
		db:       db,
		redis:    redisClient,
		notifier: mqttNotifier,
		logger:   logger,
	}, nil
}

// applySLAOverrides pushes "FACILITY:Group" limit overrides into the catalog.
func applySLAOverrides(catalog *poi.Catalog, overrides map[string]int) error {
	for key, limit := range overrides {
		facility, group, found := strings.Cut(key, ":")
		if !found || facility == "" || group == "" {
			return fmt.Errorf("invalid SLA override key %q", key)
		}
		catalog.SetLimit(facility, group, limit)
	}
	return nil
}

// Close releases all external connections.
func (s *Service) Close() {
	s.notifier.Close()
	if err := s.redis.Close(); err != nil {
		s.logger.Warn("Failed to close Redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}
}
