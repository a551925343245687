package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"sentinela-poi/internal/models"
)

// Config holds the broker connection parameters for the alert channel.
type Config struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool
}

// MQTTNotifier publishes alerts to a per-facility topic:
// {prefix}/{facility}, e.g. sentinela/alerts/RRP.
type MQTTNotifier struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

// NewMQTTNotifier connects to the broker. The connection is verified before
// the notifier is returned; a broker that is down fails service startup.
func NewMQTTNotifier(cfg Config, logger *zap.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("Connected to MQTT broker",
		zap.String("broker", cfg.Broker),
		zap.String("client_id", cfg.ClientID),
	)

	return &MQTTNotifier{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Publish sends one alert as a JSON payload on the facility's topic.
func (n *MQTTNotifier) Publish(ctx context.Context, alert *models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert %s: %w", alert.AlertID, err)
	}

	topic := fmt.Sprintf("%s/%s", n.config.TopicPrefix, alert.Facility)

	token := n.client.Publish(topic, n.config.QoS, n.config.Retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n.logger.Debug("Published alert",
		zap.String("topic", topic),
		zap.String("alert_id", alert.AlertID),
	)
	return nil
}

// IsConnected reports the current broker connection state.
func (n *MQTTNotifier) IsConnected() bool {
	return n.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight work to drain.
func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}
