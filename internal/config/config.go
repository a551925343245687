package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds the state store connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig holds the external fleet API settings.
type EventsConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	PageSize          int
	MinActiveVehicles int
	Timeout           time.Duration
}

// MQTTConfig holds the alert channel broker settings.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retained    bool
}

// Config is the full service configuration, loaded from environment
// variables with development defaults.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Events   EventsConfig
	MQTT     MQTTConfig

	Alerting struct {
		StateKeyPrefix  string
		DedupKeyPrefix  string
		DedupTTL        time.Duration
		ResolvedTTL     time.Duration
		ConflictRetries int
	}

	Run struct {
		Interval time.Duration
		Timeout  time.Duration
		// RunOnce makes the process execute a single verification and exit,
		// for external schedulers (cron, Cloud Scheduler).
		RunOnce bool
	}

	// SLAOverrides maps "FACILITY:Group" to a limit that replaces the
	// built-in value, e.g. "RRP:Fábrica=8,TLS:Terminal=6".
	SLAOverrides map[string]int

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "sentinela")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Events.BaseURL = getEnv("EVENTS_BASE_URL",
		"https://api.crearecloud.com.br/frotalog/specialized-services/v3/pontos-notaveis/by-updated")
	cfg.Events.TokenURL = getEnv("EVENTS_TOKEN_URL",
		"https://openid-provider.crearecloud.com.br/auth/v1/token?lang=pt-BR")
	cfg.Events.ClientID = getEnv("EVENTS_CLIENT_ID", "")
	cfg.Events.ClientSecret = getEnv("EVENTS_CLIENT_SECRET", "")
	cfg.Events.PageSize = getEnvInt("EVENTS_PAGE_SIZE", 1000)
	cfg.Events.MinActiveVehicles = getEnvInt("EVENTS_MIN_ACTIVE_VEHICLES", 10)
	cfg.Events.Timeout = getEnvDuration("EVENTS_TIMEOUT", 60*time.Second)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "sentinela-poi")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "sentinela/alerts")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Alerting.StateKeyPrefix = getEnv("STATE_KEY_PREFIX", "sentinela:escalation:")
	cfg.Alerting.DedupKeyPrefix = getEnv("ALERT_DEDUP_PREFIX", "sentinela:alert:sent:")
	cfg.Alerting.DedupTTL = getEnvDuration("ALERT_DEDUP_TTL", 24*time.Hour)
	cfg.Alerting.ResolvedTTL = getEnvDuration("RESOLVED_STATE_TTL", 7*24*time.Hour)
	cfg.Alerting.ConflictRetries = getEnvInt("STATE_CONFLICT_RETRIES", 3)

	cfg.Run.Interval = getEnvDuration("RUN_INTERVAL", time.Hour)
	cfg.Run.Timeout = getEnvDuration("RUN_TIMEOUT", 10*time.Minute)
	cfg.Run.RunOnce = getEnvBool("RUN_ONCE", false)

	overrides, err := parseSLAOverrides(os.Getenv("SLA_LIMITS"))
	if err != nil {
		return nil, fmt.Errorf("invalid SLA_LIMITS: %w", err)
	}
	cfg.SLAOverrides = overrides

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// parseSLAOverrides parses "RRP:Fábrica=8,TLS:Terminal=6" into a map keyed
// by "FACILITY:Group". Empty input yields an empty map.
func parseSLAOverrides(raw string) (map[string]int, error) {
	overrides := make(map[string]int)
	if strings.TrimSpace(raw) == "" {
		return overrides, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("entry %q is not in FACILITY:Group=limit form", pair)
		}
		key = strings.TrimSpace(key)
		if !strings.Contains(key, ":") {
			return nil, fmt.Errorf("entry %q is missing the facility prefix", pair)
		}

		limit, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || limit < 0 {
			return nil, fmt.Errorf("entry %q has an invalid limit", pair)
		}
		overrides[key] = limit
	}

	return overrides, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
