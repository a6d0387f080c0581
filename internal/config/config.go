package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/SLRio/Railway3/internal/series"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               string
	LogLevel           string
	MQTT               MQTTConfig
	IngestRetained     bool
	UnknownTopicPolicy string
	Series             []series.Series
	RecordLayout       string
	FilterStrict       bool
	DBDriver           string
	Postgres           DBConfig
	SQLitePath         string
	Redis              RedisConfig
	RetentionMaxAge    time.Duration
	RetentionSchedule  string
	JWTPublicKeyPath   string
	StaticDir          string
	CORSAllowedOrigins []string
	OTLPEndpoint       string
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	ExtraTopics []string
}

type DBConfig struct {
	User     string
	Password string
	DBName   string
	Host     string
	Port     string
	SSLMode  string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	LatestTTL time.Duration
}

// Load reads the service configuration from the environment. The series map
// comes from SERIES_FILE when set, otherwise from SERIES.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     getEnv("PORT", "3000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		MQTT: MQTTConfig{
			BrokerURL:   getEnv("MQTT_BROKER_URL", "mqtt://broker.hivemq.com:1883"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "telemetry-service"),
			Username:    strings.TrimSpace(os.Getenv("MQTT_USERNAME")),
			Password:    os.Getenv("MQTT_PASSWORD"),
			ExtraTopics: splitList(os.Getenv("MQTT_EXTRA_TOPICS")),
		},
		IngestRetained:     parseBool(getEnv("INGEST_RETAINED", "false")),
		UnknownTopicPolicy: strings.ToLower(getEnv("UNKNOWN_TOPIC_POLICY", "drop")),
		RecordLayout:       strings.ToLower(getEnv("RECORD_LAYOUT", "tagged")),
		FilterStrict:       parseBool(getEnv("FILTER_STRICT", "false")),
		DBDriver:           strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		Postgres: DBConfig{
			User:     strings.TrimSpace(os.Getenv("POSTGRES_USER")),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   strings.TrimSpace(os.Getenv("POSTGRES_DB")),
			Host:     strings.TrimSpace(os.Getenv("POSTGRES_HOST")),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		SQLitePath: getEnv("SQLITE_PATH", "telemetry.db"),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
		RetentionSchedule:  getEnv("RETENTION_SCHEDULE", "@hourly"),
		JWTPublicKeyPath:   strings.TrimSpace(os.Getenv("JWT_PUBLIC_KEY_PATH")),
		StaticDir:          strings.TrimSpace(os.Getenv("STATIC_DIR")),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:       strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
	}

	var err error
	if cfg.Redis.LatestTTL, err = parseDuration("LATEST_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.RetentionMaxAge, err = parseDuration("RETENTION_MAX_AGE", "0"); err != nil {
		return nil, err
	}

	if path := strings.TrimSpace(os.Getenv("SERIES_FILE")); path != "" {
		cfg.Series, err = LoadSeriesFile(path)
		if err != nil {
			return nil, err
		}
	} else if raw := strings.TrimSpace(os.Getenv("SERIES")); raw != "" {
		cfg.Series, err = series.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse SERIES: %w", err)
		}
	} else {
		cfg.Series = series.Default()
	}

	slog.Info("telemetry-service config loaded",
		"port", cfg.Port,
		"mqtt", cfg.MQTT.BrokerURL,
		"db_driver", cfg.DBDriver,
		"layout", cfg.RecordLayout,
		"series", len(cfg.Series),
		"unknown_topic_policy", cfg.UnknownTopicPolicy,
	)
	return cfg, nil
}

type seriesFile struct {
	Series []series.Series `yaml:"series"`
}

// LoadSeriesFile reads a YAML document of the form
//
//	series:
//	  - topic: Garbage
//	    name: rainfall
//	    code: G
func LoadSeriesFile(path string) ([]series.Series, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read series file: %w", err)
	}
	var doc seriesFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse series file %s: %w", path, err)
	}
	if len(doc.Series) == 0 {
		return nil, fmt.Errorf("series file %s defines no series", path)
	}
	return doc.Series, nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func parseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func parseDuration(key, def string) (time.Duration, error) {
	raw := strings.TrimSpace(getEnv(key, def))
	if raw == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
