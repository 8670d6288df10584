package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName  string
	LogLevel     string
	API          APIConfig
	Session      SessionConfig
	Store        StoreConfig
	Connectivity ConnectivityConfig
	Breaker      BreakerConfig
	Validation   ValidationConfig
	Anomaly      AnomalyConfig
	LocalAPI     LocalAPIConfig
	LiveFeed     LiveFeedConfig
	Relay        RelayConfig
	Database     DatabaseConfig
	RabbitMQ     RabbitMQConfig
}

// APIConfig holds the billing REST API settings
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig holds the operator credentials the agent starts with
type SessionConfig struct {
	Operator string
	Company  int
	Token    string
}

// StoreConfig holds the device-local database settings
type StoreConfig struct {
	Path string
}

// ConnectivityConfig holds reachability probe settings
type ConnectivityConfig struct {
	ProbePath     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// BreakerConfig holds circuit breaker settings for the remote gateway
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	FutureDateToleranceMinutes int
}

// AnomalyConfig holds consumption spike detection settings
type AnomalyConfig struct {
	SpikeThreshold float64
	MinDataPoints  int
}

// LocalAPIConfig holds the loopback API settings
type LocalAPIConfig struct {
	ListenAddr string
}

// LiveFeedConfig holds the relay websocket subscription settings
type LiveFeedConfig struct {
	URL            string
	ReconnectDelay time.Duration
}

// RelayConfig holds the live-update relay settings
type RelayConfig struct {
	ListenAddr     string
	Channels       []string
	ReconnectGap   time.Duration
	AllowedOrigins []string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and exchange settings
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// LoadAgent loads the field agent configuration
func LoadAgent() (*Config, error) {
	cfg := load("aqueduct-agent")

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required but not set in environment variables")
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("STORE_PATH must not be empty")
	}
	if cfg.Connectivity.ProbeInterval <= 0 {
		return nil, fmt.Errorf("CONNECTIVITY_PROBE_INTERVAL must be positive, got %s", cfg.Connectivity.ProbeInterval)
	}
	if cfg.Connectivity.ProbeTimeout <= 0 {
		return nil, fmt.Errorf("CONNECTIVITY_PROBE_TIMEOUT must be positive, got %s", cfg.Connectivity.ProbeTimeout)
	}
	if cfg.LiveFeed.ReconnectDelay <= 0 {
		return nil, fmt.Errorf("LIVE_FEED_RECONNECT_DELAY must be positive, got %s", cfg.LiveFeed.ReconnectDelay)
	}

	return cfg, nil
}

// LoadRelay loads the live-update relay configuration
func LoadRelay() (*Config, error) {
	cfg := load("aqueduct-relay")

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if cfg.Relay.ReconnectGap <= 0 {
		return nil, fmt.Errorf("RELAY_RECONNECT_GAP must be positive, got %s", cfg.Relay.ReconnectGap)
	}

	return cfg, nil
}

func load(defaultName string) *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", defaultName),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_BASE_URL", ""), "/"),
			Timeout: getEnvAsDuration("API_TIMEOUT", 15*time.Second),
		},
		Session: SessionConfig{
			Operator: getEnv("OPERATOR_NAME", ""),
			Company:  getEnvAsInt("COMPANY_ID", 0),
			Token:    getEnv("API_TOKEN", ""),
		},
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", "acueductos.db"),
		},
		Connectivity: ConnectivityConfig{
			ProbePath:     getEnv("CONNECTIVITY_PROBE_PATH", "/"),
			ProbeInterval: getEnvAsDuration("CONNECTIVITY_PROBE_INTERVAL", 10*time.Second),
			ProbeTimeout:  getEnvAsDuration("CONNECTIVITY_PROBE_TIMEOUT", 3*time.Second),
		},
		Breaker: BreakerConfig{
			MaxRequests:         uint32(getEnvAsInt("BREAKER_MAX_REQUESTS", 1)),
			Interval:            getEnvAsDuration("BREAKER_INTERVAL", time.Minute),
			Timeout:             getEnvAsDuration("BREAKER_TIMEOUT", 30*time.Second),
			ConsecutiveFailures: uint32(getEnvAsInt("BREAKER_CONSECUTIVE_FAILURES", 5)),
		},
		Validation: ValidationConfig{
			FutureDateToleranceMinutes: getEnvAsInt("VALIDATION_FUTURE_DATE_TOLERANCE_MINUTES", 1440),
		},
		Anomaly: AnomalyConfig{
			SpikeThreshold: getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", 3.0),
			MinDataPoints:  getEnvAsInt("ANOMALY_MIN_DATA_POINTS", 3),
		},
		LocalAPI: LocalAPIConfig{
			ListenAddr: getEnv("LOCAL_API_ADDR", "127.0.0.1:8787"),
		},
		LiveFeed: LiveFeedConfig{
			URL:            getEnv("LIVE_FEED_URL", ""),
			ReconnectDelay: getEnvAsDuration("LIVE_FEED_RECONNECT_DELAY", 5*time.Second),
		},
		Relay: RelayConfig{
			ListenAddr:     getEnv("RELAY_LISTEN_ADDR", ":8090"),
			Channels:       getEnvAsList("RELAY_CHANNELS", []string{"consumo_channel"}),
			ReconnectGap:   getEnvAsDuration("RELAY_RECONNECT_GAP", 5*time.Second),
			AllowedOrigins: getEnvAsList("RELAY_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "aqueduct.consumo.events.exchange"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
