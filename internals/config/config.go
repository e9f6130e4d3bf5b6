package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Signal  SignalConfig  `yaml:"signal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type SessionConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	MaxSessionIDLen int           `yaml:"max_session_id_length"`
}

type SignalConfig struct {
	WSReadLimit     int64         `yaml:"ws_read_limit"`
	WSWriteTimeout  time.Duration `yaml:"ws_write_timeout"`
	WSPongTimeout   time.Duration `yaml:"ws_pong_timeout"`
	WSPingInterval  time.Duration `yaml:"ws_ping_interval"`
	HubPingInterval time.Duration `yaml:"hub_ping_interval"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("RELAY_HOST", "0.0.0.0"),
			Port:            getEnvInt("RELAY_PORT", 8080),
			ReadTimeout:     time.Duration(getEnvInt("RELAY_READ_TIMEOUT", 30)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("RELAY_WRITE_TIMEOUT", 30)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("RELAY_SHUTDOWN_TIMEOUT", 10)) * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Session: SessionConfig{
			MaxAge:          time.Duration(getEnvInt("RELAY_SESSION_MAX_AGE_MIN", 120)) * time.Minute,
			SweepInterval:   time.Duration(getEnvInt("RELAY_SWEEP_INTERVAL_SEC", 300)) * time.Second,
			MaxSessionIDLen: getEnvInt("RELAY_MAX_SESSION_ID_LENGTH", 64),
		},
		Signal: SignalConfig{
			WSReadLimit:     int64(getEnvInt("RELAY_WS_READ_LIMIT", 524288)),
			WSWriteTimeout:  time.Duration(getEnvInt("RELAY_WS_WRITE_TIMEOUT", 10)) * time.Second,
			WSPongTimeout:   time.Duration(getEnvInt("RELAY_WS_PONG_TIMEOUT", 60)) * time.Second,
			WSPingInterval:  time.Duration(getEnvInt("RELAY_WS_PING_INTERVAL", 54)) * time.Second,
			HubPingInterval: time.Duration(getEnvInt("RELAY_HUB_PING_INTERVAL", 30)) * time.Second,
			RateLimitPerSec: float64(getEnvInt("RELAY_RATE_LIMIT_PER_SEC", 20)),
			RateLimitBurst:  getEnvInt("RELAY_RATE_LIMIT_BURST", 40),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
