package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	GinMode string

	// Redis stream store
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Server
	ServerShutdownTimeoutSeconds int

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string

	// Replay tuning and the session catalog, loaded from the config file.
	Replay ReplayConfig `yaml:"replay"`
}

// ReplayConfig holds playback tuning knobs and the static session list.
type ReplayConfig struct {
	Batch                 BatchConfig     `yaml:"batch"`
	Buffer                BufferConfig    `yaml:"buffer"`
	StateRetentionMinutes int             `yaml:"stateRetentionMinutes"`
	Sessions              []SessionConfig `yaml:"sessions"`
}

type BatchConfig struct {
	IntervalMs int `yaml:"intervalMs"`
}

type BufferConfig struct {
	DurationSeconds int `yaml:"durationSeconds"`
}

// SessionConfig is one replayable session as declared in the config file.
// Timestamps are ISO-8601 UTC strings; they are validated at load time.
type SessionConfig struct {
	Key       string `yaml:"key"`
	Name      string `yaml:"name"`
	DateStart string `yaml:"dateStart"`
	DateEnd   string `yaml:"dateEnd"`
}

var AppConfig *Config

func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	AppConfig = &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		// Redis
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Server
		ServerShutdownTimeoutSeconds: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30),

		// CORS
		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		// Logging
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	configFilePath := getEnvOrDefault("CONFIG_FILE", "config.yaml")
	log.Printf("Loading config file: %v", configFilePath)

	configFile, err := os.Open(configFilePath)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}
	defer configFile.Close()

	if err := LoadConfigFile(configFile, AppConfig); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	if err := AppConfig.Replay.Validate(); err != nil {
		log.Fatalf("Invalid replay configuration: %v", err)
	}

	log.Printf("Loaded %d sessions from configuration", len(AppConfig.Replay.Sessions))
}

// LoadConfigFile decodes the YAML config file into config and applies defaults.
func LoadConfigFile(reader io.Reader, config *Config) error {
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(config); err != nil {
		return err
	}

	config.Replay.applyDefaults()
	return nil
}

func (r *ReplayConfig) applyDefaults() {
	if r.Batch.IntervalMs <= 0 {
		r.Batch.IntervalMs = 100
	}
	if r.Buffer.DurationSeconds <= 0 {
		r.Buffer.DurationSeconds = 30
	}
	if r.StateRetentionMinutes <= 0 {
		r.StateRetentionMinutes = 5
	}
}

// Validate checks that every configured session has a key and a parseable,
// ordered time range. Invalid configuration aborts startup.
func (r *ReplayConfig) Validate() error {
	for _, s := range r.Sessions {
		if s.Key == "" {
			return fmt.Errorf("session with empty key")
		}
		start, err := time.Parse(time.RFC3339, s.DateStart)
		if err != nil {
			return fmt.Errorf("session %s: invalid dateStart %q: %w", s.Key, s.DateStart, err)
		}
		end, err := time.Parse(time.RFC3339, s.DateEnd)
		if err != nil {
			return fmt.Errorf("session %s: invalid dateEnd %q: %w", s.Key, s.DateEnd, err)
		}
		if !start.Before(end) {
			return fmt.Errorf("session %s: dateStart %s is not before dateEnd %s", s.Key, s.DateStart, s.DateEnd)
		}
	}
	return nil
}

// BatchInterval returns the tick period as a duration.
func (r *ReplayConfig) BatchInterval() time.Duration {
	return time.Duration(r.Batch.IntervalMs) * time.Millisecond
}

// BufferDuration returns the pre-fetch window as a duration.
func (r *ReplayConfig) BufferDuration() time.Duration {
	return time.Duration(r.Buffer.DurationSeconds) * time.Second
}

// StateRetention returns how long disconnected playback state is kept.
func (r *ReplayConfig) StateRetention() time.Duration {
	return time.Duration(r.StateRetentionMinutes) * time.Minute
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}
