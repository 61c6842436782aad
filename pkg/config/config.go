package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	JWT    JWTConfig
	Call   CallConfig
	ICE    ICEConfig
	Push   PushConfig
	Log    LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port        int
	Environment string // development, staging, production
	ServiceName string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// CallConfig holds call signaling configuration
type CallConfig struct {
	// MaxParticipants bounds initiator + invitees per call
	MaxParticipants int
	// RingTimeout is how long a call rings before it is marked missed
	RingTimeout time.Duration
}

// PushConfig holds push notification configuration
type PushConfig struct {
	Provider           string // fcm, apns, noop
	FCMCredentialsFile string
	APNSKeyFile        string
	APNSKeyID          string
	APNSTeamID         string
	APNSTopic          string
	APNSProduction     bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("PORT", 8080),
			Environment: getEnv("ENV", "development"),
			ServiceName: getEnv("SERVICE_NAME", "voxlink-signaling"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
			Timeout:  time.Duration(getEnvAsInt("REDIS_TIMEOUT", 5)) * time.Second,
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_EXPIRY", 15)) * time.Minute,
		},
		Call: CallConfig{
			MaxParticipants: getEnvAsInt("CALL_MAX_PARTICIPANTS", 8),
			RingTimeout:     time.Duration(getEnvAsInt("CALL_RING_TIMEOUT", 30)) * time.Second,
		},
		Push: PushConfig{
			Provider:           getEnv("PUSH_PROVIDER", "noop"),
			FCMCredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
			APNSKeyFile:        getEnv("APNS_KEY_FILE", ""),
			APNSKeyID:          getEnv("APNS_KEY_ID", ""),
			APNSTeamID:         getEnv("APNS_TEAM_ID", ""),
			APNSTopic:          getEnv("APNS_TOPIC", ""),
			APNSProduction:     getEnvAsBool("APNS_PRODUCTION", false),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "json"),
			Output:   getEnv("LOG_OUTPUT", "stdout"),
			FilePath: getEnv("LOG_FILE_PATH", "/logs/app.log"),
		},
	}

	ice, err := LoadICE()
	if err != nil {
		return nil, err
	}
	cfg.ICE = ice

	// Validate critical configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate JWT secret in production
	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	}

	if c.Call.MaxParticipants < 2 {
		return fmt.Errorf("CALL_MAX_PARTICIPANTS must allow at least a caller and one invitee")
	}
	if c.Call.RingTimeout <= 0 {
		return fmt.Errorf("CALL_RING_TIMEOUT must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
