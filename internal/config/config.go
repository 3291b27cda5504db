// Package config reads the server configuration from the environment.
//
// A .env file in the working directory is loaded first when present;
// variables already set in the environment win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session backends.
const (
	SessionSQLite = "sqlite"
	SessionRedis  = "redis"
	SessionMemory = "memory"
)

// Config holds application configuration.
type Config struct {
	Port    int
	DBPath  string
	BaseURL string

	JWTSecret      string
	IDTokenTTL     time.Duration
	DeviceTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	ResetURL       string

	SessionBackend string
	RedisURL       string
	RedisPrefix    string
	ScopeIdleTTL   time.Duration

	CloudinaryCloud  string
	CloudinaryKey    string
	CloudinarySecret string
	MediaDir         string

	GoogleClientID     string
	GoogleClientSecret string
	AppleClientID      string
	AppleClientSecret  string

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	CORSOrigins  []string
	SecureCookie bool
	LogLevel     slog.Level
}

// Load loads configuration from .env and environment variables.
func Load() (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	port := getEnvInt("PORT", 8080)
	cfg := &Config{
		Port:    port,
		DBPath:  getEnv("DB_PATH", "data/tink.db"),
		BaseURL: strings.TrimRight(getEnv("PUBLIC_URL", fmt.Sprintf("http://localhost:%d", port)), "/"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		IDTokenTTL:     getEnvDuration("ID_TOKEN_TTL", 7*24*time.Hour),
		DeviceTokenTTL: getEnvDuration("DEVICE_TOKEN_TTL", 365*24*time.Hour),
		ResetTokenTTL:  getEnvDuration("RESET_TOKEN_TTL", time.Hour),

		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", SessionSQLite)),
		RedisURL:       getEnv("REDIS_URL", ""),
		ScopeIdleTTL:   getEnvDuration("SCOPE_IDLE_TTL", 30*time.Minute),
		RedisPrefix:    getEnv("REDIS_PREFIX", "tink:"),

		CloudinaryCloud:  getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinarySecret: getEnv("CLOUDINARY_API_SECRET", ""),
		MediaDir:         getEnv("MEDIA_DIR", "data/media"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		AppleClientID:      getEnv("APPLE_CLIENT_ID", ""),
		AppleClientSecret:  getEnv("APPLE_CLIENT_SECRET", ""),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "Tink <no-reply@tink.app>"),

		CORSOrigins:  getEnvList("CORS_ORIGINS", []string{"http://localhost:3000"}),
		SecureCookie: getEnvBool("SECURE_COOKIE", false),
	}
	cfg.ResetURL = getEnv("RESET_URL", cfg.BaseURL+"/reset-password")

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}

	switch c.SessionBackend {
	case SessionSQLite, SessionMemory:
	case SessionRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when SESSION_BACKEND=redis")
		}
	default:
		return fmt.Errorf("SESSION_BACKEND %q is not one of sqlite, redis, memory", c.SessionBackend)
	}

	set := 0
	for _, v := range []string{c.CloudinaryCloud, c.CloudinaryKey, c.CloudinarySecret} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("CLOUDINARY_CLOUD_NAME, CLOUDINARY_API_KEY and CLOUDINARY_API_SECRET must be set together")
	}
	return nil
}

// UseCloudinary reports whether images go to Cloudinary instead of MediaDir.
func (c *Config) UseCloudinary() bool {
	return c.CloudinaryCloud != ""
}

// GoogleEnabled reports whether Google sign-in is configured.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// AppleEnabled reports whether Apple sign-in is configured.
func (c *Config) AppleEnabled() bool {
	return c.AppleClientID != "" && c.AppleClientSecret != ""
}

// CallbackURL is the OAuth redirect target registered with provider.
func (c *Config) CallbackURL(provider string) string {
	return c.BaseURL + "/api/auth/" + provider + "/callback"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// DatabasePath returns DB_PATH, loading .env first, without validating the
// rest of the configuration. Admin tools that only touch the database use it.
func DatabasePath() string {
	_ = godotenv.Load()
	return getEnv("DB_PATH", "data/tink.db")
}
