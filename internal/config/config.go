package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Process modes
const (
	ModeServer   = "server"
	ModeWorker   = "worker"
	ModeEmbedded = "embedded"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	Env     string
	Port    string
	Mode    string
	BaseURL string

	DatabaseURL string
	RedisURL    string

	SessionSecret  string
	JWTSecret      string
	JWTIssuer      string
	AccessTokenTTL time.Duration
	EncryptionKey  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	AdminEmail     string
	AdminPassword  string
	DefaultModules []string

	LoginMaxAttempts int
	LoginWindow      time.Duration
	PasswordResetTTL time.Duration

	RoutingBaseURL   string
	RoutingAPIKey    string
	GeocodingBaseURL string
	GeoStubMode      bool

	SendgridAPIKey string
	MailFrom       string

	S3Bucket    string
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	PurgeSchedule string
	LogLevel      string
	LogFormat     string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARNING: failed to load .env: %v", err)
	}

	cfg := &Config{
		Env:     getEnvWithDefault("ENV", "development"),
		Port:    getEnvWithDefault("PORT", "8080"),
		Mode:    getEnvWithDefault("APP_MODE", ModeEmbedded),
		BaseURL: getEnvWithDefault("FRONTEND_BASE_URL", "http://localhost:8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		SessionSecret:  os.Getenv("SESSION_SECRET"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      getEnvWithDefault("JWT_ISSUER", "nexus"),
		AccessTokenTTL: getEnvDuration("ACCESS_TOKEN_TTL", 24*time.Hour),
		EncryptionKey:  os.Getenv("ENCRYPTION_KEY"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  os.Getenv("GOOGLE_CALLBACK_URL"),

		AdminEmail:     os.Getenv("ADMIN_EMAIL"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		DefaultModules: getEnvList("DEFAULT_MODULES"),

		LoginMaxAttempts: getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:      getEnvDuration("LOGIN_WINDOW", 15*time.Minute),
		PasswordResetTTL: getEnvDuration("PASSWORD_RESET_TTL", 72*time.Hour),

		RoutingBaseURL:   getEnvWithDefault("ROUTING_BASE_URL", "https://api.openrouteservice.org"),
		RoutingAPIKey:    os.Getenv("ROUTING_API_KEY"),
		GeocodingBaseURL: getEnvWithDefault("GEOCODING_BASE_URL", "https://nominatim.openstreetmap.org"),
		GeoStubMode:      getEnvBool("GEO_STUB_MODE", false),

		SendgridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFrom:       getEnvWithDefault("MAIL_FROM", "noreply@localhost"),

		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnvWithDefault("S3_REGION", "us-east-1"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),

		PurgeSchedule: getEnvWithDefault("PURGE_SCHEDULE", "@hourly"),
		LogLevel:      getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvWithDefault("LOG_FORMAT", "text"),
	}

	// Warn if using default secrets (insecure for production)
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret-change-in-production-use-openssl-rand-hex-32"
		log.Println("WARNING: Using default SESSION_SECRET. Generate a secure secret with: openssl rand -hex 32")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = cfg.SessionSecret
		log.Println("WARNING: JWT_SECRET not set, falling back to SESSION_SECRET")
	}
	if cfg.RoutingAPIKey == "" && !cfg.GeoStubMode {
		log.Println("WARNING: ROUTING_API_KEY not set. Car route computation will fail until it is configured.")
	}

	return cfg
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RunsHTTP reports whether the process should serve the HTTP API.
func (c *Config) RunsHTTP() bool {
	return c.Mode != ModeWorker
}

// RunsWorker reports whether the process should run background tasks.
func (c *Config) RunsWorker() bool {
	return c.Mode != ModeServer
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Printf("WARNING: invalid duration for %s=%q, using %s", key, value, defaultValue)
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Printf("WARNING: invalid integer for %s=%q, using %d", key, value, defaultValue)
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

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
