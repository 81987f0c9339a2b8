package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backends selectable at startup.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port            int
	LogLevel        string
	ShutdownTimeout time.Duration

	// Storage backends
	StoreBackend   string // memory | postgres
	SessionBackend string // memory | postgres | redis
	DatabaseURL    string
	RedisURL       string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Groq (classifier + Whisper)
	GroqAPIKey       string
	GroqBaseURL      string
	GroqModel        string
	GroqWhisperModel string
	GroqTemperature  float64
	GroqMaxTokens    int

	// Twilio (WhatsApp)
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string
	WebhookPublicURL   string
	ValidateSignatures bool

	// Supabase Storage (PDFs)
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string
	SignedURLTTL       time.Duration

	// Bot
	HistorySize   int
	StateTTL      time.Duration
	OnboardingTTL time.Duration
	UserCacheTTL  time.Duration

	// Dispatcher & sweeper
	MaxConcurrentTurns int
	TurnTimeout        time.Duration
	SweepInterval      time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / admin auth
	JWTSecret         string
	JWTAccessTTL      time.Duration
	AdminPasswordHash string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:            getEnvInt("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		SessionBackend: strings.ToLower(getEnv("SESSION_BACKEND", BackendMemory)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 30*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 2),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 200*time.Millisecond),

		GroqAPIKey:       getEnv("GROQ_API_KEY", ""),
		GroqBaseURL:      getEnv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:        getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqWhisperModel: getEnv("GROQ_WHISPER_MODEL", "whisper-large-v3"),
		GroqTemperature:  getEnvFloat("GROQ_TEMPERATURE", 0.1),
		GroqMaxTokens:    getEnvInt("GROQ_MAX_TOKENS", 1000),

		TwilioAccountSID:   getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:         getEnv("TWILIO_WHATSAPP_FROM", ""),
		WebhookPublicURL:   getEnv("WEBHOOK_PUBLIC_URL", ""),
		ValidateSignatures: getEnvBool("TWILIO_VALIDATE_SIGNATURE", true),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),
		SupabaseBucket:     getEnv("SUPABASE_BUCKET", "documents"),
		SignedURLTTL:       getEnvDuration("SUPABASE_SIGNED_URL_TTL", 0),

		HistorySize:   getEnvInt("HISTORY_SIZE", 10),
		StateTTL:      getEnvDuration("STATE_TTL", 7*24*time.Hour),
		OnboardingTTL: getEnvDuration("ONBOARDING_TTL", 24*time.Hour),
		UserCacheTTL:  getEnvDuration("USER_CACHE_TTL", 5*time.Minute),

		MaxConcurrentTurns: getEnvInt("MAX_CONCURRENT_TURNS", 50),
		TurnTimeout:        getEnvDuration("TURN_TIMEOUT", 2*time.Minute),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:         getEnv("JWT_SECRET", ""),
		JWTAccessTTL:      getEnvDuration("JWT_ACCESS_TTL", time.Hour),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	require := func(value, key string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}

	require(c.GroqAPIKey, "GROQ_API_KEY")
	require(c.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	require(c.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	require(c.TwilioFrom, "TWILIO_WHATSAPP_FROM")
	require(c.SupabaseURL, "SUPABASE_URL")
	require(c.SupabaseServiceKey, "SUPABASE_SERVICE_ROLE_KEY")
	require(c.SupabaseBucket, "SUPABASE_BUCKET")

	if c.TwilioFrom != "" && !strings.HasPrefix(c.TwilioFrom, "whatsapp:+") {
		errs = append(errs, errors.New(`TWILIO_WHATSAPP_FROM must look like "whatsapp:+14155238886"`))
	}

	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		require(c.DatabaseURL, "DATABASE_URL")
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of memory, postgres", c.StoreBackend))
	}

	switch c.SessionBackend {
	case BackendMemory:
	case BackendPostgres:
		require(c.DatabaseURL, "DATABASE_URL")
	case BackendRedis:
		require(c.RedisURL, "REDIS_URL")
	default:
		errs = append(errs, fmt.Errorf("SESSION_BACKEND %q is not one of memory, postgres, redis", c.SessionBackend))
	}

	if c.AdminPasswordHash != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes when the admin API is enabled"))
	}
	if c.MaxConcurrentTurns <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_TURNS must be positive"))
	}
	return errors.Join(errs...)
}

// AdminEnabled is true when the admin API can issue tokens.
func (c *Config) AdminEnabled() bool {
	return c.AdminPasswordHash != "" && c.JWTSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
