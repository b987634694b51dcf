package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/messenger/internal/hub"
	"github.com/Tyrowin/messenger/internal/session"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST" validate:"min=1"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" validate:"gt=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port string `env:"SERVER_PORT" validate:"required"`
	// Origins is the raw comma separated ALLOWED_ORIGINS value. "*" allows
	// every origin.
	Origins        string `env:"ALLOWED_ORIGINS"`
	AllowedOrigins []string
	MaxMessageSize int64 `env:"MAX_MESSAGE_SIZE" validate:"min=64"`
	RateLimit      RateLimitConfig

	DatabasePath string `env:"DATABASE_PATH" validate:"required"`
	// HistoryLimit is the number of stored messages replayed to a new
	// connection. Zero means the default of 10; negative disables the replay.
	HistoryLimit          int           `env:"HISTORY_LIMIT"`
	SubscriberBuffer      int           `env:"SUBSCRIBER_BUFFER" validate:"min=1"`
	OutboxBuffer          int           `env:"OUTBOX_BUFFER" validate:"min=1"`
	OverflowPolicy        string        `env:"OVERFLOW_POLICY" validate:"oneof=disconnect drop"`
	StoreTimeout          time.Duration `env:"STORE_TIMEOUT" validate:"gt=0"`
	RequireRegisteredUser bool          `env:"REQUIRE_REGISTERED_USER"`
	ShutdownTimeout       time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	LogFormat string `env:"LOG_FORMAT" validate:"oneof=text json"`
	LogLevel  string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

func defaultConfig() Config {
	return Config{
		Port:           ":8080",
		Origins:        "http://localhost:8080",
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		DatabasePath:     "gochat.db",
		HistoryLimit:     session.DefaultHistoryLimit,
		SubscriberBuffer: hub.DefaultBuffer,
		OutboxBuffer:     session.DefaultOutboxBuffer,
		OverflowPolicy:   hub.OverflowDisconnect.String(),
		StoreTimeout:     session.DefaultStoreTimeout,
		ShutdownTimeout:  10 * time.Second,
		LogFormat:        "text",
		LogLevel:         "info",
	}
}

// sanitize repairs values the environment may leave empty or out of range
// and derives AllowedOrigins from Origins.
func (cfg Config) sanitize() Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	if cfg.OutboxBuffer <= 0 {
		cfg.OutboxBuffer = def.OutboxBuffer
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.OverflowPolicy = strings.ToLower(strings.TrimSpace(cfg.OverflowPolicy))
	if cfg.OverflowPolicy == "" {
		cfg.OverflowPolicy = def.OverflowPolicy
	}
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = parseOrigins(cfg.Origins)
	}
	return cfg
}

var configValidator = validator.New()

// Validate reports the first invalid setting.
func (cfg Config) Validate() error {
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s: %q rule failed", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Overflow returns the parsed hub overflow policy.
func (cfg Config) Overflow() hub.OverflowPolicy {
	p, _ := hub.ParseOverflowPolicy(cfg.OverflowPolicy)
	return p
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() Config {
	return defaultConfig().sanitize()
}

// LoadConfig reads an optional .env file, then the environment, over the
// defaults, and validates the result.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg = cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Override applies non-empty command line values over cfg and validates
// the result.
func (cfg Config) Override(port, databasePath, logFormat string) (Config, error) {
	if port != "" {
		cfg.Port = port
	}
	if databasePath != "" {
		cfg.DatabasePath = databasePath
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	cfg = cfg.sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
