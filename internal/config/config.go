package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env      string `env:"APP_ENV" envDefault:"dev"`
	HTTPPort string `env:"HTTP_PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"sqlite://./classbeacon.db"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"localhost:6379"`

	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"classbeacon"`
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-signing-secret-change"`
	AccessTTL     time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL" envDefault:"24h"`

	WindowBackend      string        `env:"WINDOW_BACKEND" envDefault:"redis"`
	WindowPollInterval time.Duration `env:"WINDOW_POLL_INTERVAL" envDefault:"1s"`
	WindowMaxMinutes   int           `env:"WINDOW_MAX_MINUTES" envDefault:"240"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	RateLimitPerMin int           `env:"RATE_LIMIT_PER_MIN" envDefault:"120"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`
	CloudinaryFolder    string `env:"CLOUDINARY_FOLDER" envDefault:"classbeacon/captures"`
}

// Load reads an optional .env file and then parses the environment into App.
func Load() (App, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env file", "error", err)
	}
	var cfg App
	if err := env.Parse(&cfg); err != nil {
		return App{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// Production reports whether the app runs with production settings.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// CloudinaryConfigured reports whether capture uploads can be enabled.
func (a App) CloudinaryConfigured() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

func (a App) validate() error {
	switch strings.ToLower(a.WindowBackend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("WINDOW_BACKEND must be memory or redis, got %q", a.WindowBackend)
	}
	if a.WindowPollInterval <= 0 {
		return fmt.Errorf("WINDOW_POLL_INTERVAL must be positive")
	}
	if a.WindowMaxMinutes <= 0 {
		return fmt.Errorf("WINDOW_MAX_MINUTES must be positive")
	}
	if a.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required")
	}
	return nil
}

// NewLogger builds the process logger: JSON in production, text otherwise.
func NewLogger(a App) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if a.Production() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
