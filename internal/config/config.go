package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	HTTPAddr             string
	Store                string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	Location       *time.Location
	LookAheadDays  int
	MissedGrace    time.Duration
	SweepSchedule  string
	WindowSchedule string

	WorkerID   string
	WorkerPoll time.Duration

	LogLevel  zerolog.Level
	LogFormat string
}

// Load reads the environment, after an optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(get func(string) string) (Config, error) {
	e := env{get: get}

	cfg := Config{
		HTTPAddr:             e.str("HTTP_ADDR", ":8080"),
		Store:                strings.ToLower(e.str("STORE", StorePostgres)),
		DatabaseURL:          e.str("DATABASE_URL", ""),
		CORSAllowCredentials: e.str("CORS_ALLOW_CREDENTIALS", "false") == "true",
		SweepSchedule:        e.str("SWEEP_SCHEDULE", "@every 5m"),
		WindowSchedule:       e.str("WINDOW_SCHEDULE", "5 0 * * *"),
		WorkerID:             e.str("WORKER_ID", "worker-1"),
		LogFormat:            strings.ToLower(e.str("LOG_FORMAT", "json")),
	}

	for _, o := range strings.Split(e.str("CORS_ALLOWED_ORIGINS", ""), ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("missing env: DATABASE_URL")
		}
	case StoreMemory:
	default:
		return cfg, fmt.Errorf("STORE: unknown store %q", cfg.Store)
	}

	loc, err := time.LoadLocation(e.str("TIMEZONE", "Local"))
	if err != nil {
		return cfg, fmt.Errorf("TIMEZONE: %w", err)
	}
	cfg.Location = loc

	if cfg.LookAheadDays, err = e.positiveInt("LOOKAHEAD_DAYS", 7); err != nil {
		return cfg, err
	}
	if cfg.MissedGrace, err = e.duration("MISSED_GRACE", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.WorkerPoll, err = e.duration("WORKER_POLL", 800*time.Millisecond); err != nil {
		return cfg, err
	}

	for key, spec := range map[string]string{"SWEEP_SCHEDULE": cfg.SweepSchedule, "WINDOW_SCHEDULE": cfg.WindowSchedule} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return cfg, fmt.Errorf("%s: %w", key, err)
		}
	}

	if cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(e.str("LOG_LEVEL", "info"))); err != nil {
		return cfg, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return cfg, fmt.Errorf("LOG_FORMAT: expected json or console, got %q", cfg.LogFormat)
	}

	return cfg, nil
}

// Logger writes to w in the configured format and level.
func (c Config) Logger(w io.Writer) zerolog.Logger {
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(c.LogLevel).With().Timestamp().Logger()
}

type env struct {
	get func(string) string
}

func (e env) str(key, def string) string {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	return v
}

func (e env) positiveInt(key string, def int) (int, error) {
	v := e.str(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: expected a positive integer, got %q", key, v)
	}
	return n, nil
}

func (e env) duration(key string, def time.Duration) (time.Duration, error) {
	v := e.str(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative duration, got %q", key, v)
	}
	return d, nil
}
