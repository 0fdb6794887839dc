package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{"STORE": "memory"}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 7, cfg.LookAheadDays)
	assert.Equal(t, time.Hour, cfg.MissedGrace)
	assert.Equal(t, 800*time.Millisecond, cfg.WorkerPoll)
	assert.Equal(t, "worker-1", cfg.WorkerID)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.NotNil(t, cfg.Location)
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"STORE":                  "postgres",
		"DATABASE_URL":           "postgres://localhost/medtrack",
		"CORS_ALLOWED_ORIGINS":   "http://a.test, ,http://b.test",
		"CORS_ALLOW_CREDENTIALS": "true",
		"TIMEZONE":               "Europe/Prague",
		"LOOKAHEAD_DAYS":         "14",
		"MISSED_GRACE":           "30m",
		"SWEEP_SCHEDULE":         "*/10 * * * *",
		"LOG_LEVEL":              "DEBUG",
		"LOG_FORMAT":             "console",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSAllowedOrigins)
	assert.True(t, cfg.CORSAllowCredentials)
	assert.Equal(t, "Europe/Prague", cfg.Location.String())
	assert.Equal(t, 14, cfg.LookAheadDays)
	assert.Equal(t, 30*time.Minute, cfg.MissedGrace)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	base := func() map[string]string { return map[string]string{"STORE": "memory"} }
	tests := map[string]map[string]string{
		"postgres without url": {"STORE": "postgres"},
		"unknown store":        {"STORE": "sqlite"},
		"timezone":             {"TIMEZONE": "Mars/Olympus"},
		"lookahead":            {"LOOKAHEAD_DAYS": "0"},
		"grace":                {"MISSED_GRACE": "soon"},
		"cron":                 {"SWEEP_SCHEDULE": "every minute"},
		"log level":            {"LOG_LEVEL": "loud"},
		"log format":           {"LOG_FORMAT": "xml"},
	}
	for name, overrides := range tests {
		t.Run(name, func(t *testing.T) {
			env := base()
			for k, v := range overrides {
				env[k] = v
			}
			_, err := FromEnv(lookup(env))
			assert.Error(t, err)
		})
	}
}

func TestLoggerHonoursLevel(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{"STORE": "memory", "LOG_LEVEL": "warn"}))
	require.NoError(t, err)

	var buf bytes.Buffer
	log := cfg.Logger(&buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
