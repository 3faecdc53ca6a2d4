package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/installment-ledger/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "ledger.db", cfg.SQLitePath)
	assert.Equal(t, 15*time.Second, cfg.LockTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.DemoEnabled())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("PG_DSN", "postgres://ledger@localhost/ledger")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.DemoEnabled(), "demo data is off in production")
	assert.Equal(t, config.DriverPostgres, cfg.DBDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, "json", cfg.Logger().Format)
}

func TestFromEnv_DemoInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ENABLE_DEMO", "true")

	cfg, err := config.FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.DemoEnabled())
}

func TestFromEnv_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"DB_DRIVER": "postgres", "PG_DSN": ""}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"bad timezone", map[string]string{"LEDGER_TIMEZONE": "Mars/Olympus"}},
		{"negative rate limit", map[string]string{"RATE_LIMIT_PER_MINUTE": "-1"}},
		{"bad duration", map[string]string{"LOCK_TTL": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.FromEnv()
			assert.Error(t, err)
		})
	}
}
