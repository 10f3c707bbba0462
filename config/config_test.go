package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, envOf(nil))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "stock.db", cfg.DBDSN)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.AMQPURL)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Hour, cfg.ReconcileEvery)
	assert.Equal(t, zapcore.InfoLevel, cfg.LogLevel.Level())
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoad_EnvironmentThenFlags(t *testing.T) {
	env := envOf(map[string]string{
		"STOCK_DB_DRIVER":    "mysql",
		"STOCK_DB_DSN":       "root:root@tcp(localhost:3306)/stock",
		"REDIS_ADDR":         "localhost:6379",
		"STOCK_LOG_LEVEL":    "debug",
		"STOCK_CORS_ORIGINS": "https://a.example, https://b.example",
	})

	// GIVEN: environment only
	cfg, err := Load(nil, env)
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel.Level())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)

	// WHEN: flags are also given THEN they win
	cfg, err = Load([]string{"-db-driver=memory", "-log-level=warn", "-grpc-addr=", "-reconcile-every=0"}, env)
	require.NoError(t, err)
	assert.Zero(t, cfg.ReconcileEvery)
	assert.Equal(t, DriverMemory, cfg.DBDriver)
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel.Level())
	assert.Empty(t, cfg.GRPCAddr)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string][]string{
		"unknown driver": {"-db-driver=postgres"},
		"bad ttl":        {"-cache-ttl=soon"},
		"zero ttl":       {"-cache-ttl=0s"},
		"bad level":      {"-log-level=loud"},
		"empty dsn":      {"-db="},
		"unknown flag":   {"-port=8080"},
		"bad interval":   {"-reconcile-every=-1m"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(args, envOf(nil))
			assert.Error(t, err)
		})
	}
}
