package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("SERVICE_ENVIRONMENT", "test")
	t.Setenv("CLICKHOUSE_HOST", "localhost")
	t.Setenv("CLICKHOUSE_PORT", "9000")
	t.Setenv("CLICKHOUSE_DATABASE", "livespot")
	t.Setenv("SQS_REGION", "eu-central-1")
	t.Setenv("SQS_QUEUE_URL", "http://localhost:9324/queue/events")
	t.Setenv("SQS_DELIVERY_QUEUE_URL", "http://localhost:9324/queue/delivery")
	t.Setenv("REDIS_ADDR", "localhost:6379")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Service.Environment)
	assert.Equal(t, "8080", cfg.Service.APIPort)
	assert.Equal(t, 10, cfg.Realtime.PollIntervalSec)
	assert.Equal(t, 10, cfg.Realtime.BucketWidthMin)
	assert.Equal(t, 5000, cfg.Dispatch.DailyLimit)
	assert.Equal(t, "Asia/Tokyo", cfg.Dispatch.Timezone)
	assert.True(t, cfg.Dispatch.RequireUnlock)
	assert.Equal(t, "live-events", cfg.Redis.EventChannel)
	assert.Contains(t, cfg.Segments.Rules, "S10:0:-1")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_DAILY_LIMIT", "10")
	t.Setenv("DISPATCH_TEST_MODE", "true")
	t.Setenv("DISPATCH_TEST_WHITELIST", "alice,bob")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Dispatch.DailyLimit)
	assert.True(t, cfg.Dispatch.TestMode)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Dispatch.TestWhitelist)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	require.NoError(t, os.Unsetenv("SERVICE_ENVIRONMENT"))

	cfg, err := Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_TIMEZONE", "Mars/Olympus")

	cfg, err := Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid DISPATCH_TIMEZONE")
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 90*time.Second, Seconds(90))
}
