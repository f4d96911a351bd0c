package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Untagged fields resolve to PREFIX_FIELDNAME with no unprefixed fallback.
type Service struct {
	Environment string `required:"true"`
	APIPort     string `envconfig:"API_PORT" default:"8080"`
	Host        string `default:"localhost:8080"`
}

type ClickHouse struct {
	Host            string `required:"true"`
	Port            string `required:"true"`
	Database        string `required:"true"`
	User            string `default:""`
	Password        string `default:""`
	UseTLS          bool   `envconfig:"USE_TLS" default:"false"`
	MaxOpenConns    int    `envconfig:"MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int    `envconfig:"MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime int    `envconfig:"CONN_MAX_LIFETIME_SEC" default:"3600"`
}

type SQS struct {
	Endpoint         string `envconfig:"ENDPOINT"`
	Region           string `envconfig:"REGION" required:"true"`
	QueueURL         string `envconfig:"QUEUE_URL" required:"true"`
	DeliveryQueueURL string `envconfig:"DELIVERY_QUEUE_URL" required:"true"`
}

type Redis struct {
	Addr            string `envconfig:"ADDR" required:"true"`
	Password        string `default:""`
	DB              int    `default:"0"`
	EventChannel    string `envconfig:"EVENT_CHANNEL" default:"live-events"`
	LeaderboardSize int    `envconfig:"LEADERBOARD_SIZE" default:"50"`
}

type Postgres struct {
	// Empty DSN keeps campaign and scenario state in memory.
	DSN string `envconfig:"DSN" default:""`
}

type Consumer struct {
	BatchSizeMax    int    `envconfig:"BATCH_SIZE_MAX" default:"2000"`
	BatchTimeoutSec int    `envconfig:"BATCH_TIMEOUT_SEC" default:"10"`
	HealthCheckPort string `envconfig:"HEALTH_CHECK_PORT" default:"8081"`
}

type Realtime struct {
	PollIntervalSec   int `envconfig:"POLL_INTERVAL_SEC" default:"10"`
	MaxBackfillEvents int `envconfig:"MAX_BACKFILL_EVENTS" default:"5000"`
	ReorderWindow     int `envconfig:"REORDER_WINDOW" default:"64"`
	InboxSize         int `envconfig:"INBOX_SIZE" default:"256"`
	BucketWidthMin    int `envconfig:"BUCKET_WIDTH_MIN" default:"10"`
	LiveGraceMin      int `envconfig:"LIVE_GRACE_MIN" default:"10"`
	SanityBoundHours  int `envconfig:"SANITY_BOUND_HOURS" default:"12"`
}

type Dispatch struct {
	DailyLimit        int      `envconfig:"DAILY_LIMIT" default:"5000"`
	Timezone          string   `envconfig:"TIMEZONE" default:"Asia/Tokyo"`
	SendingTimeoutSec int      `envconfig:"SENDING_TIMEOUT_SEC" default:"600"`
	ReaperIntervalSec int      `envconfig:"REAPER_INTERVAL_SEC" default:"60"`
	UnlockTTLSec      int      `envconfig:"UNLOCK_TTL_SEC" default:"60"`
	RequireUnlock     bool     `envconfig:"REQUIRE_UNLOCK" default:"true"`
	TestMode          bool     `envconfig:"TEST_MODE" default:"false"`
	TestWhitelist     []string `envconfig:"TEST_WHITELIST"`
}

type Scenario struct {
	ProcessIntervalSec int `envconfig:"PROCESS_INTERVAL_SEC" default:"60"`
	BatchLimit         int `envconfig:"BATCH_LIMIT" default:"100"`
}

type Alerts struct {
	DisplayWindowSec int `envconfig:"DISPLAY_WINDOW_SEC" default:"30"`
}

type Segments struct {
	Rules string `envconfig:"RULES" default:"S1:5000:7,S2:5000:90,S3:5000:-1,S4:1000:7,S5:1000:90,S6:1000:-1,S7:300:30,S8:300:-1,S9:50:-1,S10:0:-1"`
}

type Telemetry struct {
	Enabled     bool    `envconfig:"ENABLED" default:"false"`
	ServiceName string  `envconfig:"SERVICE_NAME" default:"livespot-engine"`
	SampleRatio float64 `envconfig:"SAMPLE_RATIO" default:"0.1"`
}

type Insight struct {
	// Empty endpoint disables insight generation.
	Endpoint   string `envconfig:"ENDPOINT" default:""`
	TimeoutSec int    `envconfig:"TIMEOUT_SEC" default:"30"`
}

type Config struct {
	Service    Service    `envconfig:"SERVICE"`
	ClickHouse ClickHouse `envconfig:"CLICKHOUSE"`
	SQS        SQS        `envconfig:"SQS"`
	Redis      Redis      `envconfig:"REDIS"`
	Postgres   Postgres   `envconfig:"POSTGRES"`
	Consumer   Consumer   `envconfig:"CONSUMER"`
	Realtime   Realtime   `envconfig:"REALTIME"`
	Dispatch   Dispatch   `envconfig:"DISPATCH"`
	Scenario   Scenario   `envconfig:"SCENARIO"`
	Alerts     Alerts     `envconfig:"ALERTS"`
	Segments   Segments   `envconfig:"SEGMENTS"`
	Telemetry  Telemetry  `envconfig:"OTEL"`
	Insight    Insight    `envconfig:"INSIGHT"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Dispatch.Timezone); err != nil {
		return nil, fmt.Errorf("invalid DISPATCH_TIMEZONE %q: %w", cfg.Dispatch.Timezone, err)
	}

	return &cfg, nil
}

// Seconds converts a whole-second setting into a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
