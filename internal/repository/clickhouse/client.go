package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/config"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second
)

// Client owns the connection pool shared by the event store readers and writers
type Client struct {
	conn     driver.Conn
	database string
	log      *zap.Logger
}

// NewClient opens a pool and waits until the server answers a ping. Both
// binaries start next to ClickHouse, so a few failed pings are tolerated.
func NewClient(ctx context.Context, cfg *config.ClickHouse, log *zap.Logger) (*Client, error) {
	log.Info("Connecting to ClickHouse",
		zap.String("host", cfg.Host),
		zap.String("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Bool("use_tls", cfg.UseTLS))

	conn, err := clickhouse.Open(options(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := ping(ctx, conn, log); err != nil {
		_ = conn.Close()
		return nil, err
	}

	log.Info("ClickHouse connection established successfully")
	return &Client{conn: conn, database: cfg.Database, log: log}, nil
}

func options(cfg *config.ClickHouse) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
			// FINAL reads on the live poll path touch few parts
			"do_not_merge_across_partitions_select_final": 1,
		},
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  config.Seconds(cfg.ConnMaxLifetime),
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  10,
	}
	if cfg.UseTLS {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func ping(ctx context.Context, conn driver.Conn, log *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = conn.Ping(ctx); err == nil {
			return nil
		}
		log.Warn("ClickHouse not ready", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to ping ClickHouse: %w", ctx.Err())
		case <-time.After(connectBackoff):
		}
	}
	return fmt.Errorf("failed to ping ClickHouse after %d attempts: %w", connectAttempts, err)
}

// Conn returns the pooled connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Database returns the database the pool is bound to
func (c *Client) Database() string {
	return c.database
}

// Close releases the pool
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	c.log.Info("ClickHouse connection closed")
	return nil
}
