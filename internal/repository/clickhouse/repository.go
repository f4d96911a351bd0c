package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

// paymentFilter selects revenue-bearing rows
const paymentFilter = "event_type IN ('tip', 'gift') AND amount > 0"

// Repository implements EventRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the room event table. Rows are keyed by (session_id, seq, event_id)
// so redelivered events collapse on merge and FINAL reads.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id String,
		session_id String,
		cast_id LowCardinality(String),
		seq UInt64,
		event_type LowCardinality(String),
		user_id String,
		amount Int64,
		text String,
		timestamp DateTime64(3, 'UTC'),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	ORDER BY (session_id, seq, event_id)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}

	index := `ALTER TABLE events ADD INDEX IF NOT EXISTS idx_user_id user_id TYPE bloom_filter GRANULARITY 4`
	if err := r.client.Conn().Exec(ctx, index); err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}

	r.log.Info("ClickHouse schema initialized successfully",
		zap.String("database", r.client.Database()))
	return nil
}

// InsertBatch inserts a batch of events into ClickHouse
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO events")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	insertedCount := 0
	for _, event := range events {
		if event.Version == 0 {
			event.Version = uint64(time.Now().UnixNano())
		}

		err := batch.Append(
			event.EventID,
			event.SessionID,
			event.CastID,
			event.Seq,
			string(event.Type),
			event.UserID,
			event.Amount,
			event.Text,
			event.Timestamp.UTC(),
			event.Version,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to append event %s to batch: %w", event.EventID, err)
		}
		insertedCount++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return insertedCount, nil
}

// EventsSince returns up to limit events of a session with seq > afterSeq, in seq order
func (r *Repository) EventsSince(ctx context.Context, sessionID string, afterSeq uint64, limit int) ([]domain.Event, error) {
	query := `
		SELECT event_id, session_id, cast_id, seq, event_type, user_id, amount, text, timestamp, version
		FROM events FINAL
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC`
	if limit > 0 {
		query = fmt.Sprintf("%s\n\t\tLIMIT %d", query, limit)
	}

	rows, err := r.client.Conn().Query(ctx, query, sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to query events since %d: %w", afterSeq, err)
	}
	defer r.closeRows(rows, "events since")

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			ev        domain.Event
			eventType string
		)
		if err := rows.Scan(&ev.EventID, &ev.SessionID, &ev.CastID, &ev.Seq, &eventType,
			&ev.UserID, &ev.Amount, &ev.Text, &ev.Timestamp, &ev.Version); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Type = domain.EventType(eventType)
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// SessionTotals aggregates a session's revenue and audience from stored events.
// A new payer is a user paying in this session with no payment in any other session.
func (r *Repository) SessionTotals(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	var (
		total      int64
		payers     uint64
		viewers    uint64
		eventCount uint64
	)

	totalsQuery := fmt.Sprintf(`
		SELECT
			sumIf(amount, %[1]s) AS total_amount,
			uniqExactIf(user_id, %[1]s) AS payer_count,
			uniqExactIf(user_id, user_id != '') AS viewer_count,
			count() AS event_count
		FROM events FINAL
		WHERE session_id = ?
	`, paymentFilter)

	row := r.client.Conn().QueryRow(ctx, totalsQuery, sessionID)
	if err := row.Scan(&total, &payers, &viewers, &eventCount); err != nil {
		return nil, fmt.Errorf("failed to query session totals: %w", err)
	}
	if eventCount == 0 {
		return nil, fmt.Errorf("events of session %s: %w", sessionID, domain.ErrNotFound)
	}

	newPayersQuery := fmt.Sprintf(`
		SELECT count() FROM (
			SELECT DISTINCT user_id FROM events FINAL
			WHERE session_id = ? AND %[1]s
		)
		WHERE user_id NOT IN (
			SELECT user_id FROM events FINAL
			WHERE session_id != ? AND %[1]s
		)
	`, paymentFilter)

	var newPayers uint64
	row = r.client.Conn().QueryRow(ctx, newPayersQuery, sessionID, sessionID)
	if err := row.Scan(&newPayers); err != nil {
		return nil, fmt.Errorf("failed to query new payers: %w", err)
	}

	return &domain.SessionSummary{
		SessionID:   sessionID,
		TotalAmount: total,
		PayerCount:  int(payers),
		ViewerCount: int(viewers),
		NewPayers:   int(newPayers),
		EventCount:  int(eventCount),
	}, nil
}

// ViewerHistory sums a user's payments in every session except excludeSessionID
func (r *Repository) ViewerHistory(ctx context.Context, userID, excludeSessionID string) (*repository.ViewerHistory, error) {
	query := fmt.Sprintf(`
		SELECT sum(amount), max(timestamp), count()
		FROM events FINAL
		WHERE user_id = ? AND session_id != ? AND %s
	`, paymentFilter)

	var (
		total    int64
		lastPaid time.Time
		payments uint64
	)
	row := r.client.Conn().QueryRow(ctx, query, userID, excludeSessionID)
	if err := row.Scan(&total, &lastPaid, &payments); err != nil {
		return nil, fmt.Errorf("failed to query viewer history: %w", err)
	}

	history := &repository.ViewerHistory{TotalAmount: total}
	if payments > 0 {
		at := lastPaid.UTC()
		history.LastPaymentAt = &at
	}
	return history, nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

func (r *Repository) closeRows(rows driver.Rows, what string) {
	if err := rows.Close(); err != nil {
		r.log.Error("Failed to close rows", zap.String("query", what), zap.Error(err))
	}
}
