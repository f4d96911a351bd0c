package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

const (
	// DefaultLeaderboardSize bounds how many viewers are mirrored per session
	DefaultLeaderboardSize = 50
	leaderboardTTL         = 24 * time.Hour
	leaderboardPrefix      = "live:ranking:"
)

// RankedViewer is one mirrored leaderboard row
type RankedViewer struct {
	UserID         string `json:"user_id"`
	LifetimeAmount int64  `json:"lifetime_amount"`
}

// Leaderboard mirrors the top viewers of a session into a Redis sorted set
type Leaderboard struct {
	rdb  redis.UniversalClient
	size int
}

// NewLeaderboard creates a mirror keeping at most size viewers
func NewLeaderboard(rdb redis.UniversalClient, size int) *Leaderboard {
	if size <= 0 {
		size = DefaultLeaderboardSize
	}
	return &Leaderboard{rdb: rdb, size: size}
}

// Key returns the sorted set key of a session
func Key(sessionID string) string {
	return leaderboardPrefix + sessionID
}

// Mirror replaces the session ranking with the first entries of viewers,
// which must already be in ranking order
func (l *Leaderboard) Mirror(ctx context.Context, sessionID string, viewers []domain.ViewerLedgerEntry) error {
	if len(viewers) > l.size {
		viewers = viewers[:l.size]
	}

	members := make([]redis.Z, 0, len(viewers))
	for _, v := range viewers {
		members = append(members, redis.Z{Score: float64(v.LifetimeAmount), Member: v.UserID})
	}

	key := Key(sessionID)
	pipe := l.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if len(members) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, leaderboardTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror leaderboard of session %s: %w", sessionID, err)
	}
	return nil
}

// Top reads up to n mirrored viewers, highest lifetime first
func (l *Leaderboard) Top(ctx context.Context, sessionID string, n int) ([]RankedViewer, error) {
	if n <= 0 || n > l.size {
		n = l.size
	}
	rows, err := l.rdb.ZRevRangeWithScores(ctx, Key(sessionID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard of session %s: %w", sessionID, err)
	}

	out := make([]RankedViewer, 0, len(rows))
	for _, z := range rows {
		member, _ := z.Member.(string)
		out = append(out, RankedViewer{UserID: member, LifetimeAmount: int64(z.Score)})
	}
	return out, nil
}
