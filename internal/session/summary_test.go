package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

func failing(name string, err error) SummarySource {
	return SourceFunc{Label: name, Fn: func(context.Context, string) (*domain.SessionSummary, error) {
		return nil, err
	}}
}

func answering(name string, total int64) SummarySource {
	return SourceFunc{Label: name, Fn: func(context.Context, string) (*domain.SessionSummary, error) {
		return &domain.SessionSummary{TotalAmount: total}, nil
	}}
}

func TestSummaryChain_FirstSuccessWins(t *testing.T) {
	chain := NewSummaryChain(zap.NewNop(),
		failing("live", domain.ErrNotFound),
		answering("clickhouse", 120),
		answering("recompute", 999),
	)

	summary, err := chain.Summary(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, "clickhouse", summary.Source)
	assert.Equal(t, "s1", summary.SessionID)
	assert.Equal(t, int64(120), summary.TotalAmount)
}

func TestSummaryChain_NilSummaryFallsThrough(t *testing.T) {
	chain := NewSummaryChain(zap.NewNop(),
		SourceFunc{Label: "empty", Fn: func(context.Context, string) (*domain.SessionSummary, error) { return nil, nil }},
		answering("recompute", 5),
	)

	summary, err := chain.Summary(context.Background(), "s1")

	require.NoError(t, err)
	assert.Equal(t, "recompute", summary.Source)
}

func TestSummaryChain_AllFail(t *testing.T) {
	boom := errors.New("connection refused")
	chain := NewSummaryChain(zap.NewNop(),
		failing("live", domain.ErrNotFound),
		failing("clickhouse", boom),
	)

	summary, err := chain.Summary(context.Background(), "s1")

	assert.Nil(t, summary)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSummaryChain_Empty(t *testing.T) {
	_, err := NewSummaryChain(zap.NewNop()).Summary(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
