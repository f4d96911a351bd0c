package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// SummarySource is one strategy able to produce a session summary
type SummarySource interface {
	Name() string
	Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
}

// SourceFunc adapts a function to SummarySource
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context, sessionID string) (*domain.SessionSummary, error)
}

func (s SourceFunc) Name() string { return s.Label }

func (s SourceFunc) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	return s.Fn(ctx, sessionID)
}

// SummaryChain tries sources in order and returns the first answer
type SummaryChain struct {
	sources []SummarySource
	logger  *zap.Logger
}

// NewSummaryChain creates a chain over sources, tried in the given order
func NewSummaryChain(logger *zap.Logger, sources ...SummarySource) *SummaryChain {
	return &SummaryChain{sources: sources, logger: logger}
}

// Summary returns the first successful summary, tagged with the source name.
// When every source fails the errors are joined.
func (c *SummaryChain) Summary(ctx context.Context, sessionID string) (*domain.SessionSummary, error) {
	var errs []error

	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		summary, err := src.Summary(ctx, sessionID)
		if err != nil {
			c.logger.Debug("Summary source failed",
				zap.String("source", src.Name()),
				zap.String("session_id", sessionID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		if summary == nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), domain.ErrNotFound))
			continue
		}

		summary.SessionID = sessionID
		summary.Source = src.Name()
		return summary, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("no summary sources configured: %w", domain.ErrNotFound)
	}
	return nil, fmt.Errorf("failed to summarize session %s: %w", sessionID, errors.Join(errs...))
}
