package stream

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the fallback poll period while push delivery is down
const DefaultPollInterval = 10 * time.Second

// Poller pulls stored events for every open session, but only while the push
// subscription reports disconnected
type Poller struct {
	state    ConnectionState
	target   Resyncer
	interval time.Duration
	log      *zap.Logger
}

// NewPoller creates a poller; a non-positive interval uses DefaultPollInterval
func NewPoller(state ConnectionState, target Resyncer, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{state: state, target: target, interval: interval, log: log}
}

// Run ticks until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("Event poller shutting down")
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick runs one poll cycle and reports whether a resync was requested
func (p *Poller) Tick(ctx context.Context) bool {
	if p.state.Connected() {
		return false
	}
	p.log.Debug("Push subscription down, polling event store")
	p.target.ResyncAll(ctx)
	return true
}
