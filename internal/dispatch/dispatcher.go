package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/repository"
)

const (
	DefaultDailyLimit     = 5000
	DefaultSendingTimeout = 10 * time.Minute
	timeoutDetail         = "delivery timed out"
)

// JobPublisher hands queued items to the Delivery Agent
type JobPublisher interface {
	PublishDispatchJobs(ctx context.Context, jobs []domain.DispatchJob) error
}

// DeliveryListener is told about every item that reaches a terminal status
type DeliveryListener interface {
	OnDelivery(ctx context.Context, item domain.DMItem)
}

// Settings holds the dispatcher policy
type Settings struct {
	DailyLimit     int
	Location       *time.Location
	SendingTimeout time.Duration
	RequireUnlock  bool
	TestMode       bool
	TestWhitelist  []string
}

// BatchRequest describes a batch to queue
type BatchRequest struct {
	AccountID string
	Label     string
	Targets   []string
	Template  string
	SendMode  domain.SendMode
	LaneCount int
	Cap       int

	// set for sends made on behalf of a scenario enrollment
	ScenarioID   string
	EnrollmentID string
	StepIndex    *int
}

// Dispatcher owns campaign accounting. It never delivers anything itself; it is
// the authority the Delivery Agent checks in with before and after each send.
type Dispatcher struct {
	mu        sync.Mutex
	repo      repository.CampaignRepository
	publisher JobPublisher
	gate      Gate
	settings  Settings
	whitelist map[string]bool
	listeners []DeliveryListener
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. publisher and gate may be nil.
func NewDispatcher(repo repository.CampaignRepository, publisher JobPublisher, gate Gate, settings Settings, logger *zap.Logger) *Dispatcher {
	if settings.DailyLimit <= 0 {
		settings.DailyLimit = DefaultDailyLimit
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.SendingTimeout <= 0 {
		settings.SendingTimeout = DefaultSendingTimeout
	}

	whitelist := make(map[string]bool, len(settings.TestWhitelist))
	for _, u := range settings.TestWhitelist {
		whitelist[strings.TrimSpace(u)] = true
	}

	return &Dispatcher{
		repo:      repo,
		publisher: publisher,
		gate:      gate,
		settings:  settings,
		whitelist: whitelist,
		now:       time.Now,
		logger:    logger,
	}
}

// Subscribe registers a listener for terminal item statuses
func (d *Dispatcher) Subscribe(l DeliveryListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// CreateBatch queues an operator batch. The account must be unlocked when the
// dispatcher requires confirmation.
func (d *Dispatcher) CreateBatch(ctx context.Context, req BatchRequest) (*domain.Campaign, []*domain.DMItem, error) {
	if d.settings.RequireUnlock && d.gate != nil {
		unlocked, err := d.gate.IsUnlocked(ctx, req.AccountID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check send gate: %w", err)
		}
		if !unlocked {
			return nil, nil, domain.ErrSendLocked
		}
	}
	return d.create(ctx, req)
}

// CreateAutomated queues a batch on behalf of the scenario engine. It skips the
// operator confirmation gate but is bound by the same quota.
func (d *Dispatcher) CreateAutomated(ctx context.Context, req BatchRequest) (*domain.Campaign, []*domain.DMItem, error) {
	return d.create(ctx, req)
}

func (d *Dispatcher) create(ctx context.Context, req BatchRequest) (*domain.Campaign, []*domain.DMItem, error) {
	if strings.TrimSpace(req.Label) == "" {
		return nil, nil, domain.ErrCampaignRequired
	}
	targets := dedupTargets(req.Targets)
	if len(targets) == 0 {
		return nil, nil, domain.ErrNoTargets
	}
	if d.settings.TestMode {
		for _, u := range targets {
			if !d.whitelist[u] {
				return nil, nil, fmt.Errorf("%w: %s", domain.ErrTestModeBlocked, u)
			}
		}
	}
	if req.Cap > 0 && len(targets) > req.Cap {
		return nil, nil, &domain.QuotaExceededError{Used: len(targets), Limit: req.Cap}
	}

	mode := req.SendMode
	if mode == "" {
		mode = domain.SendSequential
	}
	if mode != domain.SendSequential && mode != domain.SendPipeline {
		return nil, nil, fmt.Errorf("unknown send mode %q", req.SendMode)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	used, err := d.repo.CountActiveSince(ctx, req.AccountID, d.startOfDay(now))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count daily sends: %w", err)
	}
	if used+len(targets) > d.settings.DailyLimit {
		return nil, nil, &domain.QuotaExceededError{Used: used, Limit: d.settings.DailyLimit}
	}

	campaign := &domain.Campaign{
		ID:        uuid.New().String(),
		AccountID: req.AccountID,
		Label:     req.Label,
		SendMode:  mode,
		LaneCount: req.LaneCount,
		Cap:       req.Cap,
		Status:    domain.CampaignOpen,
		CreatedAt: now,
	}
	campaign.LaneCount = campaign.Lanes()

	items := make([]*domain.DMItem, 0, len(targets))
	for _, u := range targets {
		items = append(items, &domain.DMItem{
			ID:           uuid.New().String(),
			CampaignID:   campaign.ID,
			AccountID:    req.AccountID,
			UserID:       u,
			Message:      Render(req.Template, u),
			Status:       domain.DMQueued,
			QueuedAt:     now,
			ScenarioID:   req.ScenarioID,
			EnrollmentID: req.EnrollmentID,
			StepIndex:    req.StepIndex,
		})
	}
	campaign.Counters.Queued = len(items)

	if err := d.repo.CreateCampaign(ctx, campaign, items); err != nil {
		return nil, nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	d.logger.Info("Campaign queued",
		zap.String("campaign_id", campaign.ID),
		zap.String("account_id", campaign.AccountID),
		zap.String("send_mode", string(campaign.SendMode)),
		zap.Int("lanes", campaign.LaneCount),
		zap.Int("items", len(items)))

	d.publish(ctx, campaign, items)
	return campaign, items, nil
}

func (d *Dispatcher) publish(ctx context.Context, c *domain.Campaign, items []*domain.DMItem) {
	if d.publisher == nil {
		return
	}

	jobs := make([]domain.DispatchJob, 0, len(items))
	for _, it := range items {
		jobs = append(jobs, domain.DispatchJob{
			ItemID:     it.ID,
			CampaignID: c.ID,
			UserID:     it.UserID,
			Message:    it.Message,
			SendMode:   c.SendMode,
			LaneCount:  c.LaneCount,
		})
	}

	// items stay claimable through Claim when the queue is unavailable
	if err := d.publisher.PublishDispatchJobs(ctx, jobs); err != nil {
		d.logger.Warn("Failed to publish dispatch jobs",
			zap.String("campaign_id", c.ID),
			zap.Error(err))
	}
}

// ReportStatus records a status reported by the Delivery Agent. Re-reporting the
// current status is a no-op; moving backwards fails with ErrStatusRegression.
func (d *Dispatcher) ReportStatus(ctx context.Context, itemID string, status domain.DMStatus, detail string) (*domain.DMItem, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}

	d.mu.Lock()
	item, finished, err := d.reportLocked(ctx, itemID, status, detail)
	listeners := d.listeners
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if finished {
		for _, l := range listeners {
			l.OnDelivery(ctx, *item)
		}
	}
	return item, nil
}

func (d *Dispatcher) reportLocked(ctx context.Context, itemID string, status domain.DMStatus, detail string) (*domain.DMItem, bool, error) {
	item, err := d.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}
	if item.Status == status {
		return item, false, nil
	}
	if !item.Status.CanTransition(status) {
		return nil, false, fmt.Errorf("item %s %s -> %s: %w", itemID, item.Status, status, domain.ErrStatusRegression)
	}

	campaign, err := d.repo.GetCampaign(ctx, item.CampaignID)
	if err != nil {
		return nil, false, err
	}
	if err := d.transition(ctx, campaign, item, status, detail); err != nil {
		return nil, false, err
	}
	return item, status.Terminal(), nil
}

// transition must be called with the lock held
func (d *Dispatcher) transition(ctx context.Context, c *domain.Campaign, item *domain.DMItem, status domain.DMStatus, detail string) error {
	if status == domain.DMSending {
		if c.Status == domain.CampaignCancelled {
			return fmt.Errorf("campaign %s: %w", c.ID, domain.ErrCampaignCancelled)
		}
		if c.Counters.Sending >= c.Lanes() {
			return fmt.Errorf("campaign %s has %d of %d lanes busy: %w", c.ID, c.Counters.Sending, c.Lanes(), domain.ErrLaneLimit)
		}
	}

	now := d.now()
	prev := item.Status
	item.Status = status
	switch status {
	case domain.DMSending:
		item.SendingAt = &now
	case domain.DMSuccess:
		item.SentAt = &now
	case domain.DMError:
		item.ErrorDetail = detail
	}

	c.Counters.Add(prev, -1)
	c.Counters.Add(status, 1)
	if c.Status == domain.CampaignOpen && c.Counters.Queued == 0 && c.Counters.Sending == 0 {
		c.Status = domain.CampaignComplete
	}

	if err := d.repo.SaveProgress(ctx, c, item); err != nil {
		return fmt.Errorf("failed to save item %s: %w", item.ID, err)
	}

	if status == domain.DMError {
		d.logger.Warn("DM delivery failed",
			zap.String("campaign_id", c.ID),
			zap.Error(&domain.DeliveryError{ItemID: item.ID, Detail: detail}))
	}
	return nil
}

// Claim hands the oldest queued item of a campaign to the Delivery Agent and
// marks it sending, provided a lane is free.
func (d *Dispatcher) Claim(ctx context.Context, campaignID string) (*domain.DMItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	campaign, err := d.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	item, err := d.repo.NextQueued(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := d.transition(ctx, campaign, item, domain.DMSending, ""); err != nil {
		return nil, err
	}
	return item, nil
}

// Cancel stops new items of a campaign from entering sending. Items already in
// flight are left to finish.
func (d *Dispatcher) Cancel(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	campaign, err := d.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignOpen {
		return campaign, nil
	}

	campaign.Status = domain.CampaignCancelled
	if err := d.repo.UpdateCampaign(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to cancel campaign: %w", err)
	}

	d.logger.Info("Campaign cancelled",
		zap.String("campaign_id", campaignID),
		zap.Int("in_flight", campaign.Counters.Sending),
		zap.Int("never_sent", campaign.Counters.Queued))
	return campaign, nil
}

// Campaign returns a campaign with its items
func (d *Dispatcher) Campaign(ctx context.Context, campaignID string) (*domain.Campaign, []*domain.DMItem, error) {
	campaign, err := d.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}
	items, err := d.repo.ListItems(ctx, campaignID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list items: %w", err)
	}
	return campaign, items, nil
}

// ReapStale moves items stuck in sending past the timeout to error
func (d *Dispatcher) ReapStale(ctx context.Context) (int, error) {
	d.mu.Lock()
	cutoff := d.now().Add(-d.settings.SendingTimeout)
	stale, err := d.repo.StaleSending(ctx, cutoff)
	if err != nil {
		d.mu.Unlock()
		return 0, fmt.Errorf("failed to list stale items: %w", err)
	}

	var reaped []domain.DMItem
	var errs []error
	for _, it := range stale {
		item, _, err := d.reportLocked(ctx, it.ID, domain.DMError, timeoutDetail)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reaped = append(reaped, *item)
	}
	listeners := d.listeners
	d.mu.Unlock()

	for _, item := range reaped {
		for _, l := range listeners {
			l.OnDelivery(ctx, item)
		}
	}

	if len(reaped) > 0 {
		d.logger.Info("Reaped stale sending items", zap.Int("count", len(reaped)))
	}
	return len(reaped), errors.Join(errs...)
}

// RunReaper calls ReapStale on every tick until ctx is done
func (d *Dispatcher) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Reaper shutting down")
			return
		case <-ticker.C:
			if _, err := d.ReapStale(ctx); err != nil {
				d.logger.Error("Failed to reap stale items", zap.Error(err))
			}
		}
	}
}

// Remaining returns today's unused quota for an account
func (d *Dispatcher) Remaining(ctx context.Context, accountID string) (int, error) {
	used, err := d.repo.CountActiveSince(ctx, accountID, d.startOfDay(d.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to count daily sends: %w", err)
	}
	if used >= d.settings.DailyLimit {
		return 0, nil
	}
	return d.settings.DailyLimit - used, nil
}

// StartOfDay returns midnight of t in the quota timezone
func (d *Dispatcher) StartOfDay(t time.Time) time.Time {
	return d.startOfDay(t)
}

func (d *Dispatcher) startOfDay(t time.Time) time.Time {
	local := t.In(d.settings.Location)
	y, m, day := local.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.settings.Location)
}

func dedupTargets(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Render fills the per-user placeholders of a message template
func Render(template, userID string) string {
	return strings.NewReplacer("{username}", userID, "{user_id}", userID).Replace(template)
}
