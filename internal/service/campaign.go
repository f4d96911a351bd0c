package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/dispatch"
	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
	"github.com/BarkinBalci/livespot-engine/internal/telemetry"
)

var _ CampaignServicer = (*CampaignService)(nil)

var errGateDisabled = errors.New("send gate is not configured")

// CampaignService exposes the DM batch dispatcher to operators and the Delivery Agent
type CampaignService struct {
	dispatcher CampaignDispatcher
	gate       dispatch.Gate
	unlockTTL  time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// NewCampaignService creates a campaign service. gate may be nil.
func NewCampaignService(dispatcher CampaignDispatcher, gate dispatch.Gate, unlockTTL time.Duration, log *zap.Logger) *CampaignService {
	if unlockTTL <= 0 {
		unlockTTL = dispatch.DefaultUnlockTTL
	}
	return &CampaignService{
		dispatcher: dispatcher,
		gate:       gate,
		unlockTTL:  unlockTTL,
		now:        time.Now,
		log:        log,
	}
}

// CreateCampaign queues a DM batch for an account
func (s *CampaignService) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CampaignResponse, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "CampaignService.CreateCampaign", trace.WithAttributes(
		attribute.String("account_id", req.AccountID),
		attribute.Int("targets", len(req.Targets)),
	))
	defer span.End()

	campaign, items, err := s.dispatcher.CreateBatch(ctx, dispatch.BatchRequest{
		AccountID: req.AccountID,
		Label:     req.Label,
		Targets:   req.Targets,
		Template:  req.Template,
		SendMode:  domain.SendMode(strings.ToLower(req.SendMode)),
		LaneCount: req.LaneCount,
		Cap:       req.Cap,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	return &dto.CampaignResponse{Campaign: campaign, Items: items}, nil
}

// GetCampaign returns a campaign with its items
func (s *CampaignService) GetCampaign(ctx context.Context, campaignID string) (*dto.CampaignResponse, error) {
	campaign, items, err := s.dispatcher.Campaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &dto.CampaignResponse{Campaign: campaign, Items: items}, nil
}

// CancelCampaign stops new sends of a campaign
func (s *CampaignService) CancelCampaign(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return s.dispatcher.Cancel(ctx, campaignID)
}

// Claim hands the next queued item of a campaign to the Delivery Agent
func (s *CampaignService) Claim(ctx context.Context, campaignID string) (*domain.DMItem, error) {
	return s.dispatcher.Claim(ctx, campaignID)
}

// ReportStatus records a delivery status reported by the Delivery Agent
func (s *CampaignService) ReportStatus(ctx context.Context, itemID string, req *dto.ReportStatusRequest) (*domain.DMItem, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "CampaignService.ReportStatus", trace.WithAttributes(
		attribute.String("item_id", itemID),
		attribute.String("status", req.Status),
	))
	defer span.End()

	item, err := s.dispatcher.ReportStatus(ctx, itemID, domain.DMStatus(strings.ToLower(req.Status)), req.Detail)
	if err != nil {
		return nil, fail(span, err)
	}
	return item, nil
}

// Unlock opens the send gate of an account until the TTL runs out
func (s *CampaignService) Unlock(ctx context.Context, accountID string, req *dto.UnlockRequest) (*dto.UnlockResponse, error) {
	if s.gate == nil {
		return nil, errGateDisabled
	}

	ttl := s.unlockTTL
	if req != nil && req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	if err := s.gate.Unlock(ctx, accountID, ttl); err != nil {
		return nil, err
	}

	expires := s.now().Add(ttl).UTC()
	s.log.Info("Sending unlocked", zap.String("account_id", accountID), zap.Duration("ttl", ttl))
	return &dto.UnlockResponse{AccountID: accountID, Unlocked: true, ExpiresAt: &expires}, nil
}

// Lock closes the send gate of an account immediately
func (s *CampaignService) Lock(ctx context.Context, accountID string) (*dto.UnlockResponse, error) {
	if s.gate == nil {
		return nil, errGateDisabled
	}
	if err := s.gate.Lock(ctx, accountID); err != nil {
		return nil, err
	}

	s.log.Info("Sending locked", zap.String("account_id", accountID))
	return &dto.UnlockResponse{AccountID: accountID, Unlocked: false}, nil
}

// Quota returns today's unused DM quota of an account
func (s *CampaignService) Quota(ctx context.Context, accountID string) (*dto.QuotaResponse, error) {
	remaining, err := s.dispatcher.Remaining(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota: %w", err)
	}
	return &dto.QuotaResponse{AccountID: accountID, Remaining: remaining}, nil
}
