package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/dto"
)

// createCampaign handles POST /campaigns
func (h *Handler) createCampaign(c *gin.Context) {
	var req dto.CreateCampaignRequest
	if !h.bind(c, &req, "campaign") {
		return
	}

	resp, err := h.campaigns.CreateCampaign(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to create campaign",
			zap.String("account_id", req.AccountID),
			zap.Int("target_count", len(req.Targets)))
		return
	}

	h.log.Info("Campaign queued",
		zap.String("campaign_id", resp.Campaign.ID),
		zap.String("account_id", req.AccountID),
		zap.Int("items", len(resp.Items)))

	c.JSON(http.StatusCreated, resp)
}

// getCampaign handles GET /campaigns/:id
func (h *Handler) getCampaign(c *gin.Context) {
	campaignID := c.Param("id")

	resp, err := h.campaigns.GetCampaign(c.Request.Context(), campaignID)
	if err != nil {
		h.fail(c, err, "Failed to load campaign", zap.String("campaign_id", campaignID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// cancelCampaign handles POST /campaigns/:id/cancel
func (h *Handler) cancelCampaign(c *gin.Context) {
	campaignID := c.Param("id")

	campaign, err := h.campaigns.CancelCampaign(c.Request.Context(), campaignID)
	if err != nil {
		h.fail(c, err, "Failed to cancel campaign", zap.String("campaign_id", campaignID))
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// claimItem handles POST /campaigns/:id/claim
func (h *Handler) claimItem(c *gin.Context) {
	campaignID := c.Param("id")

	item, err := h.campaigns.Claim(c.Request.Context(), campaignID)
	if err != nil {
		h.fail(c, err, "Failed to claim item", zap.String("campaign_id", campaignID))
		return
	}
	c.JSON(http.StatusOK, item)
}

// reportStatus handles POST /dm/items/:id/status
func (h *Handler) reportStatus(c *gin.Context) {
	itemID := c.Param("id")

	var req dto.ReportStatusRequest
	if !h.bind(c, &req, "status report") {
		return
	}

	item, err := h.campaigns.ReportStatus(c.Request.Context(), itemID, &req)
	if err != nil {
		h.fail(c, err, "Failed to record status",
			zap.String("item_id", itemID),
			zap.String("status", req.Status))
		return
	}
	c.JSON(http.StatusOK, item)
}

// unlock handles POST /accounts/:id/unlock. The body is optional.
func (h *Handler) unlock(c *gin.Context) {
	accountID := c.Param("id")

	var req dto.UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.log.Warn("Invalid unlock request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.campaigns.Unlock(c.Request.Context(), accountID, &req)
	if err != nil {
		h.fail(c, err, "Failed to unlock sending", zap.String("account_id", accountID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// lock handles DELETE /accounts/:id/unlock
func (h *Handler) lock(c *gin.Context) {
	accountID := c.Param("id")

	resp, err := h.campaigns.Lock(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, err, "Failed to lock sending", zap.String("account_id", accountID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getQuota handles GET /accounts/:id/quota
func (h *Handler) getQuota(c *gin.Context) {
	accountID := c.Param("id")

	resp, err := h.campaigns.Quota(c.Request.Context(), accountID)
	if err != nil {
		h.fail(c, err, "Failed to read quota", zap.String("account_id", accountID))
		return
	}
	c.JSON(http.StatusOK, resp)
}
