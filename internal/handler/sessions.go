package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/dto"
)

// openSession handles POST /sessions
func (h *Handler) openSession(c *gin.Context) {
	var req dto.OpenSessionRequest
	if !h.bind(c, &req, "open session") {
		return
	}

	resp, err := h.sessions.OpenSession(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to open session", zap.String("session_id", req.SessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// endSession handles POST /sessions/:id/end
func (h *Handler) endSession(c *gin.Context) {
	sessionID := c.Param("id")

	resp, err := h.sessions.EndSession(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to end session", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getPhase handles GET /sessions/:id/phase
func (h *Handler) getPhase(c *gin.Context) {
	sessionID := c.Param("id")

	resp, err := h.sessions.Phase(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to resolve phase", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// setPhaseOverride handles POST /sessions/:id/phase
func (h *Handler) setPhaseOverride(c *gin.Context) {
	sessionID := c.Param("id")

	var req dto.PhaseOverrideRequest
	if !h.bind(c, &req, "phase override") {
		return
	}

	resp, err := h.sessions.SetPhaseOverride(c.Request.Context(), sessionID, &req)
	if err != nil {
		h.fail(c, err, "Failed to override phase", zap.String("session_id", sessionID), zap.String("phase", req.Phase))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ingestEvents handles POST /sessions/:id/events
func (h *Handler) ingestEvents(c *gin.Context) {
	sessionID := c.Param("id")

	var req dto.IngestEventsRequest
	if !h.bind(c, &req, "ingest") {
		return
	}

	resp, err := h.sessions.IngestEvents(c.Request.Context(), sessionID, &req)
	if err != nil {
		h.fail(c, err, "Failed to ingest events",
			zap.String("session_id", sessionID),
			zap.Int("event_count", len(req.Events)))
		return
	}

	h.log.Info("Events accepted",
		zap.String("session_id", sessionID),
		zap.Int("accepted", resp.Accepted),
		zap.Int("ignored", resp.Ignored))

	c.JSON(http.StatusAccepted, resp)
}

// getSnapshot handles GET /sessions/:id/snapshot
func (h *Handler) getSnapshot(c *gin.Context) {
	sessionID := c.Param("id")

	snap, err := h.sessions.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to take snapshot", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, snap)
}

// getSummary handles GET /sessions/:id/summary
func (h *Handler) getSummary(c *gin.Context) {
	sessionID := c.Param("id")

	summary, err := h.sessions.Summary(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to summarize session", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// getAlerts handles GET /sessions/:id/alerts
func (h *Handler) getAlerts(c *gin.Context) {
	sessionID := c.Param("id")

	resp, err := h.sessions.Alerts(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to list alerts", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getLeaderboard handles GET /sessions/:id/leaderboard
func (h *Handler) getLeaderboard(c *gin.Context) {
	sessionID := c.Param("id")

	var req dto.LeaderboardRequest
	if !h.bindQuery(c, &req, "leaderboard") {
		return
	}

	resp, err := h.sessions.Leaderboard(c.Request.Context(), sessionID, req.Limit)
	if err != nil {
		h.fail(c, err, "Failed to rank viewers", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// generateInsight handles POST /sessions/:id/insight
func (h *Handler) generateInsight(c *gin.Context) {
	sessionID := c.Param("id")

	resp, err := h.sessions.Insight(c.Request.Context(), sessionID)
	if err != nil {
		h.fail(c, err, "Failed to generate insight", zap.String("session_id", sessionID))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// classify handles GET /segments/classify
func (h *Handler) classify(c *gin.Context) {
	var req dto.ClassifyRequest
	if !h.bindQuery(c, &req, "classify") {
		return
	}
	c.JSON(http.StatusOK, h.sessions.Classify(&req))
}

// saveAlertRule handles POST /alert-rules
func (h *Handler) saveAlertRule(c *gin.Context) {
	var req dto.AlertRuleRequest
	if !h.bind(c, &req, "alert rule") {
		return
	}

	rule, err := h.sessions.SaveAlertRule(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to save alert rule",
			zap.String("account_id", req.AccountID),
			zap.String("rule_type", req.RuleType))
		return
	}
	c.JSON(http.StatusOK, rule)
}
