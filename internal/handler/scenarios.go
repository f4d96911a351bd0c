package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/dto"
)

// defineScenario handles POST /scenarios
func (h *Handler) defineScenario(c *gin.Context) {
	var req dto.DefineScenarioRequest
	if !h.bind(c, &req, "scenario") {
		return
	}

	def, err := h.scenarios.DefineScenario(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to define scenario",
			zap.String("account_id", req.AccountID),
			zap.String("trigger_type", req.TriggerType))
		return
	}
	c.JSON(http.StatusOK, def)
}

// trigger handles POST /scenarios/triggers
func (h *Handler) trigger(c *gin.Context) {
	var req dto.TriggerRequest
	if !h.bind(c, &req, "trigger") {
		return
	}

	resp, err := h.scenarios.Trigger(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to enroll user",
			zap.String("account_id", req.AccountID),
			zap.String("user_id", req.UserID),
			zap.String("trigger_type", req.TriggerType))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// cancelEnrollment handles POST /enrollments/:id/cancel
func (h *Handler) cancelEnrollment(c *gin.Context) {
	enrollmentID := c.Param("id")

	enrollment, err := h.scenarios.CancelEnrollment(c.Request.Context(), enrollmentID)
	if err != nil {
		h.fail(c, err, "Failed to cancel enrollment", zap.String("enrollment_id", enrollmentID))
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

// observeGoal handles POST /goals
func (h *Handler) observeGoal(c *gin.Context) {
	var req dto.GoalRequest
	if !h.bind(c, &req, "goal") {
		return
	}

	resp, err := h.scenarios.ObserveGoal(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err, "Failed to record goal event",
			zap.String("account_id", req.AccountID),
			zap.String("user_id", req.UserID))
		return
	}
	c.JSON(http.StatusOK, resp)
}
