package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
	"github.com/BarkinBalci/livespot-engine/internal/dto"
	"github.com/BarkinBalci/livespot-engine/internal/service"
)

type Handler struct {
	sessions  service.SessionServicer
	campaigns service.CampaignServicer
	scenarios service.ScenarioServicer
	router    *gin.Engine
	log       *zap.Logger
}

func NewHandler(sessions service.SessionServicer, campaigns service.CampaignServicer, scenarios service.ScenarioServicer, log *zap.Logger) *Handler {
	h := &Handler{
		sessions:  sessions,
		campaigns: campaigns,
		scenarios: scenarios,
		router:    gin.Default(),
		log:       log,
	}

	h.router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	sessions := h.router.Group("/sessions")
	sessions.POST("", h.openSession)
	sessions.POST("/:id/end", h.endSession)
	sessions.GET("/:id/phase", h.getPhase)
	sessions.POST("/:id/phase", h.setPhaseOverride)
	sessions.POST("/:id/events", h.ingestEvents)
	sessions.GET("/:id/snapshot", h.getSnapshot)
	sessions.GET("/:id/summary", h.getSummary)
	sessions.GET("/:id/alerts", h.getAlerts)
	sessions.GET("/:id/leaderboard", h.getLeaderboard)
	sessions.POST("/:id/insight", h.generateInsight)

	h.router.GET("/segments/classify", h.classify)
	h.router.POST("/alert-rules", h.saveAlertRule)

	campaigns := h.router.Group("/campaigns")
	campaigns.POST("", h.createCampaign)
	campaigns.GET("/:id", h.getCampaign)
	campaigns.POST("/:id/cancel", h.cancelCampaign)
	campaigns.POST("/:id/claim", h.claimItem)
	h.router.POST("/dm/items/:id/status", h.reportStatus)

	accounts := h.router.Group("/accounts")
	accounts.POST("/:id/unlock", h.unlock)
	accounts.DELETE("/:id/unlock", h.lock)
	accounts.GET("/:id/quota", h.getQuota)

	h.router.POST("/scenarios", h.defineScenario)
	h.router.POST("/scenarios/triggers", h.trigger)
	h.router.POST("/enrollments/:id/cancel", h.cancelEnrollment)
	h.router.POST("/goals", h.observeGoal)
}

// healthCheck handles GET /health
func (h *Handler) healthCheck(c *gin.Context) {
	if err := h.sessions.Health(c.Request.Context()); err != nil {
		h.log.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// bind decodes the JSON body into req and answers 400 when it does not validate
func (h *Handler) bind(c *gin.Context, req any, what string) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.log.Warn("Invalid "+what+" request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) bindQuery(c *gin.Context, req any, what string) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		h.log.Warn("Invalid "+what+" request", zap.Error(err))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return false
	}
	return true
}

// fail maps a service error onto a status code and error body
func (h *Handler) fail(c *gin.Context, err error, msg string, fields ...zap.Field) {
	status, code := statusFor(err)
	fields = append(fields, zap.Error(err))

	if status >= http.StatusInternalServerError {
		h.log.Error(msg, fields...)
	} else {
		h.log.Warn(msg, fields...)
	}

	c.JSON(status, dto.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}

func statusFor(err error) (int, string) {
	var quota *domain.QuotaExceededError

	switch {
	case errors.As(err, &quota):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidDefinition),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrCampaignRequired),
		errors.Is(err, domain.ErrNoTargets):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, domain.ErrSendLocked),
		errors.Is(err, domain.ErrTestModeBlocked):
		return http.StatusForbidden, "send_blocked"
	case errors.Is(err, domain.ErrSessionNotLive),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrStatusRegression),
		errors.Is(err, domain.ErrLaneLimit),
		errors.Is(err, domain.ErrCampaignCancelled),
		errors.Is(err, domain.ErrEnrollmentClosed):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrInsightDisabled):
		return http.StatusNotImplemented, "not_configured"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
