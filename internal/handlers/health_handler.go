package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/models"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusCounter reports task counts grouped by status.
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
}

// DepthReporter reports the number of queued instructions.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// OutcomeCounter aggregates recorded delivery attempts per outcome.
type OutcomeCounter interface {
	CountByOutcome(ctx context.Context) (map[string]int64, error)
}

// HealthHandler handles health and statistics requests.
type HealthHandler struct {
	db       Pinger
	tasks    StatusCounter
	queue    DepthReporter
	attempts OutcomeCounter
	logger   *logrus.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db Pinger, tasks StatusCounter, queue DepthReporter, attempts OutcomeCounter, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		db:       db,
		tasks:    tasks,
		queue:    queue,
		attempts: attempts,
		logger:   logger,
	}
}

// HealthResponse represents the service health report.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

// Health godoc
// @Summary Service health
// @Description Report reachability of the task store and the instruction broker
// @Tags monitoring
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Components: map[string]string{"database": "up", "broker": "up"},
	}

	if err := h.db.Ping(ctx); err != nil {
		h.logger.WithError(err).Warn("Database health check failed")
		resp.Components["database"] = "down"
		resp.Status = "degraded"
	}
	if _, err := h.queue.Depth(ctx); err != nil {
		h.logger.WithError(err).Warn("Broker health check failed")
		resp.Components["broker"] = "down"
		resp.Status = "degraded"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// StatsResponse represents queue statistics.
type StatsResponse struct {
	Tasks      map[string]int64 `json:"tasks"`
	Deliveries map[string]int64 `json:"deliveries"`
	QueueDepth int64            `json:"queue_depth"`
}

// Stats godoc
// @Summary Queue statistics
// @Description Report task counts per status and the current broker depth
// @Tags monitoring
// @Produce json
// @Success 200 {object} StatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /stats [get]
func (h *HealthHandler) Stats(c *gin.Context) {
	counts, err := h.tasks.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count tasks")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := StatsResponse{Tasks: make(map[string]int64, len(counts))}
	for status, count := range counts {
		resp.Tasks[string(status)] = count
	}

	deliveries, err := h.attempts.CountByOutcome(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to count delivery attempts")
		deliveries = map[string]int64{}
	}
	resp.Deliveries = deliveries

	depth, err := h.queue.Depth(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to read broker depth")
	} else {
		resp.QueueDepth = depth
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterHealthRoutes registers the monitoring routes.
func RegisterHealthRoutes(r *gin.RouterGroup, h *HealthHandler) {
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
}
