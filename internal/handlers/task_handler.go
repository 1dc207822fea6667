package handlers

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/broker"
	"github.com/hookqueue/hookqueue/internal/config"
	"github.com/hookqueue/hookqueue/internal/middleware"
	"github.com/hookqueue/hookqueue/internal/models"
)

// Validation messages returned by the enqueue endpoint.
const (
	msgInvalidURL     = "You must provide a valid web hook URL."
	msgInvalidTimeout = "You must provide a valid integer timeout."
)

var webhookURLPattern = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)

// ErrorResponse is the error payload returned by all handlers.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TaskStore is the slice of the task repository the HTTP surface needs.
type TaskStore interface {
	Insert(ctx context.Context, task *models.Task) error
	GetByID(ctx context.Context, id int64) (*models.Task, error)
}

// InstructionPusher publishes task instructions for the worker engine.
type InstructionPusher interface {
	Push(ctx context.Context, instruction string) error
}

// AttemptLister reads the delivery audit trail of a task.
type AttemptLister interface {
	ListByTask(ctx context.Context, taskID int64, limit int) ([]*models.DeliveryAttempt, error)
}

// TaskHandler handles task enqueue and status requests.
type TaskHandler struct {
	store             TaskStore
	queue             InstructionPusher
	attempts          AttemptLister
	defaultTimeout    int
	proxyHeaderPrefix string
	logger            *logrus.Logger
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(store TaskStore, queue InstructionPusher, attempts AttemptLister, cfg config.EnqueueConfig, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		store:             store,
		queue:             queue,
		attempts:          attempts,
		defaultTimeout:    cfg.DefaultTimeout,
		proxyHeaderPrefix: textproto.CanonicalMIMEHeaderKey(cfg.ProxyHeaderPrefix),
		logger:            logger,
	}
}

// TaskResponse is the JSON representation of a task.
type TaskResponse struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	URL        string `json:"url"`
	RetryCount int    `json:"retry_count"`
	Timeout    int    `json:"timeout"`
	Due        string `json:"due"`
	Created    string `json:"created"`
	Modified   string `json:"modified"`
}

func newTaskResponse(task *models.Task) TaskResponse {
	return TaskResponse{
		ID:         task.ID,
		Status:     string(task.Status),
		URL:        task.URL,
		RetryCount: task.RetryCount,
		Timeout:    task.Timeout,
		Due:        task.Due.UTC().Format(time.RFC3339),
		Created:    task.Created.UTC().Format(time.RFC3339),
		Modified:   task.Modified.UTC().Format(time.RFC3339),
	}
}

// Enqueue godoc
// @Summary Enqueue a webhook delivery task
// @Description Persist a task owned by the calling application and schedule its first delivery attempt
// @Tags tasks
// @Accept */*
// @Produce json
// @Param url query string true "Webhook URL the body is POSTed to"
// @Param timeout query int false "Per-attempt HTTP timeout in seconds"
// @Success 201 {object} TaskResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router / [post]
func (h *TaskHandler) Enqueue(c *gin.Context) {
	url := c.Query("url")
	if url == "" || !webhookURLPattern.MatchString(url) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgInvalidURL})
		return
	}

	timeout := h.defaultTimeout
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgInvalidTimeout})
			return
		}
		timeout = parsed
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "failed to read request body"})
		return
	}

	app := middleware.CurrentApp(c)
	if app == nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	task := &models.Task{
		AppID:   app.ID,
		URL:     url,
		Body:    body,
		Timeout: timeout,
		Headers: h.passThroughHeaders(c.Request.Header),
	}
	task.Enctype, task.Charset = parseContentType(c.GetHeader("Content-Type"))

	if err := h.store.Insert(c.Request.Context(), task); err != nil {
		h.logger.WithError(err).Error("Failed to insert task")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// A lost publication is recovered by the due scanner, so the enqueue
	// stays successful once the row is persisted.
	instruction := broker.FormatInstruction(task.ID, task.RetryCount)
	if err := h.queue.Push(c.Request.Context(), instruction); err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).
			Warn("Failed to publish instruction, leaving task for the due scanner")
	}

	h.logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"app_id":  task.AppID,
		"url":     task.URL,
	}).Info("Task enqueued")

	c.Header("Location", "/tasks/"+strconv.FormatInt(task.ID, 10))
	c.JSON(http.StatusCreated, newTaskResponse(task))
}

// GetTask godoc
// @Summary Get task status
// @Description Get the current state of a task owned by the calling application
// @Tags tasks
// @Produce json
// @Param id path int true "Task ID"
// @Success 200 {object} TaskResponse
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id} [get]
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, ok := h.lookupOwnedTask(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newTaskResponse(task))
}

// GetTaskAttempts godoc
// @Summary List delivery attempts for a task
// @Description Get the recorded delivery attempts of a task owned by the calling application, newest first
// @Tags tasks
// @Produce json
// @Param id path int true "Task ID"
// @Param limit query int false "Maximum number of attempts to return"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /tasks/{id}/attempts [get]
func (h *TaskHandler) GetTaskAttempts(c *gin.Context) {
	task, ok := h.lookupOwnedTask(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	attempts, err := h.attempts.ListByTask(c.Request.Context(), task.ID, limit)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to list delivery attempts")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if attempts == nil {
		attempts = []*models.DeliveryAttempt{}
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":  task.ID,
		"attempts": attempts,
	})
}

// lookupOwnedTask resolves the :id path parameter to a task owned by the
// calling application, writing the error response itself when it cannot.
// Tasks of other applications are reported as absent.
func (h *TaskHandler) lookupOwnedTask(c *gin.Context) (*models.Task, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return nil, false
	}

	task, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).WithField("task_id", id).Error("Failed to get task")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}

	app := middleware.CurrentApp(c)
	if task == nil || app == nil || task.AppID != app.ID {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
		return nil, false
	}
	return task, true
}

// Banner godoc
// @Summary Service banner
// @Tags tasks
// @Produce json
// @Success 200 {object} map[string]string
// @Router / [get]
func (h *TaskHandler) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "hookqueue",
		"status":  "ok",
	})
}

// passThroughHeaders collects request headers carrying the proxy prefix,
// strips the prefix and keeps the first value of each.
func (h *TaskHandler) passThroughHeaders(header http.Header) map[string]string {
	headers := map[string]string{}
	for name, values := range header {
		if !strings.HasPrefix(name, h.proxyHeaderPrefix) || len(values) == 0 {
			continue
		}
		stripped := name[len(h.proxyHeaderPrefix):]
		if stripped == "" {
			continue
		}
		headers[stripped] = values[0]
	}
	return headers
}

// parseContentType splits a Content-Type header into the stored enctype and
// charset, falling back to the service defaults.
func parseContentType(contentType string) (enctype, charset string) {
	enctype = models.DefaultEnctype
	charset = models.DefaultCharset
	if contentType == "" {
		return enctype, charset
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return enctype, charset
	}
	enctype = mediaType
	if cs := params["charset"]; cs != "" {
		charset = cs
	}
	return enctype, charset
}

// RegisterTaskRoutes registers the public task surface. The auth middleware
// guards everything except the banner.
func RegisterTaskRoutes(r *gin.RouterGroup, h *TaskHandler, auth gin.HandlerFunc) {
	r.GET("/", h.Banner)

	authed := r.Group("", auth)
	{
		authed.POST("/", h.Enqueue)
		authed.GET("/tasks/:id", h.GetTask)
		authed.GET("/tasks/:id/attempts", h.GetTaskAttempts)
	}
}
