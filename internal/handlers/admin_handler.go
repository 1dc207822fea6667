package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/database"
	"github.com/hookqueue/hookqueue/internal/models"
)

// ApplicationStore is the slice of the application repository the admin
// surface needs.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, name string) (*models.Application, *models.APIKey, error)
	CreateKey(ctx context.Context, appID int64) (*models.APIKey, error)
	DeactivateKey(ctx context.Context, appID int64, value string) error
	DeleteApplication(ctx context.Context, id int64) error
	GetApplication(ctx context.Context, id int64) (*models.Application, error)
	ListKeys(ctx context.Context, appID int64) ([]*models.APIKey, error)
}

// AdminHandler handles application and API key management requests.
type AdminHandler struct {
	apps   ApplicationStore
	logger *logrus.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(apps ApplicationStore, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{apps: apps, logger: logger}
}

// CreateApplicationRequest represents an application registration request.
type CreateApplicationRequest struct {
	Name string `json:"name" binding:"required,max=96"`
}

// CreateApplication godoc
// @Summary Register an application
// @Description Register an application and issue its first API key
// @Tags admin
// @Accept json
// @Produce json
// @Param request body CreateApplicationRequest true "Application details"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} ErrorResponse
// @Router /admin/applications [post]
func (h *AdminHandler) CreateApplication(c *gin.Context) {
	var req CreateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	app, key, err := h.apps.CreateApplication(c.Request.Context(), req.Name)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create application")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"application": app,
		"api_key":     key,
	})
}

// GetApplication godoc
// @Summary Get an application
// @Description Get an application together with all its API keys
// @Tags admin
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} ErrorResponse
// @Router /admin/applications/{id} [get]
func (h *AdminHandler) GetApplication(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
		return
	}

	app, err := h.apps.GetApplication(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get application")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if app == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
		return
	}

	keys, err := h.apps.ListKeys(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list api keys")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"application": app,
		"keys":        keys,
	})
}

// DeleteApplication godoc
// @Summary Delete an application
// @Description Soft-delete an application and revoke all its API keys
// @Tags admin
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /admin/applications/{id} [delete]
func (h *AdminHandler) DeleteApplication(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
		return
	}

	if err := h.apps.DeleteApplication(c.Request.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to delete application")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.logger.WithField("app_id", id).Info("Application deleted")
	c.JSON(http.StatusOK, gin.H{"message": "application deleted"})
}

// CreateKey godoc
// @Summary Issue an API key
// @Description Issue an additional API key for an application
// @Tags admin
// @Produce json
// @Param id path int true "Application ID"
// @Success 201 {object} models.APIKey
// @Failure 404 {object} ErrorResponse
// @Router /admin/applications/{id}/keys [post]
func (h *AdminHandler) CreateKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
		return
	}

	app, err := h.apps.GetApplication(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get application")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if app == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "application not found"})
		return
	}

	key, err := h.apps.CreateKey(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create api key")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"app_id": id,
		"key_id": key.ID,
	}).Info("API key issued")
	c.JSON(http.StatusCreated, key)
}

// DeactivateKey godoc
// @Summary Deactivate an API key
// @Description Revoke an API key without deleting its audit trail
// @Tags admin
// @Produce json
// @Param id path int true "Application ID"
// @Param value path string true "API key value"
// @Success 200 {object} map[string]string
// @Failure 404 {object} ErrorResponse
// @Router /admin/applications/{id}/keys/{value} [delete]
func (h *AdminHandler) DeactivateKey(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "api key not found"})
		return
	}

	if err := h.apps.DeactivateKey(c.Request.Context(), id, c.Param("value")); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "api key not found"})
			return
		}
		h.logger.WithError(err).Error("Failed to deactivate api key")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.logger.WithField("app_id", id).Info("API key deactivated")
	c.JSON(http.StatusOK, gin.H{"message": "api key deactivated"})
}

// RegisterAdminRoutes registers the application management surface behind
// the admin guard.
func RegisterAdminRoutes(r *gin.RouterGroup, h *AdminHandler, guard gin.HandlerFunc) {
	admin := r.Group("/admin", guard)
	{
		admin.POST("/applications", h.CreateApplication)
		admin.GET("/applications/:id", h.GetApplication)
		admin.DELETE("/applications/:id", h.DeleteApplication)
		admin.POST("/applications/:id/keys", h.CreateKey)
		admin.DELETE("/applications/:id/keys/:value", h.DeactivateKey)
	}
}
