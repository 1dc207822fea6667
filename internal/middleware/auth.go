package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hookqueue/hookqueue/internal/models"
)

// AppResolver resolves an API key value to its owning application. Inactive
// and deleted keys resolve to nil.
type AppResolver interface {
	GetApplicationByKeyValue(ctx context.Context, value string) (*models.Application, error)
}

// ContextAppKey is the gin context key the authenticated application is
// stored under.
const ContextAppKey = "app"

// APIKeyAuth validates the X-API-Key header against active keys and stores
// the owning application in the request context. The decision is made fresh
// per request, so key revocation applies immediately.
func APIKeyAuth(resolver AppResolver, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.GetHeader("X-API-Key")
		if value == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		app, err := resolver.GetApplicationByKeyValue(c.Request.Context(), value)
		if err != nil {
			logger.WithError(err).Error("Failed to resolve API key")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if app == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(ContextAppKey, app)
		c.Next()
	}
}

// CurrentApp returns the application stored by APIKeyAuth, or nil when the
// request did not pass authentication.
func CurrentApp(c *gin.Context) *models.Application {
	value, ok := c.Get(ContextAppKey)
	if !ok {
		return nil
	}
	app, ok := value.(*models.Application)
	if !ok {
		return nil
	}
	return app
}

// AdminAuth guards the application management endpoints with a static
// token. An empty configured token disables the endpoints entirely.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		if c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
