package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaytext/relaytext-billing/internal/config"
	"github.com/relaytext/relaytext-billing/internal/http/api/handlers"
	"github.com/relaytext/relaytext-billing/internal/quota"
	"github.com/relaytext/relaytext-billing/internal/ratelimit"
	"github.com/relaytext/relaytext-billing/internal/security"
	"github.com/relaytext/relaytext-billing/internal/webhook"
	"gorm.io/gorm"
)

// RegisterRoutes registers all engine routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, dispatcher *webhook.Dispatcher, enforcer *quota.Enforcer, limiter *ratelimit.Manager) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	webhookHandler := handlers.NewWebhookHandler(dispatcher)
	r.POST("/v0/webhooks/stripe", webhookHandler.Receive)

	deliveryHandler := handlers.NewDeliveryHandler(enforcer, limiter)
	authed := r.Group("/v0/delivery")
	authed.Use(serviceAuthMiddleware(jwtCfg))
	authed.POST("/check", deliveryHandler.Check)
}

// serviceAuthMiddleware validates service JWTs on internal endpoints.
func serviceAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseServiceToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("service", claims.Service)
		c.Next()
	}
}
