package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/relaytext/relaytext-billing/internal/config"
	handlers "github.com/relaytext/relaytext-billing/internal/http/api/admin/handlers"
	"github.com/relaytext/relaytext-billing/internal/security"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(jwtCfg))

	accountHandler := handlers.NewAccountHandler(db)
	authed.GET("/accounts", accountHandler.List)
	authed.GET("/accounts/:id", accountHandler.Get)

	eventHandler := handlers.NewBillingEventHandler(db)
	authed.GET("/accounts/:id/events", eventHandler.ListByAccount)

	summaryHandler := handlers.NewBillingSummaryHandler(db)
	authed.GET("/billing/summary", summaryHandler.Summary)
}

// adminAuthMiddleware validates service JWTs on admin endpoints.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
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
