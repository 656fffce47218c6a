package main

import (
	"database/sql"
	"net/http"
	"time"

	"prank-platform/internal/httpapi"
	"prank-platform/internal/metrics"
	"prank-platform/internal/rbac"
	"prank-platform/internal/telephony"
	"prank-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	authMW  gin.HandlerFunc
	limiter *httpapi.RateLimiter
	metrics *metrics.Metrics
	db      *sql.DB
	webhook telephony.WebhookHandler
	api     httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.metrics != nil {
		r.GET("/metrics", gin.WrapH(d.metrics.Handler()))
	}

	// Provider webhooks (public, shared-secret checked by the handler).
	r.POST("/webhooks/voice", d.webhook.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW, rbac.RequireOwner())
	if d.limiter != nil {
		v1.Use(d.limiter.Middleware())
	}
	{
		v1.GET("/calls/:id", d.api.GetCall)
		v1.GET("/balance", d.api.GetBalance)
		v1.GET("/reports/calls", d.api.CallsReport)

		// OPS routes
		ops := v1.Group("")
		ops.Use(rbac.RequireAnyRole(rbac.RoleOperator))
		{
			ops.GET("/caller-identities", d.api.ListCallerIdentities)
			ops.POST("/queue/promote", d.api.PromoteQueue)
			ops.POST("/admin/credits", d.api.AdminCredit)
		}
	}
}
