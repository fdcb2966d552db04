package main

import (
	"dialer-platform/internal/auth"
	"dialer-platform/internal/events"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/metrics"
	"dialer-platform/internal/telephony"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	handlers    httpapi.Handlers
	authManager *auth.Manager
	hub         *events.Hub
	webhooks    telephony.WebhookHandler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to
// internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// Transport webhooks (public).
	// NOTE: protect these with gateway signature validation or network
	// policy in production.
	r.POST("/webhooks/telephony/call-ended", deps.webhooks.HandleCallEnded)
	r.POST("/webhooks/telephony/keypress", deps.webhooks.HandleKeypress)

	// Operator dashboard event stream.
	r.GET("/ws/events", deps.hub.ServeWS)

	v1 := r.Group("/v1")
	{
		v1.POST("/auth/login", deps.handlers.Login)

		protected := v1.Group("")
		protected.Use(auth.RequireAccessToken(deps.authManager))
		{
			// Observability: any authenticated role.
			protected.GET("/status", deps.handlers.Status)
			protected.GET("/pool/:key/diagnose", deps.handlers.DiagnosePool)

			// Operator controls.
			ops := protected.Group("/admin")
			ops.Use(auth.RequireAnyRole(auth.RoleOperator))
			{
				ops.POST("/tick", deps.handlers.ForceTick)
			}

			// Destructive controls are admin-only.
			adm := protected.Group("/admin")
			adm.Use(auth.RequireAnyRole(auth.RoleAdmin))
			{
				adm.POST("/stop", deps.handlers.EmergencyStop)
				adm.POST("/pool/:key/reset", deps.handlers.ResetPool)
			}
		}
	}
}
