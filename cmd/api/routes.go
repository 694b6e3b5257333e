package main

import (
	"time"

	"callsignal/internal/config"
	"callsignal/internal/httpapi"
	"callsignal/internal/rbac"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers, rdb *redis.Client, callCfg config.CallsConfig) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.POST("/calls",
			httpapi.RequireInitiateSlot(rdb, callCfg.InitiateCap, 30*time.Second),
			h.InitiateCall,
		)
		v1.GET("/calls/active", h.ActiveCall)
		v1.GET("/calls/history", h.ListCallHistory)
		v1.GET("/calls/history/summary", h.SummarizeCallHistory)
		v1.GET("/calls/:call_id", h.GetCall)
		v1.POST("/calls/:call_id/accept", h.AcceptCall)
		v1.POST("/calls/:call_id/decline", h.DeclineCall)
		v1.POST("/calls/:call_id/status", h.UpdateCallStatus)
		v1.POST("/calls/:call_id/end", h.EndCall)
		v1.PUT("/calls/:call_id/metadata", h.SetCallMetadata)

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/sweep", h.RunSweep)
			admin.GET("/calls/stale", h.ListStaleCalls)
		}
	}
}
