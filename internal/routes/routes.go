package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	handler "settlement-reconciliation-engine/internal/handlers"
	service "settlement-reconciliation-engine/internal/services/reconciliation"
)

// Pinger checks a backing dependency for the health endpoint.
type Pinger interface {
	PingContext(ctx context.Context) error
}

func RegisterRoutes(r *gin.Engine, svc *service.ReconciliationService, db Pinger, log *zap.Logger, maxUploadBytes int64) {
	reconHandler := handler.NewReconciliationHandler(svc, log, maxUploadBytes)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Health check
	api.GET("/health", func(c *gin.Context) {
		checks := gin.H{"database": "not configured"}
		status := http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				checks["database"] = "unhealthy: " + err.Error()
				status = http.StatusServiceUnavailable
			} else {
				checks["database"] = "healthy"
			}
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	})

	// Import sessions
	recon := api.Group("/reconciliation", handler.RequireOrganization())
	recon.POST("/upload", reconHandler.Upload)
	recon.GET("/sessions", reconHandler.ListSessions)
	recon.GET("/sessions/:sessionId", reconHandler.GetSession)
	recon.GET("/sessions/:sessionId/progress", reconHandler.GetProgress)
	recon.GET("/sessions/:sessionId/events", reconHandler.StreamProgress)
	recon.GET("/sessions/:sessionId/result", reconHandler.GetResult)
	recon.GET("/sessions/:sessionId/transactions", reconHandler.ListTransactions)
	recon.GET("/sessions/:sessionId/stats", reconHandler.GetStats)
	recon.GET("/sessions/:sessionId/audit", reconHandler.GetAuditLog)
	recon.POST("/sessions/:sessionId/close", reconHandler.CloseSession)

	// Transaction-level decisions
	tx := recon.Group("/sessions/:sessionId/transactions/:id")
	tx.POST("/approve", reconHandler.ApproveMatch)
	tx.POST("/reject", reconHandler.RejectMatch)
	tx.POST("/match", reconHandler.ManualMatch)
	tx.POST("/unmatched", reconHandler.MarkUnmatched)
}
