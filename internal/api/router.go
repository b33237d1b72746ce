package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/handlers"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/normalize"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/telemetry"
)

func NewRouter(manager *service.FlowManager, verifier gateway.WebhookVerifier, normalizers *normalize.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "flow-orchestrator"})
	})

	// Flow routes
	flowHandler := handlers.NewFlowHandler(manager)
	r.POST("/flows", flowHandler.StartFlow)
	r.GET("/flows/:id/state", flowHandler.GetFlowState)
	r.POST("/flows/:id/confirm", flowHandler.Command(flow.CmdConfirm))
	r.POST("/flows/:id/cancel", flowHandler.Command(flow.CmdCancel))
	r.POST("/flows/:id/refresh", flowHandler.Command(flow.CmdRefresh))
	r.POST("/flows/:id/reset", flowHandler.Command(flow.CmdReset))
	r.GET("/flows/:id/fallback", flowHandler.GetFallbackState)
	r.POST("/flows/:id/fallback-response", flowHandler.FallbackResponse)
	r.POST("/flows/:id/capture", flowHandler.PostAuth(service.PostAuthCapture))
	r.POST("/flows/:id/refund", flowHandler.PostAuth(service.PostAuthRefund))
	r.POST("/flows/:id/void", flowHandler.PostAuth(service.PostAuthVoid))

	// Provider callbacks
	webhookHandler := handlers.NewWebhookHandler(manager, verifier, normalizers)
	r.POST("/webhooks/:provider", webhookHandler.HandleWebhook)
	r.GET("/return/:provider", webhookHandler.HandleRedirectReturn)

	return r
}
