package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/normalize"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/telemetry"
)

type WebhookHandler struct {
	manager     *service.FlowManager
	verifier    gateway.WebhookVerifier
	normalizers *normalize.Registry
}

func NewWebhookHandler(manager *service.FlowManager, verifier gateway.WebhookVerifier, normalizers *normalize.Registry) *WebhookHandler {
	return &WebhookHandler{manager: manager, verifier: verifier, normalizers: normalizers}
}

// HandleWebhook receives a provider webhook. Verification runs before any
// normalizer; unverified payloads never reach the core. Irrelevant and
// duplicate deliveries are acknowledged so providers stop retrying.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	providerID := c.Param("provider")

	normalizer := h.normalizers.Lookup(providerID)
	if normalizer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if h.verifier != nil && !h.verifier.Verify(providerID, payload, c.Request.Header) {
		telemetry.Logger.Warn("Rejected unverified webhook",
			zap.String("provider", providerID),
		)
		telemetry.WebhookDropped.WithLabelValues("unverified").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "verification failed"})
		return
	}

	evt := normalizer.NormalizeWebhook(payload, c.Request.Header)
	if evt == nil {
		telemetry.WebhookDropped.WithLabelValues("irrelevant").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if !h.manager.HandleWebhook(c.Request.Context(), evt) {
		telemetry.WebhookDropped.WithLabelValues("unmatched").Inc()
		c.JSON(http.StatusOK, gin.H{"status": "dropped"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// HandleRedirectReturn receives the browser coming back from a provider.
// Repeated query keys are flattened last-occurrence-wins by the normalizer.
func (h *WebhookHandler) HandleRedirectReturn(c *gin.Context) {
	providerID := c.Param("provider")

	normalizer := h.normalizers.Lookup(providerID)
	if normalizer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return
	}

	ret := normalizer.NormalizeRedirect(c.Request.URL.Query())
	if ret == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	snap, ok := h.manager.HandleRedirectReturn(ret)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "dropped"})
		return
	}

	c.JSON(http.StatusOK, snapshotResponse(snap))
}
