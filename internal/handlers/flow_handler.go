package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/fallback"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/telemetry"
)

type FlowHandler struct {
	manager *service.FlowManager
}

func NewFlowHandler(manager *service.FlowManager) *FlowHandler {
	return &FlowHandler{manager: manager}
}

type startFlowRequest struct {
	FlowID    string            `json:"flow_id" binding:"required"`
	Provider  string            `json:"provider" binding:"required"`
	OrderID   string            `json:"order_id" binding:"required"`
	Amount    int64             `json:"amount" binding:"required"`
	Currency  string            `json:"currency" binding:"required"`
	Method    string            `json:"method"`
	ReturnURL string            `json:"return_url"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *FlowHandler) StartFlow(c *gin.Context) {
	var body startFlowRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		telemetry.Logger.Error("Error decoding start request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	amount, err := models.NewMoney(body.Amount, body.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderID, err := models.NewOrderID(body.OrderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.manager.Start(body.FlowID, body.Provider, &models.PaymentRequest{
		OrderID:   orderID,
		Amount:    amount,
		Method:    body.Method,
		ReturnURL: body.ReturnURL,
		Metadata:  body.Metadata,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, snapshotResponse(snap))
}

func (h *FlowHandler) GetFlowState(c *gin.Context) {
	flowID := c.Param("id")

	snap, ok := h.manager.Snapshot(flowID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
		return
	}

	c.JSON(http.StatusOK, snapshotResponse(snap))
}

// Command handles the confirm/cancel/refresh/reset flow commands.
func (h *FlowHandler) Command(cmd flow.EventType) gin.HandlerFunc {
	return func(c *gin.Context) {
		flowID := c.Param("id")

		snap, err := h.manager.Command(flowID, cmd)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
			return
		}

		c.JSON(http.StatusOK, snapshotResponse(snap))
	}
}

type fallbackResponseRequest struct {
	EventID          string `json:"event_id" binding:"required"`
	Accepted         bool   `json:"accepted"`
	SelectedProvider string `json:"selected_provider"`
}

func (h *FlowHandler) FallbackResponse(c *gin.Context) {
	flowID := c.Param("id")

	var body fallbackResponseRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := h.manager.HandleFallbackResponse(flowID, fallback.UserResponse{
		EventID:          body.EventID,
		Accepted:         body.Accepted,
		SelectedProvider: body.SelectedProvider,
		Timestamp:        time.Now(),
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
		return
	}

	// Stale and unknown responses are dropped internally; the caller
	// always gets the current fallback state back.
	state, _ := h.manager.FallbackState(flowID)
	c.JSON(http.StatusOK, gin.H{"flow_id": flowID, "fallback": state})
}

type postAuthRequest struct {
	Reason string `json:"reason"`
}

// PostAuth handles the capture/refund/void money-movement operations on a
// settled flow.
func (h *FlowHandler) PostAuth(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		flowID := c.Param("id")

		var body postAuthRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		result, err := h.manager.PostAuth(c.Request.Context(), flowID, op, body.Reason)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"flow_id": flowID, "operation": op, "result": result})
	}
}

func (h *FlowHandler) GetFallbackState(c *gin.Context) {
	flowID := c.Param("id")

	state, ok := h.manager.FallbackState(flowID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Flow not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow_id": flowID, "fallback": state})
}

func snapshotResponse(snap flow.Snapshot) gin.H {
	resp := gin.H{
		"flow_id":  snap.FlowID,
		"state":    snap.State,
		"provider": snap.Context.Provider,
	}
	if snap.Context.Intent != nil {
		resp["intent"] = snap.Context.Intent
	}
	if snap.Context.LastErr != nil {
		resp["error"] = snap.Context.LastErr
	}
	if len(snap.Context.FallbackCandidates) > 0 {
		resp["fallback_candidates"] = snap.Context.FallbackCandidates
	}
	return resp
}
