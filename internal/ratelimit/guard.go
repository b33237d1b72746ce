package ratelimit

import (
	"context"
	"strconv"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// Guard wraps a ProviderOps so every outbound call passes an admission
// check first. Rejections come back as normalized payment errors with the
// retry-after in params.
type Guard struct {
	ops     gateway.ProviderOps
	limiter *Limiter
	// OnReject, when set, observes rejected endpoints (metrics).
	OnReject func(endpoint string)
}

func NewGuard(ops gateway.ProviderOps, limiter *Limiter) *Guard {
	return &Guard{ops: ops, limiter: limiter}
}

func (g *Guard) admit(endpoint string) *models.PaymentError {
	d := g.limiter.Allow(endpoint)
	if d.Allowed {
		return nil
	}
	if g.OnReject != nil {
		g.OnReject(endpoint)
	}
	return &models.PaymentError{
		Code:       models.ErrProviderUnavailable,
		MessageKey: "error.rate_limited",
		Params: map[string]string{
			"retry_after_ms": strconv.FormatInt(d.RetryAfter.Milliseconds(), 10),
		},
	}
}

func (g *Guard) StartPayment(ctx context.Context, providerID string, req *models.PaymentRequest) (*models.PaymentIntent, error) {
	if err := g.admit("start"); err != nil {
		return nil, err
	}
	return g.ops.StartPayment(ctx, providerID, req)
}

func (g *Guard) ConfirmPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	if err := g.admit("confirm"); err != nil {
		return nil, err
	}
	return g.ops.ConfirmPayment(ctx, providerID, intentID)
}

func (g *Guard) CancelPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	if err := g.admit("cancel"); err != nil {
		return nil, err
	}
	return g.ops.CancelPayment(ctx, providerID, intentID)
}

func (g *Guard) GetStatus(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	if err := g.admit("status"); err != nil {
		return nil, err
	}
	return g.ops.GetStatus(ctx, providerID, intentID)
}

func (g *Guard) Finalize(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	if err := g.admit("finalize"); err != nil {
		return nil, err
	}
	return g.ops.Finalize(ctx, providerID, intentID)
}
