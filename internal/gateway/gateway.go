package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// ErrFinalizeUnsupported is returned by Finalize for providers without a
// finalize step. The flow machine treats it as a no-op, not a failure.
var ErrFinalizeUnsupported = errors.New("finalize not supported by provider")

// ProviderOps is the asynchronous operation contract consumed by the flow
// machine. Implementations own transport, SDKs and retries; every failure
// must come back as a *models.PaymentError (except the finalize sentinel).
type ProviderOps interface {
	StartPayment(ctx context.Context, providerID string, req *models.PaymentRequest) (*models.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error)
	CancelPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error)
	GetStatus(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error)
	Finalize(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error)
}

// PostAuthResult is the outcome of a capture, refund or void.
type PostAuthResult struct {
	Status    string    `json:"status"` // succeeded, pending, failed
	Reference string    `json:"reference,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PostAuthRequest addresses an authorized intent for money movement.
type PostAuthRequest struct {
	Provider string          `json:"provider"`
	IntentID models.IntentID `json:"intent_id"`
	Amount   models.Money    `json:"amount"`
	Reason   string          `json:"reason,omitempty"`
}

// PostAuthGateway is the post-authorization contract. Implementations talk
// to the provider; the core only forwards requests and records outcomes.
type PostAuthGateway interface {
	Capture(ctx context.Context, req PostAuthRequest) (PostAuthResult, error)
	Refund(ctx context.Context, req PostAuthRequest) (PostAuthResult, error)
	Void(ctx context.Context, req PostAuthRequest) (PostAuthResult, error)
}

// WebhookVerifier authenticates a raw webhook delivery before any normalizer
// sees it.
type WebhookVerifier interface {
	Verify(providerID string, payload []byte, headers map[string][]string) bool
}
