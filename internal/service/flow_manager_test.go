package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/fallback"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/normalize"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/service"
)

// fakeGuard is an in-memory delivery guard with the Redis guard's
// first-delivery semantics.
type fakeGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *fakeGuard) FirstDelivery(_ context.Context, providerID, nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	key := providerID + ":" + nonce
	if g.seen[key] {
		return false
	}
	g.seen[key] = true
	return true
}

func (g *fakeGuard) recorded() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func newManager(t *testing.T, providers map[string]*gateway.MockProvider) *service.FlowManager {
	t.Helper()
	fm, err := service.NewFlowManager(service.Deps{
		Ops: gateway.NewMockOps(providers),
		Normalizers: normalize.NewRegistry(map[string]normalize.Normalizer{
			"stripe": normalize.StripeNormalizer{},
			"paypal": normalize.PayPalNormalizer{},
		}),
		Fallback: fallback.Config{
			Mode:                fallback.ModeManual,
			TriggerErrorCodes:   []models.ErrorCode{models.ErrProviderUnavailable},
			BlockedErrorCodes:   []models.ErrorCode{models.ErrCardDeclined},
			ProviderPriority:    []string{"stripe", "paypal"},
			MaxAttempts:         2,
			UserResponseTimeout: time.Hour,
		},
		Clock:     clockz.RealClock,
		Logger:    zap.NewNop(),
		OpTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return fm
}

func awaitFlowState(t *testing.T, fm *service.FlowManager, flowID string, want flow.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := fm.Snapshot(flowID)
		return ok && snap.State == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func paymentRequest() *models.PaymentRequest {
	return &models.PaymentRequest{
		OrderID: "order-1",
		Amount:  models.Money{Amount: 2500, Currency: "EUR"},
	}
}

func redirectProvider() *gateway.MockProvider {
	return &gateway.MockProvider{
		Start: []gateway.MockOutcome{{
			Status:     models.StatusRequiresAction,
			NextAction: &models.NextAction{Kind: models.ActionRedirect, URL: "https://stripe.test/r"},
		}},
		NoFinalize: true,
	}
}

func TestStartRejectsUnknownProvider(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": {}})

	_, err := fm.Start("flow-1", "adyen", paymentRequest())
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidRequest, models.AsPaymentError(err).Code)

	_, ok := fm.Snapshot("flow-1")
	assert.False(t, ok)
}

func TestRedirectReturnRoutedByReference(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": redirectProvider()})

	snap, err := fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	assert.Equal(t, flow.StateStarting, snap.State)

	awaitFlowState(t, fm, "flow-1", flow.StateRedirect)
	snap, _ = fm.Snapshot("flow-1")
	nonce := snap.Context.Nonce
	require.NotEmpty(t, nonce)

	snap, matched := fm.HandleRedirectReturn(&normalize.CanonicalReturn{
		Provider:    "stripe",
		ReferenceID: nonce,
		Succeeded:   true,
	})
	require.True(t, matched)
	assert.Equal(t, flow.StateFinalizing, snap.State)

	awaitFlowState(t, fm, "flow-1", flow.StateDone)
}

func TestRedirectReturnForUnknownReferenceIsDropped(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": redirectProvider()})

	_, matched := fm.HandleRedirectReturn(&normalize.CanonicalReturn{
		Provider:    "stripe",
		ReferenceID: "pi_never_seen",
		Succeeded:   true,
	})
	assert.False(t, matched)
}

func TestDeclinedRedirectReturnFailsFlow(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": redirectProvider(), "paypal": {}})

	_, err := fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateRedirect)
	snap, _ := fm.Snapshot("flow-1")

	_, matched := fm.HandleRedirectReturn(&normalize.CanonicalReturn{
		Provider:    "stripe",
		ReferenceID: snap.Context.Nonce,
		Succeeded:   false,
	})
	require.True(t, matched)

	// card_declined is blocked from fallback, so the failure is final.
	awaitFlowState(t, fm, "flow-1", flow.StateFailed)
	snap, _ = fm.Snapshot("flow-1")
	require.NotNil(t, snap.Context.LastErr)
	assert.Equal(t, models.ErrCardDeclined, snap.Context.LastErr.Code)
}

func TestWebhookRoutedByReference(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": redirectProvider()})

	_, err := fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateRedirect)
	snap, _ := fm.Snapshot("flow-1")

	delivered := fm.HandleWebhook(context.Background(), &normalize.CanonicalEvent{
		Provider:    "stripe",
		ReferenceID: snap.Context.Nonce,
		Status:      string(models.StatusSucceeded),
		EventType:   "payment_intent.succeeded",
	})
	assert.True(t, delivered)
	awaitFlowState(t, fm, "flow-1", flow.StateDone)

	delivered = fm.HandleWebhook(context.Background(), &normalize.CanonicalEvent{
		Provider:    "stripe",
		ReferenceID: "pi_unknown",
		Status:      string(models.StatusSucceeded),
		EventType:   "payment_intent.succeeded",
	})
	assert.False(t, delivered)
}

func TestEarlyWebhookStaysDeliverableOnRetry(t *testing.T) {
	guard := &fakeGuard{}
	fm, err := service.NewFlowManager(service.Deps{
		Ops: gateway.NewMockOps(map[string]*gateway.MockProvider{"stripe": redirectProvider()}),
		Normalizers: normalize.NewRegistry(map[string]normalize.Normalizer{
			"stripe": normalize.StripeNormalizer{},
		}),
		Fallback: fallback.Config{
			Mode:                fallback.ModeManual,
			ProviderPriority:    []string{"stripe"},
			MaxAttempts:         1,
			UserResponseTimeout: time.Hour,
		},
		Clock:      clockz.RealClock,
		NonceGuard: guard,
		Logger:     zap.NewNop(),
		OpTimeout:  5 * time.Second,
	})
	require.NoError(t, err)

	settled := &normalize.CanonicalEvent{
		Provider:    "stripe",
		ReferenceID: "stripe_intent_1",
		Status:      string(models.StatusSucceeded),
		EventType:   "payment_intent.succeeded",
	}

	// The webhook races flow creation and arrives first. It must not
	// burn its dedup key, or the provider's retry would be suppressed.
	assert.False(t, fm.HandleWebhook(context.Background(), settled))
	assert.Zero(t, guard.recorded())

	_, err = fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateRedirect)
	snap, _ := fm.Snapshot("flow-1")
	require.Equal(t, "stripe_intent_1", snap.Context.Nonce)

	// The retry of the same delivery now matches and settles the flow.
	assert.True(t, fm.HandleWebhook(context.Background(), settled))
	awaitFlowState(t, fm, "flow-1", flow.StateDone)

	// A further replay is a duplicate.
	assert.False(t, fm.HandleWebhook(context.Background(), settled))
}

func TestCommandOnUnknownFlow(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{"stripe": {}})

	_, err := fm.Command("missing", flow.CmdCancel)
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidRequest, models.AsPaymentError(err).Code)

	err = fm.HandleFallbackResponse("missing", fallback.UserResponse{EventID: "x", Accepted: true})
	assert.Error(t, err)
}

func TestFallbackResponseRouting(t *testing.T) {
	unavailable := models.NewPaymentError(models.ErrProviderUnavailable, "error.unavailable")
	fm := newManager(t, map[string]*gateway.MockProvider{
		"stripe": {Start: []gateway.MockOutcome{{Err: unavailable}}},
		"paypal": {NoFinalize: true},
	})

	_, err := fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateFallbackCandidate)

	fb, ok := fm.FallbackState("flow-1")
	require.True(t, ok)
	require.NotNil(t, fb.PendingEvent)

	err = fm.HandleFallbackResponse("flow-1", fallback.UserResponse{
		EventID:  fb.PendingEvent.EventID,
		Accepted: true,
	})
	require.NoError(t, err)

	awaitFlowState(t, fm, "flow-1", flow.StateDone)
	fb, _ = fm.FallbackState("flow-1")
	assert.Equal(t, fallback.StatusCompleted, fb.Status)
}

func TestPostAuthRequiresSettledFlow(t *testing.T) {
	fm, err := service.NewFlowManager(service.Deps{
		Ops:      gateway.NewMockOps(map[string]*gateway.MockProvider{"stripe": redirectProvider()}),
		PostAuth: gateway.MockPostAuth{},
		Normalizers: normalize.NewRegistry(map[string]normalize.Normalizer{
			"stripe": normalize.StripeNormalizer{},
		}),
		Fallback: fallback.Config{
			Mode:                fallback.ModeManual,
			ProviderPriority:    []string{"stripe"},
			MaxAttempts:         1,
			UserResponseTimeout: time.Hour,
		},
		Clock:     clockz.RealClock,
		Logger:    zap.NewNop(),
		OpTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	_, err = fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateRedirect)

	// Money movement is refused until the flow settles.
	_, err = fm.PostAuth(context.Background(), "flow-1", service.PostAuthCapture, "")
	require.Error(t, err)
	assert.Equal(t, models.ErrInvalidRequest, models.AsPaymentError(err).Code)

	snap, _ := fm.Snapshot("flow-1")
	_, matched := fm.HandleRedirectReturn(&normalize.CanonicalReturn{
		Provider:    "stripe",
		ReferenceID: snap.Context.Nonce,
		Succeeded:   true,
	})
	require.True(t, matched)
	awaitFlowState(t, fm, "flow-1", flow.StateDone)

	result, err := fm.PostAuth(context.Background(), "flow-1", service.PostAuthCapture, "")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", result.Status)

	result, err = fm.PostAuth(context.Background(), "flow-1", service.PostAuthRefund, "customer request")
	require.NoError(t, err)
	assert.Equal(t, "pending", result.Status)

	_, err = fm.PostAuth(context.Background(), "flow-1", "settle", "")
	assert.Error(t, err)

	_, err = fm.PostAuth(context.Background(), "missing", service.PostAuthVoid, "")
	assert.Error(t, err)
}

func TestExternalStatusPush(t *testing.T) {
	fm := newManager(t, map[string]*gateway.MockProvider{
		"stripe": {
			Start: []gateway.MockOutcome{{
				Status:     models.StatusRequiresAction,
				NextAction: &models.NextAction{Kind: models.ActionExternalWait},
			}},
			NoFinalize: true,
		},
	})

	_, err := fm.Start("flow-1", "stripe", paymentRequest())
	require.NoError(t, err)
	awaitFlowState(t, fm, "flow-1", flow.StateExternalWait)

	delivered := fm.HandleExternalStatus("flow-1", "stripe", models.StatusSucceeded)
	assert.True(t, delivered)
	awaitFlowState(t, fm, "flow-1", flow.StateDone)

	assert.False(t, fm.HandleExternalStatus("missing", "stripe", models.StatusSucceeded))
}
