package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// MockOutcome scripts one provider response for the mock gateway.
type MockOutcome struct {
	Status     models.IntentStatus
	NextAction *models.NextAction
	Err        *models.PaymentError
}

// MockProvider simulates one provider with scripted per-operation outcomes.
// Unscripted operations succeed immediately.
type MockProvider struct {
	Start            []MockOutcome
	Confirm          []MockOutcome
	Cancel           []MockOutcome
	Status           []MockOutcome
	FinalizeOutcomes []MockOutcome
	NoFinalize       bool
}

// MockOps is a ProviderOps implementation backed by scripted providers,
// used by the demo wiring and tests.
type MockOps struct {
	mu        sync.Mutex
	providers map[string]*MockProvider
	seq       int
}

func NewMockOps(providers map[string]*MockProvider) *MockOps {
	if providers == nil {
		providers = make(map[string]*MockProvider)
	}
	return &MockOps{providers: providers}
}

func (m *MockOps) next(script *[]MockOutcome) MockOutcome {
	if len(*script) == 0 {
		return MockOutcome{Status: models.StatusSucceeded}
	}
	out := (*script)[0]
	*script = (*script)[1:]
	return out
}

func (m *MockOps) intent(providerID string, status models.IntentStatus, action *models.NextAction, amount models.Money) *models.PaymentIntent {
	m.seq++
	return &models.PaymentIntent{
		ID:         models.IntentID(fmt.Sprintf("%s_intent_%d", providerID, m.seq)),
		Provider:   providerID,
		Status:     status,
		Amount:     amount,
		NextAction: action,
		CreatedAt:  time.Now(),
	}
}

func (m *MockOps) StartPayment(ctx context.Context, providerID string, req *models.PaymentRequest) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return nil, models.NewPaymentError(models.ErrProviderUnavailable, "error.provider_unknown")
	}
	out := m.next(&p.Start)
	if out.Err != nil {
		return nil, out.Err
	}
	return m.intent(providerID, out.Status, out.NextAction, req.Amount), nil
}

func (m *MockOps) ConfirmPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	return m.scripted(providerID, intentID, func(p *MockProvider) *[]MockOutcome { return &p.Confirm })
}

func (m *MockOps) CancelPayment(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return nil, models.NewPaymentError(models.ErrProviderUnavailable, "error.provider_unknown")
	}
	out := m.next(&p.Cancel)
	if out.Err != nil {
		return nil, out.Err
	}
	status := out.Status
	if len(p.Cancel) == 0 && status == models.StatusSucceeded {
		status = models.StatusCanceled
	}
	return m.existing(providerID, intentID, status, out.NextAction), nil
}

func (m *MockOps) GetStatus(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	return m.scripted(providerID, intentID, func(p *MockProvider) *[]MockOutcome { return &p.Status })
}

func (m *MockOps) Finalize(ctx context.Context, providerID string, intentID models.IntentID) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return nil, models.NewPaymentError(models.ErrProviderUnavailable, "error.provider_unknown")
	}
	if p.NoFinalize {
		return nil, ErrFinalizeUnsupported
	}
	out := m.next(&p.FinalizeOutcomes)
	if out.Err != nil {
		return nil, out.Err
	}
	return m.existing(providerID, intentID, out.Status, out.NextAction), nil
}

func (m *MockOps) scripted(providerID string, intentID models.IntentID, pick func(*MockProvider) *[]MockOutcome) (*models.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.providers[providerID]
	if !ok {
		return nil, models.NewPaymentError(models.ErrProviderUnavailable, "error.provider_unknown")
	}
	out := m.next(pick(p))
	if out.Err != nil {
		return nil, out.Err
	}
	return m.existing(providerID, intentID, out.Status, out.NextAction), nil
}

func (m *MockOps) existing(providerID string, intentID models.IntentID, status models.IntentStatus, action *models.NextAction) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:         intentID,
		Provider:   providerID,
		Status:     status,
		NextAction: action,
		CreatedAt:  time.Now(),
	}
}

// MockPostAuth always succeeds; the demo wiring uses it for capture.
type MockPostAuth struct{}

func (MockPostAuth) Capture(ctx context.Context, req PostAuthRequest) (PostAuthResult, error) {
	return PostAuthResult{Status: "succeeded", Reference: string(req.IntentID), Timestamp: time.Now()}, nil
}

func (MockPostAuth) Refund(ctx context.Context, req PostAuthRequest) (PostAuthResult, error) {
	return PostAuthResult{Status: "pending", Reference: string(req.IntentID), Timestamp: time.Now()}, nil
}

func (MockPostAuth) Void(ctx context.Context, req PostAuthRequest) (PostAuthResult, error) {
	return PostAuthResult{Status: "succeeded", Reference: string(req.IntentID), Timestamp: time.Now()}, nil
}
