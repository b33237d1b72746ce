package fallback_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/fallback"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

type fakeTarget struct {
	mu     sync.Mutex
	events []flow.Event
}

func (f *fakeTarget) Send(ev flow.Event) flow.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return flow.StateStarting
}

func (f *fakeTarget) sent() []flow.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]flow.Event(nil), f.events...)
}

func testConfig() fallback.Config {
	return fallback.Config{
		Mode:                fallback.ModeManual,
		TriggerErrorCodes:   []models.ErrorCode{models.ErrProviderUnavailable, models.ErrNetworkError, models.ErrTimeout},
		BlockedErrorCodes:   []models.ErrorCode{models.ErrCardDeclined, models.ErrInsufficientFunds},
		ProviderPriority:    []string{"stripe", "paypal"},
		MaxAttempts:         2,
		MaxAutoFallbacks:    1,
		UserResponseTimeout: time.Hour,
		AutoFallbackDelay:   time.Hour,
	}
}

func candidateSnapshot(flowID string) flow.Snapshot {
	return flow.Snapshot{
		FlowID:   flowID,
		State:    flow.StateFallbackCandidate,
		Previous: flow.StateFailed,
		Event:    flow.EvtProviderUpdate,
		Context: flow.Context{
			FlowID:             flowID,
			Provider:           "stripe",
			FallbackFrom:       "stripe",
			FallbackCandidates: []string{"paypal"},
			LastErr:            models.NewPaymentError(models.ErrProviderUnavailable, "error.unavailable"),
			Request:            &models.PaymentRequest{OrderID: "order-1", Amount: models.Money{Amount: 500, Currency: "USD"}},
		},
		At: time.Now(),
	}
}

func newOrchestrator(cfg fallback.Config) (*fallback.Orchestrator, *fakeTarget) {
	o := fallback.New(cfg, clockz.RealClock, zap.NewNop())
	target := &fakeTarget{}
	o.Bind(target)
	return o, target
}

func TestOfferLifecycleAccept(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))

	st := o.State()
	assert.Equal(t, fallback.StatusPending, st.Status)
	require.NotNil(t, st.PendingEvent)
	assert.Equal(t, "flow-1-fb-1", st.PendingEvent.EventID)
	assert.Equal(t, "stripe", st.PendingEvent.FailedProvider)
	assert.Equal(t, []string{"paypal"}, st.PendingEvent.AlternativeProviders)

	o.HandleUserResponse(fallback.UserResponse{EventID: st.PendingEvent.EventID, Accepted: true})

	st = o.State()
	assert.Equal(t, fallback.StatusExecuting, st.Status)
	assert.Nil(t, st.PendingEvent)
	require.Len(t, st.FailedAttempts, 1)
	assert.Equal(t, "stripe", st.FailedAttempts[0].ProviderID)
	assert.False(t, st.FailedAttempts[0].WasAutoFallback)

	events := target.sent()
	require.Len(t, events, 1)
	assert.Equal(t, flow.EvtFallbackExecute, events[0].Type)
	assert.Equal(t, "paypal", events[0].TargetProvider)
	assert.Equal(t, "flow-1-fb-1", events[0].FallbackEventID)
	require.NotNil(t, events[0].Request)
	assert.Equal(t, models.OrderID("order-1"), events[0].Request.OrderID)

	// Settlement on the new provider completes the fallback.
	o.OnTransition(flow.Snapshot{FlowID: "flow-1", State: flow.StateDone, Previous: flow.StateReconciling, Event: flow.EvtProviderUpdate})
	assert.Equal(t, fallback.StatusCompleted, o.State().Status)
}

func TestOfferLifecycleReject(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))
	eventID := o.State().PendingEvent.EventID

	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: false})

	st := o.State()
	assert.Equal(t, fallback.StatusCancelled, st.Status)
	assert.Nil(t, st.PendingEvent)
	assert.Empty(t, st.FailedAttempts)

	events := target.sent()
	require.Len(t, events, 1)
	assert.Equal(t, flow.EvtFallbackAbort, events[0].Type)
}

func TestUnknownEventIDIsDropped(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))

	o.HandleUserResponse(fallback.UserResponse{EventID: "flow-1-fb-999", Accepted: true})

	st := o.State()
	assert.Equal(t, fallback.StatusPending, st.Status)
	require.NotNil(t, st.PendingEvent)
	assert.Empty(t, target.sent())
}

func TestStaleResponseAfterExecutionIsDropped(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))
	eventID := o.State().PendingEvent.EventID
	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: true})
	require.Equal(t, fallback.StatusExecuting, o.State().Status)

	// A second answer to the consumed offer changes nothing.
	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: false})
	assert.Equal(t, fallback.StatusExecuting, o.State().Status)
	assert.Len(t, target.sent(), 1)
}

func TestNewFailureReplacesPendingOffer(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))
	first := o.State().PendingEvent.EventID

	o.OnTransition(candidateSnapshot("flow-1"))
	second := o.State().PendingEvent.EventID
	assert.NotEqual(t, first, second)

	// The superseded offer is no longer answerable.
	o.HandleUserResponse(fallback.UserResponse{EventID: first, Accepted: true})
	assert.Equal(t, fallback.StatusPending, o.State().Status)
	assert.Empty(t, target.sent())
}

func TestUnofferedProviderIsDropped(t *testing.T) {
	o, target := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))
	eventID := o.State().PendingEvent.EventID

	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: true, SelectedProvider: "adyen"})
	assert.Equal(t, fallback.StatusPending, o.State().Status)
	assert.Empty(t, target.sent())
}

func TestAlternativesEligibility(t *testing.T) {
	o, _ := newOrchestrator(testConfig())

	unavailable := models.NewPaymentError(models.ErrProviderUnavailable, "error.unavailable")
	declined := models.NewPaymentError(models.ErrCardDeclined, "error.declined")

	assert.Equal(t, []string{"paypal"}, o.Alternatives("stripe", unavailable))
	assert.Nil(t, o.Alternatives("stripe", declined))
	assert.Nil(t, o.Alternatives("stripe", nil))
}

func TestAlternativesExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	o, _ := newOrchestrator(cfg)

	unavailable := models.NewPaymentError(models.ErrProviderUnavailable, "error.unavailable")

	// Consume the single allowed attempt.
	o.OnTransition(candidateSnapshot("flow-1"))
	o.HandleUserResponse(fallback.UserResponse{EventID: o.State().PendingEvent.EventID, Accepted: true})
	require.Len(t, o.State().FailedAttempts, 1)

	assert.Nil(t, o.Alternatives("paypal", unavailable))
}

func TestOfferExpiresAsDecline(t *testing.T) {
	cfg := testConfig()
	cfg.UserResponseTimeout = 20 * time.Millisecond
	o, target := newOrchestrator(cfg)

	o.OnTransition(candidateSnapshot("flow-1"))
	eventID := o.State().PendingEvent.EventID

	require.Eventually(t, func() bool {
		return o.State().Status == fallback.StatusFailed
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, o.State().PendingEvent)
	events := target.sent()
	require.Len(t, events, 1)
	assert.Equal(t, flow.EvtFallbackAbort, events[0].Type)

	// The expired offer is no longer answerable.
	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: true})
	assert.Equal(t, fallback.StatusFailed, o.State().Status)
	assert.Len(t, target.sent(), 1)
}

func TestAutoModeExecutesWithoutResponse(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = fallback.ModeAuto
	cfg.AutoFallbackDelay = 20 * time.Millisecond
	o, target := newOrchestrator(cfg)

	o.OnTransition(candidateSnapshot("flow-1"))

	require.Eventually(t, func() bool {
		return o.State().Status == fallback.StatusAutoExecuting
	}, time.Second, 5*time.Millisecond)

	st := o.State()
	require.Len(t, st.FailedAttempts, 1)
	assert.True(t, st.FailedAttempts[0].WasAutoFallback)
	assert.True(t, st.IsAutoFallback)

	events := target.sent()
	require.Len(t, events, 1)
	assert.Equal(t, flow.EvtFallbackExecute, events[0].Type)
	assert.True(t, events[0].AutoFallback)
	assert.Equal(t, "paypal", events[0].TargetProvider)
}

func TestAutoModeRespectsMaxAutoFallbacks(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = fallback.ModeAuto
	cfg.AutoFallbackDelay = 10 * time.Millisecond
	cfg.MaxAutoFallbacks = 1
	cfg.ProviderPriority = []string{"stripe", "paypal", "adyen"}
	o, target := newOrchestrator(cfg)

	o.OnTransition(candidateSnapshot("flow-1"))
	require.Eventually(t, func() bool {
		return o.State().Status == fallback.StatusAutoExecuting
	}, time.Second, 5*time.Millisecond)

	// Second failure: the auto budget is spent, the offer waits for a user.
	o.OnTransition(candidateSnapshot("flow-1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fallback.StatusPending, o.State().Status)
	assert.Len(t, target.sent(), 1)
}

func TestUserAbortCancelsAutoTimer(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = fallback.ModeAuto
	cfg.AutoFallbackDelay = 50 * time.Millisecond
	o, target := newOrchestrator(cfg)

	o.OnTransition(candidateSnapshot("flow-1"))
	eventID := o.State().PendingEvent.EventID
	o.HandleUserResponse(fallback.UserResponse{EventID: eventID, Accepted: false})
	require.Equal(t, fallback.StatusCancelled, o.State().Status)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, fallback.StatusCancelled, o.State().Status)
	events := target.sent()
	require.Len(t, events, 1)
	assert.Equal(t, flow.EvtFallbackAbort, events[0].Type)
}

func TestResetRestoresFreshState(t *testing.T) {
	o, _ := newOrchestrator(testConfig())

	o.OnTransition(candidateSnapshot("flow-1"))
	o.HandleUserResponse(fallback.UserResponse{EventID: o.State().PendingEvent.EventID, Accepted: true})
	require.NotEmpty(t, o.State().FailedAttempts)

	o.OnTransition(flow.Snapshot{FlowID: "flow-1", State: flow.StateIdle, Event: flow.CmdReset})

	st := o.State()
	assert.Equal(t, fallback.StatusIdle, st.Status)
	assert.Nil(t, st.PendingEvent)
	assert.Empty(t, st.FailedAttempts)
	assert.Empty(t, st.CurrentProvider)
	assert.False(t, st.IsAutoFallback)
	assert.Nil(t, st.OriginalRequest)
}
