package fallback

import (
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// Status of the fallback lifecycle for one flow.
type Status string

const (
	StatusIdle          Status = "idle"
	StatusPending       Status = "pending"
	StatusExecuting     Status = "executing"
	StatusAutoExecuting Status = "auto_executing"
	StatusCompleted     Status = "completed"
	StatusCancelled     Status = "cancelled"
	StatusFailed        Status = "failed"
)

// AvailableEvent is a time-boxed offer to retry on an alternate provider.
// Exactly one offer may be pending; a new failure replaces it with a fresh
// event id.
type AvailableEvent struct {
	EventID              string                 `json:"event_id"`
	FailedProvider       string                 `json:"failed_provider"`
	Error                *models.PaymentError   `json:"error"`
	AlternativeProviders []string               `json:"alternative_providers"`
	OriginalRequest      *models.PaymentRequest `json:"original_request"`
	Timestamp            time.Time              `json:"timestamp"`
}

// UserResponse answers a pending offer. It is honored only while the offer
// is pending and the event id matches.
type UserResponse struct {
	EventID          string    `json:"event_id"`
	Accepted         bool      `json:"accepted"`
	SelectedProvider string    `json:"selected_provider,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// State is the orchestrator's externally visible fallback state.
type State struct {
	Status          Status                 `json:"status"`
	PendingEvent    *AvailableEvent        `json:"pending_event,omitempty"`
	FailedAttempts  []models.FailedAttempt `json:"failed_attempts"`
	CurrentProvider string                 `json:"current_provider,omitempty"`
	IsAutoFallback  bool                   `json:"is_auto_fallback"`
	OriginalRequest *models.PaymentRequest `json:"original_request,omitempty"`
}

// CommandTarget is the write-back path into the flow machine. It is the
// only way the orchestrator influences the primary machine.
type CommandTarget interface {
	Send(ev flow.Event) flow.State
}

// Orchestrator owns fallback policy and state for one flow: the eligibility
// decision, the failed-attempt ledger, the pending-offer lifecycle with TTL
// and auto-fallback scheduling. It observes the machine through the
// snapshot pipeline and writes back as fallback events.
type Orchestrator struct {
	mu     sync.Mutex
	cfg    Config
	clock  clockz.Clock
	logger *zap.Logger
	target CommandTarget

	status          Status
	pending         *AvailableEvent
	failedAttempts  []models.FailedAttempt
	currentProvider string
	isAuto          bool
	originalRequest *models.PaymentRequest

	eventSeq   int
	ttlCancel  chan struct{}
	autoCancel chan struct{}
}

func New(cfg Config, clock clockz.Clock, logger *zap.Logger) *Orchestrator {
	if clock == nil {
		clock = clockz.RealClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:    cfg,
		clock:  clock,
		logger: logger,
		status: StatusIdle,
	}
}

// Bind attaches the flow machine. Called once during wiring; machine and
// orchestrator reference each other, so one side binds late.
func (o *Orchestrator) Bind(target CommandTarget) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.target = target
}

// Alternatives is the machine's fallback guard: nil unless the error is
// eligible, attempts are not exhausted and at least one provider remains
// untried.
func (o *Orchestrator) Alternatives(failedProvider string, err *models.PaymentError) []string {
	if !Eligible(o.cfg, err) {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.failedAttempts) >= o.cfg.MaxAttempts {
		return nil
	}
	return o.alternativesLocked(failedProvider)
}

func (o *Orchestrator) alternativesLocked(failedProvider string) []string {
	tried := make(map[string]bool, len(o.failedAttempts)+1)
	for _, a := range o.failedAttempts {
		tried[a.ProviderID] = true
	}
	tried[failedProvider] = true

	var alts []string
	for _, p := range o.cfg.ProviderPriority {
		if !tried[p] {
			alts = append(alts, p)
		}
	}
	return alts
}

// State returns a copy of the fallback state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := State{
		Status:          o.status,
		FailedAttempts:  append([]models.FailedAttempt(nil), o.failedAttempts...),
		CurrentProvider: o.currentProvider,
		IsAutoFallback:  o.isAuto,
		OriginalRequest: o.originalRequest,
	}
	if o.pending != nil {
		cp := *o.pending
		s.PendingEvent = &cp
	}
	return s
}

// OnTransition implements flow.FallbackBridge. It reacts to the machine
// entering fallbackCandidate (open an offer), settling after an execution
// (complete), aborting (cancel) and RESET (full reset).
func (o *Orchestrator) OnTransition(snap flow.Snapshot) {
	switch {
	case snap.Event == flow.CmdReset && snap.State == flow.StateIdle:
		o.Reset()
	case snap.State == flow.StateFallbackCandidate && snap.Previous == flow.StateFailed:
		o.openOffer(snap)
	case snap.State == flow.StateStarting && snap.Event == flow.EvtFallbackExecute:
		// execution already recorded when the command was issued
	case snap.State == flow.StateDone && snap.Event == flow.EvtFallbackAbort:
		o.markAborted()
	case snap.State == flow.StateDone:
		o.markCompleted()
	}
}

func (o *Orchestrator) openOffer(snap flow.Snapshot) {
	o.mu.Lock()
	o.cancelTimersLocked()

	o.eventSeq++
	offer := &AvailableEvent{
		EventID:              fmt.Sprintf("%s-fb-%d", snap.FlowID, o.eventSeq),
		FailedProvider:       snap.Context.FallbackFrom,
		Error:                snap.Context.LastErr,
		AlternativeProviders: append([]string(nil), snap.Context.FallbackCandidates...),
		OriginalRequest:      snap.Context.Request,
		Timestamp:            o.clock.Now(),
	}
	o.pending = offer
	o.status = StatusPending
	o.currentProvider = snap.Context.FallbackFrom
	o.originalRequest = snap.Context.Request

	ttlCancel := make(chan struct{})
	o.ttlCancel = ttlCancel
	go o.awaitTTL(offer.EventID, ttlCancel)

	if o.cfg.Mode == ModeAuto && len(o.failedAttempts) < o.cfg.MaxAutoFallbacks {
		autoCancel := make(chan struct{})
		o.autoCancel = autoCancel
		go o.awaitAutoExecute(offer.EventID, autoCancel)
	}
	o.mu.Unlock()

	o.logger.Info("fallback offer opened",
		zap.String("event_id", offer.EventID),
		zap.String("failed_provider", offer.FailedProvider),
		zap.Strings("alternatives", offer.AlternativeProviders),
	)
}

func (o *Orchestrator) awaitTTL(eventID string, cancel <-chan struct{}) {
	select {
	case <-o.clock.After(o.cfg.UserResponseTimeout):
		o.expireOffer(eventID)
	case <-cancel:
	}
}

func (o *Orchestrator) awaitAutoExecute(eventID string, cancel <-chan struct{}) {
	select {
	case <-o.clock.After(o.cfg.AutoFallbackDelay):
		o.autoExecute(eventID)
	case <-cancel:
	}
}

// expireOffer treats silence as decline: status failed, pending cleared,
// and the machine is told to abort the candidate state.
func (o *Orchestrator) expireOffer(eventID string) {
	o.mu.Lock()
	if o.pending == nil || o.pending.EventID != eventID {
		o.mu.Unlock()
		return
	}
	o.logger.Info("fallback offer expired without response",
		zap.String("event_id", eventID),
		zap.String("reason", "expired"),
	)
	o.pending = nil
	o.status = StatusFailed
	o.cancelAutoLocked()
	target := o.target
	o.mu.Unlock()

	if target != nil {
		target.Send(flow.Event{Type: flow.EvtFallbackAbort})
	}
}

func (o *Orchestrator) autoExecute(eventID string) {
	o.mu.Lock()
	if o.pending == nil || o.pending.EventID != eventID {
		o.mu.Unlock()
		return
	}
	o.executeLocked(o.pending.AlternativeProviders[0], true)
}

// HandleUserResponse arbitrates a user's answer to the pending offer.
// Unknown or expired responses are recoverable no-ops: logged, dropped,
// never surfaced as flow errors.
func (o *Orchestrator) HandleUserResponse(resp UserResponse) {
	o.mu.Lock()
	if o.status != StatusPending || o.pending == nil || o.pending.EventID != resp.EventID {
		o.mu.Unlock()
		o.logger.Info("dropping unknown or expired fallback response",
			zap.String("event_id", resp.EventID),
			zap.String("reason", "unknown_event"),
		)
		return
	}

	if !resp.Accepted {
		o.logger.Info("fallback offer rejected by user",
			zap.String("event_id", resp.EventID),
		)
		o.pending = nil
		o.status = StatusCancelled
		o.cancelTimersLocked()
		target := o.target
		o.mu.Unlock()
		if target != nil {
			target.Send(flow.Event{Type: flow.EvtFallbackAbort})
		}
		return
	}

	provider := resp.SelectedProvider
	if provider == "" {
		provider = o.pending.AlternativeProviders[0]
	} else if !contains(o.pending.AlternativeProviders, provider) {
		o.mu.Unlock()
		o.logger.Info("dropping fallback response for unoffered provider",
			zap.String("event_id", resp.EventID),
			zap.String("provider", provider),
		)
		return
	}
	o.executeLocked(provider, false)
}

// executeLocked appends the failed attempt to the ledger and issues the
// new START-equivalent command into the machine. Callers hold o.mu; it is
// released before writing back into the machine.
func (o *Orchestrator) executeLocked(provider string, auto bool) {
	offer := o.pending
	o.pending = nil
	o.cancelTimersLocked()

	o.failedAttempts = append(o.failedAttempts, models.FailedAttempt{
		ProviderID:      offer.FailedProvider,
		Error:           offer.Error,
		Timestamp:       o.clock.Now(),
		WasAutoFallback: auto,
	})
	o.currentProvider = provider
	o.isAuto = auto
	if auto {
		o.status = StatusAutoExecuting
	} else {
		o.status = StatusExecuting
	}
	target := o.target
	req := offer.OriginalRequest
	eventID := offer.EventID
	o.mu.Unlock()

	o.logger.Info("executing fallback",
		zap.String("event_id", eventID),
		zap.String("provider", provider),
		zap.Bool("auto", auto),
	)

	if target != nil {
		target.Send(flow.Event{
			Type:            flow.EvtFallbackExecute,
			TargetProvider:  provider,
			Request:         req,
			FallbackEventID: eventID,
			AutoFallback:    auto,
		})
	}
}

func (o *Orchestrator) markCompleted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusExecuting || o.status == StatusAutoExecuting {
		o.status = StatusCompleted
	}
}

func (o *Orchestrator) markAborted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == StatusPending {
		o.pending = nil
		o.status = StatusCancelled
		o.cancelTimersLocked()
	}
}

// Reset clears the ledger and the pending offer and cancels all timers.
// Invoked on flow RESET; afterwards the state equals a fresh orchestrator.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelTimersLocked()
	o.status = StatusIdle
	o.pending = nil
	o.failedAttempts = nil
	o.currentProvider = ""
	o.isAuto = false
	o.originalRequest = nil
}

func (o *Orchestrator) cancelTimersLocked() {
	if o.ttlCancel != nil {
		close(o.ttlCancel)
		o.ttlCancel = nil
	}
	o.cancelAutoLocked()
}

func (o *Orchestrator) cancelAutoLocked() {
	if o.autoCancel != nil {
		close(o.autoCancel)
		o.autoCancel = nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
