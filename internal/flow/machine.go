package flow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// FallbackGuard decides whether a failed attempt may offer an alternate
// provider. It returns the candidate providers, or nil when fallback is not
// available. It must be pure; the orchestrator owns all fallback state.
type FallbackGuard func(failedProvider string, err *models.PaymentError) []string

// Deps are the machine's injected collaborators. The machine knows nothing
// about transport, SDKs or HTTP; provider calls are opaque async functions.
type Deps struct {
	Ops      gateway.ProviderOps
	Guard    FallbackGuard
	Pipeline *Pipeline
	Logger   *zap.Logger
	// OpTimeout bounds each dispatched provider call. Zero means no bound.
	OpTimeout time.Duration
}

// Machine drives a single payment attempt from initiation to a terminal
// outcome. Send is synchronous with respect to the state transition; the
// actions it triggers run asynchronously and report back as system events.
type Machine struct {
	// mu makes event delivery atomic and sequential: no two transitions
	// interleave, and a transition's side effects complete before the
	// next transition is applied.
	mu     chan struct{}
	state  State
	ctx    Context
	ops    gateway.ProviderOps
	guard  FallbackGuard
	pipe   *Pipeline
	logger *zap.Logger

	// epoch stamps dispatched operations. START, CANCEL, RESET and a
	// fallback execution each open a new epoch, so results of operations
	// started before are recognized as stale.
	epoch int

	opTimeout time.Duration
}

func NewMachine(flowID string, deps Deps) *Machine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pipe := deps.Pipeline
	if pipe == nil {
		pipe = NewPipeline(nil, nil, nil, logger)
	}
	m := &Machine{
		mu:        make(chan struct{}, 1),
		state:     StateIdle,
		ctx:       newContext(flowID),
		ops:       deps.Ops,
		guard:     deps.Guard,
		pipe:      pipe,
		logger:    logger.With(zap.String("flow_id", flowID)),
		opTimeout: deps.OpTimeout,
	}
	m.mu <- struct{}{}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	return m.state
}

// Snapshot returns the current state and a copy of the context.
func (m *Machine) Snapshot() Snapshot {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()
	return Snapshot{
		FlowID:  m.ctx.FlowID,
		State:   m.state,
		Context: m.ctx.clone(),
		At:      time.Now(),
	}
}

// transition is one cell of the table: a target resolver, an optional
// context mutation and an optional action dispatched after the transition
// commits. A resolver returning "" means the event is accepted as a no-op.
type transition struct {
	resolve func(m *Machine, ev Event) State
	apply   func(m *Machine, ev Event)
	action  func(m *Machine, ev Event)
}

func to(s State) func(*Machine, Event) State {
	return func(*Machine, Event) State { return s }
}

// table is the explicit event × state transition map. It is populated in
// init because the dispatch actions reach back into Send.
var table map[State]map[EventType]transition

func init() {
	table = map[State]map[EventType]transition{
		StateIdle: {
			CmdStart:  {resolve: to(StateStarting), apply: applyStart, action: dispatchStart},
			CmdCancel: {resolve: resolveCancel, apply: bumpEpoch, action: dispatchCancel},
			CmdReset:  {resolve: to(StateIdle), apply: applyReset},
		},
		StateStarting: {
			EvtProviderUpdate:   {resolve: resolveIntent, apply: applyIntent, action: continueFromIntent},
			EvtValidationFailed: {resolve: to(StateFailed), apply: applyError},
			CmdCancel:           {resolve: resolveCancel, apply: bumpEpoch, action: dispatchCancel},
			CmdReset:            {resolve: to(StateIdle), apply: applyReset},
		},
		StateRedirect: {
			EvtRedirectReturned: {resolve: to(StateFinalizing), apply: applyReturn, action: dispatchFinalize},
			EvtWebhookReceived:  {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			EvtValidationFailed: {resolve: to(StateFailed), apply: applyError},
			CmdRefresh:          {resolve: to(StateFetchingStatus), action: dispatchGetStatus},
			CmdCancel:           {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:            {resolve: to(StateIdle), apply: applyReset},
		},
		StateClientConfirm: {
			CmdConfirm:         {resolve: to(StateConfirming), action: dispatchConfirm},
			EvtWebhookReceived: {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			CmdRefresh:         {resolve: to(StateFetchingStatus), action: dispatchGetStatus},
			CmdCancel:          {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:           {resolve: to(StateIdle), apply: applyReset},
		},
		StateManualStep: {
			CmdConfirm:         {resolve: to(StateConfirming), action: dispatchConfirm},
			EvtStatusConfirmed: {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			EvtWebhookReceived: {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			CmdRefresh:         {resolve: to(StateFetchingStatus), action: dispatchGetStatus},
			CmdCancel:          {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:           {resolve: to(StateIdle), apply: applyReset},
		},
		StateExternalWait: {
			EvtExternalStatusUpdated: {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			EvtStatusConfirmed:       {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			EvtWebhookReceived:       {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			CmdRefresh:               {resolve: to(StateFetchingStatus), action: dispatchGetStatus},
			CmdCancel:                {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:                 {resolve: to(StateIdle), apply: applyReset},
		},
		StateConfirming: {
			EvtProviderUpdate: {resolve: resolveIntent, apply: applyIntent, action: continueFromIntent},
			CmdCancel:         {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:          {resolve: to(StateIdle), apply: applyReset},
		},
		StateFetchingStatus: {
			EvtProviderUpdate:  {resolve: resolveIntent, apply: applyIntent, action: continueFromIntent},
			EvtStatusConfirmed: {resolve: resolveSettlement, apply: applyIntent, action: continueFromIntent},
			CmdCancel:          {resolve: to(StateCancelling), apply: bumpEpoch, action: dispatchCancel},
			CmdReset:           {resolve: to(StateIdle), apply: applyReset},
		},
		StateFinalizing: {
			EvtProviderUpdate: {resolve: resolveFinalize, apply: applyFinalize},
			CmdReset:          {resolve: to(StateIdle), apply: applyReset},
		},
		StateReconciling: {
			CmdReset: {resolve: to(StateIdle), apply: applyReset},
		},
		StateDone: {
			CmdReset:   {resolve: to(StateIdle), apply: applyReset},
			CmdRefresh: {resolve: to(StateFetchingStatus), action: dispatchGetStatus},
		},
		StateFailed: {
			CmdReset: {resolve: to(StateIdle), apply: applyReset},
			CmdRefresh: {resolve: func(m *Machine, ev Event) State {
				if m.ctx.Intent == nil {
					return StateStarting
				}
				return StateFetchingStatus
			}, apply: clearError, action: dispatchRefreshRetry},
			EvtFallbackRequested: {resolve: resolveFallbackGuard, apply: applyFallbackCandidates},
		},
		StateFallbackCandidate: {
			EvtFallbackExecute: {resolve: to(StateStarting), apply: applyFallbackExecute, action: dispatchStart},
			EvtFallbackAbort:   {resolve: to(StateDone)},
			CmdCancel:          {resolve: to(StateDone)},
			CmdReset:           {resolve: to(StateIdle), apply: applyReset},
		},
		StateCancelling: {
			EvtProviderUpdate: {resolve: resolveCancelResult, apply: applyCancelResult},
			CmdReset:          {resolve: to(StateIdle), apply: applyReset},
		},
	}
}

// Send delivers one event. The new state is observable as soon as Send
// returns; any action the transition triggers runs asynchronously and
// reports back through a follow-up system event.
func (m *Machine) Send(ev Event) State {
	<-m.mu
	defer func() { m.mu <- struct{}{} }()

	if ev.Type.Command() {
		m.pipe.commandSent(Snapshot{
			FlowID:  m.ctx.FlowID,
			State:   m.state,
			Event:   ev.Type,
			Context: m.ctx,
			At:      time.Now(),
		})
	}

	if m.stale(ev) {
		return m.state
	}

	tr, ok := table[m.state][ev.Type]
	if !ok {
		m.logger.Debug("event ignored in state",
			zap.String("state", string(m.state)),
			zap.String("event", string(ev.Type)),
		)
		return m.state
	}

	next := tr.resolve(m, ev)
	if next == "" {
		// Accepted no-op: no state change, no side effects.
		return m.state
	}

	m.commit(next, ev, tr.apply, tr.action)
	m.runAlways(ev)
	return m.state
}

// commit applies one transition: mutate context, move state, dispatch the
// snapshot pipeline, then fire the action.
func (m *Machine) commit(next State, ev Event, apply func(*Machine, Event), action func(*Machine, Event)) {
	prev := m.state
	if apply != nil {
		apply(m, ev)
	}
	m.state = next
	if next == StateReconciling && m.ctx.Nonce != "" {
		m.ctx.Reconciled[m.ctx.Nonce] = true
	}

	m.logger.Info("flow transition",
		zap.String("from_state", string(prev)),
		zap.String("to_state", string(next)),
		zap.String("event", string(ev.Type)),
		zap.String("provider", m.ctx.Provider),
	)

	m.pipe.transition(Snapshot{
		FlowID:   m.ctx.FlowID,
		State:    next,
		Previous: prev,
		Event:    ev.Type,
		Context:  m.ctx.clone(),
		At:       time.Now(),
	})

	if action != nil {
		action(m, ev)
	}
}

// runAlways applies eventless transitions until none fires: reconciling
// advances to done, and failed enters fallbackCandidate when the guard
// yields alternatives.
func (m *Machine) runAlways(ev Event) {
	for {
		switch m.state {
		case StateReconciling:
			m.commit(StateDone, ev, nil, nil)
		case StateFailed:
			if m.ctx.FallbackFrom != "" {
				return // already offered for this failure
			}
			alts := m.alternatives()
			if len(alts) == 0 {
				return
			}
			m.commit(StateFallbackCandidate, ev, func(m *Machine, _ Event) {
				m.ctx.FallbackFrom = m.ctx.Provider
				m.ctx.FallbackCandidates = alts
			}, nil)
		default:
			return
		}
	}
}

func (m *Machine) alternatives() []string {
	if m.guard == nil || m.ctx.LastErr == nil {
		return nil
	}
	return m.guard(m.ctx.Provider, m.ctx.LastErr)
}

// stale recognizes late or duplicate deliveries. Stale inputs are accepted
// (no hard failure on provider retries) but produce no transition.
func (m *Machine) stale(ev Event) bool {
	if ev.Epoch != 0 && ev.Epoch != m.epoch {
		m.logger.Info("dropping stale operation result",
			zap.String("event", string(ev.Type)),
			zap.Int("event_epoch", ev.Epoch),
			zap.Int("current_epoch", m.epoch),
		)
		return true
	}
	if !ev.Type.Command() && ev.Provider != "" && m.ctx.Provider != "" && ev.Provider != m.ctx.Provider {
		m.logger.Info("dropping event for wrong provider",
			zap.String("event", string(ev.Type)),
			zap.String("event_provider", ev.Provider),
			zap.String("current_provider", m.ctx.Provider),
		)
		return true
	}
	if ev.Type == EvtRedirectReturned || ev.Type == EvtWebhookReceived {
		if ev.Nonce == "" {
			return true
		}
		if m.ctx.Reconciled[ev.Nonce] {
			m.logger.Info("duplicate delivery for reconciled nonce",
				zap.String("event", string(ev.Type)),
				zap.String("nonce", ev.Nonce),
			)
			return true
		}
		if ev.Nonce != m.ctx.Nonce {
			m.logger.Info("delivery nonce does not match active attempt",
				zap.String("event", string(ev.Type)),
				zap.String("nonce", ev.Nonce),
			)
			return true
		}
	}
	return false
}

// --- context mutations ---

func applyStart(m *Machine, ev Event) {
	reconciled := m.ctx.Reconciled
	m.ctx = newContext(m.ctx.FlowID)
	m.ctx.Reconciled = reconciled
	m.ctx.Provider = ev.Provider
	m.ctx.Request = ev.Request
	m.ctx.Attempt = 1
	m.epoch++
}

func applyReset(m *Machine, ev Event) {
	m.ctx = newContext(m.ctx.FlowID)
	m.epoch++
}

func bumpEpoch(m *Machine, ev Event) {
	m.epoch++
}

func clearError(m *Machine, ev Event) {
	m.ctx.LastErr = nil
}

func applyError(m *Machine, ev Event) {
	m.ctx.LastErr = ev.Err
}

func applyIntent(m *Machine, ev Event) {
	if ev.Err != nil {
		m.ctx.LastErr = ev.Err
		return
	}
	if ev.Intent == nil {
		return
	}
	m.ctx.Intent = ev.Intent
	m.ctx.LastErr = nil
	if m.ctx.Nonce == "" {
		m.ctx.Nonce = string(ev.Intent.ID)
	}
}

func applyReturn(m *Machine, ev Event) {
	// the return itself carries no intent; settlement is decided by the
	// finalize / reconcile steps
}

func applyFinalize(m *Machine, ev Event) {
	if ev.FinalizeUnsupported {
		m.ctx.LastErr = nil
		return
	}
	applyIntent(m, ev)
}

func applyFallbackCandidates(m *Machine, ev Event) {
	m.ctx.FallbackFrom = m.ctx.Provider
	m.ctx.FallbackCandidates = m.alternatives()
}

func applyFallbackExecute(m *Machine, ev Event) {
	req := ev.Request
	if req == nil {
		req = m.ctx.Request
	}
	reconciled := m.ctx.Reconciled
	attempt := m.ctx.Attempt
	m.ctx = newContext(m.ctx.FlowID)
	m.ctx.Reconciled = reconciled
	m.ctx.Provider = ev.TargetProvider
	m.ctx.Request = req
	m.ctx.Attempt = attempt + 1
	m.ctx.AutoFallback = ev.AutoFallback
	m.epoch++
}

// --- target resolvers ---

// resolveIntent selects the state after a provider operation settles. The
// sub-state of requiresAction follows the intent's next action kind.
func resolveIntent(m *Machine, ev Event) State {
	if ev.Err != nil {
		return StateFailed
	}
	if ev.Intent == nil {
		return ""
	}
	switch ev.Intent.Status {
	case models.StatusRequiresAction:
		if ev.Intent.NextAction == nil {
			return StateExternalWait
		}
		switch ev.Intent.NextAction.Kind {
		case models.ActionRedirect:
			return StateRedirect
		case models.ActionClientConfirm:
			return StateClientConfirm
		case models.ActionManualStep:
			return StateManualStep
		default:
			return StateExternalWait
		}
	case models.StatusRequiresConfirmation:
		return StateConfirming
	case models.StatusRequiresPaymentMethod:
		return StateClientConfirm
	case models.StatusProcessing:
		return StateExternalWait
	case models.StatusSucceeded:
		return StateFinalizing
	case models.StatusCanceled, models.StatusFailed:
		return StateFailed
	default:
		return ""
	}
}

// resolveSettlement handles pushed status while waiting on user or
// provider action. Non-terminal pushes that change nothing are no-ops.
func resolveSettlement(m *Machine, ev Event) State {
	if ev.Err != nil {
		return StateFailed
	}
	status := ev.Status
	if ev.Intent != nil {
		status = ev.Intent.Status
	}
	switch status {
	case models.StatusSucceeded:
		return StateFinalizing
	case models.StatusFailed, models.StatusCanceled:
		return StateFailed
	case models.StatusProcessing:
		if m.state == StateExternalWait {
			return ""
		}
		return StateExternalWait
	default:
		return ""
	}
}

func resolveFinalize(m *Machine, ev Event) State {
	if ev.FinalizeUnsupported {
		return StateReconciling
	}
	if ev.Err != nil {
		return StateFailed
	}
	return StateReconciling
}

func resolveFallbackGuard(m *Machine, ev Event) State {
	if len(m.alternatives()) == 0 {
		return ""
	}
	return StateFallbackCandidate
}

// resolveCancel short-circuits when nothing was ever created at the
// provider: there is no operation to cancel, so the flow ends right away.
func resolveCancel(m *Machine, ev Event) State {
	if m.ctx.Intent == nil {
		return StateDone
	}
	return StateCancelling
}

func resolveCancelResult(m *Machine, ev Event) State {
	if ev.Err != nil {
		return StateFailed
	}
	return StateDone
}

func applyCancelResult(m *Machine, ev Event) {
	applyIntent(m, ev)
	if ev.Err != nil {
		// a user-abandoned flow never offers fallback
		m.ctx.FallbackFrom = m.ctx.Provider
	}
}

// --- async operation dispatch ---

func (m *Machine) opContext() (context.Context, context.CancelFunc) {
	if m.opTimeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), m.opTimeout)
}

func dispatchStart(m *Machine, ev Event) {
	provider, epoch, req := m.ctx.Provider, m.epoch, m.ctx.Request
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		intent, err := m.ops.StartPayment(ctx, provider, req)
		m.Send(opResult(provider, epoch, intent, err))
	}()
}

func dispatchConfirm(m *Machine, ev Event) {
	provider, epoch := m.ctx.Provider, m.epoch
	intentID := currentIntentID(m)
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		intent, err := m.ops.ConfirmPayment(ctx, provider, intentID)
		m.Send(opResult(provider, epoch, intent, err))
	}()
}

func dispatchCancel(m *Machine, ev Event) {
	provider, epoch := m.ctx.Provider, m.epoch
	intentID := currentIntentID(m)
	if intentID == "" {
		return // nothing in flight at the provider
	}
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		intent, err := m.ops.CancelPayment(ctx, provider, intentID)
		m.Send(opResult(provider, epoch, intent, err))
	}()
}

func dispatchGetStatus(m *Machine, ev Event) {
	provider, epoch := m.ctx.Provider, m.epoch
	intentID := currentIntentID(m)
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		intent, err := m.ops.GetStatus(ctx, provider, intentID)
		m.Send(opResult(provider, epoch, intent, err))
	}()
}

func dispatchFinalize(m *Machine, ev Event) {
	provider, epoch := m.ctx.Provider, m.epoch
	intentID := currentIntentID(m)
	go func() {
		ctx, cancel := m.opContext()
		defer cancel()
		intent, err := m.ops.Finalize(ctx, provider, intentID)
		if errors.Is(err, gateway.ErrFinalizeUnsupported) {
			m.Send(Event{
				Type:                EvtProviderUpdate,
				Provider:            provider,
				Epoch:               epoch,
				FinalizeUnsupported: true,
			})
			return
		}
		m.Send(opResult(provider, epoch, intent, err))
	}()
}

// dispatchRefreshRetry re-runs the step REFRESH re-entered: a fresh start
// when the attempt never produced an intent, a status poll otherwise.
func dispatchRefreshRetry(m *Machine, ev Event) {
	if m.state == StateStarting {
		dispatchStart(m, ev)
		return
	}
	dispatchGetStatus(m, ev)
}

// continueFromIntent dispatches the operation implied by the state a
// provider result resolved into.
func continueFromIntent(m *Machine, ev Event) {
	switch m.state {
	case StateConfirming:
		dispatchConfirm(m, ev)
	case StateFetchingStatus:
		dispatchGetStatus(m, ev)
	case StateFinalizing:
		dispatchFinalize(m, ev)
	}
}

func currentIntentID(m *Machine) models.IntentID {
	if m.ctx.Intent == nil {
		return ""
	}
	return m.ctx.Intent.ID
}

func opResult(provider string, epoch int, intent *models.PaymentIntent, err error) Event {
	ev := Event{
		Type:     EvtProviderUpdate,
		Provider: provider,
		Epoch:    epoch,
	}
	if err != nil {
		ev.Err = models.AsPaymentError(err)
		return ev
	}
	ev.Intent = intent
	return ev
}
