package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/dedup"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/fallback"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/flow"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/gateway"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/interfaces"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/normalize"
)

// Deps are the collaborators every flow shares. All of them are injected;
// the manager only wires them together per flow.
type Deps struct {
	Ops         gateway.ProviderOps
	PostAuth    gateway.PostAuthGateway
	Normalizers *normalize.Registry
	Telemetry   []flow.TelemetrySink
	Persistence flow.PersistenceSink
	// Store serves snapshot reads for flows no longer held in memory.
	Store      interfaces.FlowSnapshotRepository
	Fallback   fallback.Config
	Clock      clockz.Clock
	NonceGuard dedup.Guard
	Logger     *zap.Logger
	OpTimeout  time.Duration
}

type flowEntry struct {
	machine *flow.Machine
	orch    *fallback.Orchestrator
}

// FlowManager owns the live machine and fallback orchestrator pairs, keyed
// by flow id, and routes commands and external events to them.
type FlowManager struct {
	mu         sync.RWMutex
	deps       Deps
	flows      map[string]*flowEntry
	nonceIndex map[string]string // correlation nonce -> flow id
	logger     *zap.Logger
}

func NewFlowManager(deps Deps) (*FlowManager, error) {
	if err := deps.Fallback.Validate(); err != nil {
		return nil, fmt.Errorf("fallback config: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FlowManager{
		deps:       deps,
		flows:      make(map[string]*flowEntry),
		nonceIndex: make(map[string]string),
		logger:     logger,
	}, nil
}

func (fm *FlowManager) entry(flowID string, create bool) *flowEntry {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	e, ok := fm.flows[flowID]
	if !ok && create {
		orch := fallback.New(fm.deps.Fallback, fm.deps.Clock, fm.logger)
		persist := &indexingSink{fm: fm, flowID: flowID, inner: fm.deps.Persistence}
		pipe := flow.NewPipeline(fm.deps.Telemetry, persist, orch, fm.logger)
		m := flow.NewMachine(flowID, flow.Deps{
			Ops:       fm.deps.Ops,
			Guard:     orch.Alternatives,
			Pipeline:  pipe,
			Logger:    fm.logger,
			OpTimeout: fm.deps.OpTimeout,
		})
		orch.Bind(m)
		e = &flowEntry{machine: m, orch: orch}
		fm.flows[flowID] = e
	}
	return e
}

// Start begins a payment attempt for flowID on the given provider.
func (fm *FlowManager) Start(flowID, provider string, req *models.PaymentRequest) (flow.Snapshot, error) {
	if fm.deps.Normalizers != nil && fm.deps.Normalizers.Lookup(provider) == nil {
		return flow.Snapshot{}, models.NewPaymentError(models.ErrInvalidRequest, "error.provider_unknown")
	}
	e := fm.entry(flowID, true)
	e.machine.Send(flow.Event{Type: flow.CmdStart, Provider: provider, Request: req})
	return e.machine.Snapshot(), nil
}

// Command delivers a user command to an existing flow.
func (fm *FlowManager) Command(flowID string, cmd flow.EventType) (flow.Snapshot, error) {
	e := fm.entry(flowID, false)
	if e == nil {
		return flow.Snapshot{}, models.NewPaymentError(models.ErrInvalidRequest, "error.flow_unknown")
	}
	e.machine.Send(flow.Event{Type: cmd})
	return e.machine.Snapshot(), nil
}

// HandleRedirectReturn matches a normalized redirect return to its flow by
// correlation nonce and delivers it. Unmatched returns are dropped.
func (fm *FlowManager) HandleRedirectReturn(ret *normalize.CanonicalReturn) (flow.Snapshot, bool) {
	e := fm.lookupByNonce(ret.ReferenceID)
	if e == nil {
		fm.logger.Info("redirect return for unknown reference",
			zap.String("provider", ret.Provider),
			zap.String("reference_id", ret.ReferenceID),
		)
		return flow.Snapshot{}, false
	}
	ev := flow.Event{
		Type:     flow.EvtRedirectReturned,
		Provider: ret.Provider,
		Nonce:    ret.ReferenceID,
	}
	if !ret.Succeeded {
		ev.Type = flow.EvtValidationFailed
		ev.Err = models.NewPaymentError(models.ErrCardDeclined, "error.redirect_declined")
	}
	e.machine.Send(ev)
	return e.machine.Snapshot(), true
}

// HandleWebhook delivers a verified, normalized webhook event. Replays and
// unmatched references are accepted and dropped.
func (fm *FlowManager) HandleWebhook(ctx context.Context, evt *normalize.CanonicalEvent) bool {
	e := fm.lookupByNonce(evt.ReferenceID)
	if e == nil {
		fm.logger.Info("webhook for unknown reference",
			zap.String("provider", evt.Provider),
			zap.String("reference_id", evt.ReferenceID),
		)
		return false
	}
	// The dedup key is recorded only after the delivery matched a flow;
	// an early delivery that raced flow creation must stay deliverable
	// when the provider retries it.
	if fm.deps.NonceGuard != nil &&
		!fm.deps.NonceGuard.FirstDelivery(ctx, evt.Provider, evt.EventType+":"+evt.ReferenceID+":"+evt.Status) {
		fm.logger.Info("duplicate webhook delivery suppressed",
			zap.String("provider", evt.Provider),
			zap.String("reference_id", evt.ReferenceID),
		)
		return false
	}
	e.machine.Send(flow.Event{
		Type:     flow.EvtWebhookReceived,
		Provider: evt.Provider,
		Nonce:    evt.ReferenceID,
		Status:   models.IntentStatus(evt.Status),
	})
	return true
}

// HandleExternalStatus delivers an out-of-band provider status push.
func (fm *FlowManager) HandleExternalStatus(flowID, provider string, status models.IntentStatus) bool {
	e := fm.entry(flowID, false)
	if e == nil {
		fm.logger.Info("status push for unknown flow", zap.String("flow_id", flowID))
		return false
	}
	e.machine.Send(flow.Event{
		Type:     flow.EvtExternalStatusUpdated,
		Provider: provider,
		Status:   status,
	})
	return true
}

// HandleFallbackResponse forwards a user's answer to the pending offer.
func (fm *FlowManager) HandleFallbackResponse(flowID string, resp fallback.UserResponse) error {
	e := fm.entry(flowID, false)
	if e == nil {
		return models.NewPaymentError(models.ErrInvalidRequest, "error.flow_unknown")
	}
	e.orch.HandleUserResponse(resp)
	return nil
}

// Snapshot returns the current snapshot for a flow, falling back to the
// snapshot store for flows this instance does not hold in memory.
func (fm *FlowManager) Snapshot(flowID string) (flow.Snapshot, bool) {
	if e := fm.entry(flowID, false); e != nil {
		return e.machine.Snapshot(), true
	}
	if fm.deps.Store != nil {
		if snap, err := fm.deps.Store.GetByFlowID(context.Background(), flowID); err == nil {
			return *snap, true
		}
	}
	return flow.Snapshot{}, false
}

// Post-authorization operation names.
const (
	PostAuthCapture = "capture"
	PostAuthRefund  = "refund"
	PostAuthVoid    = "void"
)

// PostAuth runs a capture, refund or void against a settled flow's intent.
// Money movement never goes through the machine; it only reads the settled
// context.
func (fm *FlowManager) PostAuth(ctx context.Context, flowID, op, reason string) (gateway.PostAuthResult, error) {
	if fm.deps.PostAuth == nil {
		return gateway.PostAuthResult{}, models.NewPaymentError(models.ErrInvalidRequest, "error.post_auth_unavailable")
	}
	e := fm.entry(flowID, false)
	if e == nil {
		return gateway.PostAuthResult{}, models.NewPaymentError(models.ErrInvalidRequest, "error.flow_unknown")
	}
	snap := e.machine.Snapshot()
	if snap.State != flow.StateDone || snap.Context.Intent == nil {
		return gateway.PostAuthResult{}, models.NewPaymentError(models.ErrInvalidRequest, "error.flow_not_settled")
	}
	req := gateway.PostAuthRequest{
		Provider: snap.Context.Provider,
		IntentID: snap.Context.Intent.ID,
		Amount:   snap.Context.Intent.Amount,
		Reason:   reason,
	}
	switch op {
	case PostAuthCapture:
		return fm.deps.PostAuth.Capture(ctx, req)
	case PostAuthRefund:
		return fm.deps.PostAuth.Refund(ctx, req)
	case PostAuthVoid:
		return fm.deps.PostAuth.Void(ctx, req)
	default:
		return gateway.PostAuthResult{}, models.NewPaymentError(models.ErrInvalidRequest, "error.unknown_operation")
	}
}

// FallbackState returns the fallback orchestrator state for a flow.
func (fm *FlowManager) FallbackState(flowID string) (fallback.State, bool) {
	e := fm.entry(flowID, false)
	if e == nil {
		return fallback.State{}, false
	}
	return e.orch.State(), true
}

func (fm *FlowManager) lookupByNonce(nonce string) *flowEntry {
	fm.mu.RLock()
	defer fm.mu.RUnlock()
	flowID, ok := fm.nonceIndex[nonce]
	if !ok {
		return nil
	}
	return fm.flows[flowID]
}

// indexingSink sits in the persistence slot of the pipeline so the nonce
// index is updated synchronously with every transition, including the
// asynchronous provider results that first establish the nonce.
type indexingSink struct {
	fm     *FlowManager
	flowID string
	inner  flow.PersistenceSink
}

func (s *indexingSink) HandleSnapshot(snap flow.Snapshot) error {
	if snap.Context.Nonce != "" {
		s.fm.mu.Lock()
		s.fm.nonceIndex[snap.Context.Nonce] = s.flowID
		s.fm.mu.Unlock()
	}
	if s.inner == nil {
		return nil
	}
	return s.inner.HandleSnapshot(snap)
}
