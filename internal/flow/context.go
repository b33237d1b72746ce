package flow

import (
	"time"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
)

// Event is one input delivered to the machine. Only the fields relevant to
// its type are set.
type Event struct {
	Type     EventType
	Provider string
	Nonce    string
	// Epoch stamps results of dispatched operations so results of a
	// superseded operation are recognized and dropped. Zero means
	// external origin, checked by provider/nonce instead.
	Epoch int

	Intent  *models.PaymentIntent
	Err     *models.PaymentError
	Request *models.PaymentRequest
	Status  models.IntentStatus

	// Fallback command payload.
	TargetProvider  string
	FallbackEventID string
	AutoFallback    bool

	// Finalize reported the provider has no finalize step; treated as a
	// no-op, not a failure.
	FinalizeUnsupported bool
}

// Context is the machine's working memory for the current attempt. It is
// created on START, replaced wholesale on RESET and partially updated by
// every transition.
type Context struct {
	FlowID   string                 `json:"flow_id"`
	Provider string                 `json:"provider"`
	Attempt  int                    `json:"attempt"`
	Nonce    string                 `json:"nonce,omitempty"`
	Intent   *models.PaymentIntent  `json:"intent,omitempty"`
	Request  *models.PaymentRequest `json:"request,omitempty"`
	LastErr  *models.PaymentError   `json:"last_error,omitempty"`

	// Reconciled records nonces whose settlement side effects already
	// ran, so provider retries are accepted without re-triggering them.
	Reconciled map[string]bool `json:"reconciled,omitempty"`

	FallbackFrom       string   `json:"fallback_from,omitempty"`
	FallbackCandidates []string `json:"fallback_candidates,omitempty"`
	AutoFallback       bool     `json:"auto_fallback,omitempty"`
}

func newContext(flowID string) Context {
	return Context{FlowID: flowID, Reconciled: make(map[string]bool)}
}

func (c *Context) clone() Context {
	cp := *c
	cp.Reconciled = make(map[string]bool, len(c.Reconciled))
	for k, v := range c.Reconciled {
		cp.Reconciled[k] = v
	}
	cp.FallbackCandidates = append([]string(nil), c.FallbackCandidates...)
	return cp
}

// Snapshot is the per-transition record dispatched through the snapshot
// pipeline and exposed to callers.
type Snapshot struct {
	FlowID   string    `json:"flow_id"`
	State    State     `json:"state"`
	Previous State     `json:"previous_state"`
	Event    EventType `json:"event"`
	Context  Context   `json:"context"`
	At       time.Time `json:"at"`
}
