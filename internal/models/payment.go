package models

import "time"

// IntentStatus is the provider-reported status of a payment intent.
type IntentStatus string

const (
	StatusRequiresPaymentMethod IntentStatus = "requires_payment_method"
	StatusRequiresConfirmation  IntentStatus = "requires_confirmation"
	StatusRequiresAction        IntentStatus = "requires_action"
	StatusProcessing            IntentStatus = "processing"
	StatusSucceeded             IntentStatus = "succeeded"
	StatusFailed                IntentStatus = "failed"
	StatusCanceled              IntentStatus = "canceled"
)

// ActionKind tags the NextAction union.
type ActionKind string

const (
	ActionRedirect      ActionKind = "redirect"
	ActionClientConfirm ActionKind = "client_confirm"
	ActionManualStep    ActionKind = "manual_step"
	ActionExternalWait  ActionKind = "external_wait"
)

// NextAction tells the flow what the user or client must do before the
// provider can settle the intent. Only the fields of the tagged kind are
// populated.
type NextAction struct {
	Kind         ActionKind        `json:"kind"`
	URL          string            `json:"url,omitempty"`
	Token        string            `json:"token,omitempty"`
	ReturnURL    string            `json:"return_url,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	Hint         string            `json:"hint,omitempty"`
}

// PaymentIntent is a provider-issued result. It is immutable: later calls
// supersede it with a new value, they never mutate it.
type PaymentIntent struct {
	ID           IntentID          `json:"id"`
	Provider     string            `json:"provider"`
	Status       IntentStatus      `json:"status"`
	Amount       Money             `json:"amount"`
	NextAction   *NextAction       `json:"next_action,omitempty"`
	ProviderRefs map[string]string `json:"provider_refs,omitempty"`
	Raw          []byte            `json:"-"` // diagnostics only, never inspected
	CreatedAt    time.Time         `json:"created_at"`
}

// Terminal reports whether the intent can no longer change at the provider.
func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// PaymentRequest is the caller's original request. It is carried unchanged
// through fallback so a retry on another provider uses identical inputs.
type PaymentRequest struct {
	OrderID   OrderID           `json:"order_id"`
	Amount    Money             `json:"amount"`
	Method    string            `json:"method,omitempty"`
	ReturnURL string            `json:"return_url,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FailedAttempt is one entry in the fallback orchestrator's append-only
// attempt ledger.
type FailedAttempt struct {
	ProviderID      string        `json:"provider_id"`
	Error           *PaymentError `json:"error"`
	Timestamp       time.Time     `json:"timestamp"`
	WasAutoFallback bool          `json:"was_auto_fallback"`
}
