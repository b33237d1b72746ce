package models

// ErrorCode is the closed taxonomy of normalized payment failures. Provider
// boundaries convert every raw failure into one of these before it reaches
// the flow machine.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "invalid_request"
	ErrCardDeclined        ErrorCode = "card_declined"
	ErrInsufficientFunds   ErrorCode = "insufficient_funds"
	ErrExpiredCard         ErrorCode = "expired_card"
	ErrProviderUnavailable ErrorCode = "provider_unavailable"
	ErrProviderError       ErrorCode = "provider_error"
	ErrNetworkError        ErrorCode = "network_error"
	ErrTimeout             ErrorCode = "timeout"
	ErrUnknown             ErrorCode = "unknown_error"
)

var knownCodes = map[ErrorCode]struct{}{
	ErrInvalidRequest:      {},
	ErrCardDeclined:        {},
	ErrInsufficientFunds:   {},
	ErrExpiredCard:         {},
	ErrProviderUnavailable: {},
	ErrProviderError:       {},
	ErrNetworkError:        {},
	ErrTimeout:             {},
	ErrUnknown:             {},
}

// ValidErrorCode reports whether code is part of the taxonomy.
func ValidErrorCode(code ErrorCode) bool {
	_, ok := knownCodes[code]
	return ok
}

// PaymentError is a normalized failure. MessageKey is an opaque i18n key
// resolved by the caller's catalog; the core never renders text.
type PaymentError struct {
	Code       ErrorCode         `json:"code"`
	MessageKey string            `json:"message_key"`
	Params     map[string]string `json:"params,omitempty"`
	Raw        string            `json:"-"` // diagnostics only
}

func (e *PaymentError) Error() string {
	return string(e.Code) + " (" + e.MessageKey + ")"
}

// NewPaymentError builds a normalized error, coercing unknown codes to
// unknown_error so the taxonomy stays closed.
func NewPaymentError(code ErrorCode, messageKey string) *PaymentError {
	if !ValidErrorCode(code) {
		code = ErrUnknown
	}
	return &PaymentError{Code: code, MessageKey: messageKey}
}

// AsPaymentError returns err as a *PaymentError, wrapping anything else as
// unknown_error. The flow machine only ever sees the normalized form.
func AsPaymentError(err error) *PaymentError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PaymentError); ok {
		return pe
	}
	return &PaymentError{Code: ErrUnknown, MessageKey: "error.unknown", Raw: err.Error()}
}
