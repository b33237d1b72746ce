package models

import "fmt"

// Violation reports a rejected value during construction of a domain value.
type Violation struct {
	Field  string
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// Money is an amount in minor units of an ISO 4217 currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64, currency string) (Money, error) {
	if amount <= 0 {
		return Money{}, &Violation{Field: "amount", Reason: "must be positive"}
	}
	if len(currency) != 3 {
		return Money{}, &Violation{Field: "currency", Reason: "must be a 3-letter ISO code"}
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return Money{}, &Violation{Field: "currency", Reason: "must be upper-case letters"}
		}
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// OrderID identifies the merchant order a payment attempt belongs to.
type OrderID string

func NewOrderID(raw string) (OrderID, error) {
	if raw == "" {
		return "", &Violation{Field: "order_id", Reason: "must not be empty"}
	}
	if len(raw) > 255 {
		return "", &Violation{Field: "order_id", Reason: "exceeds 255 characters"}
	}
	return OrderID(raw), nil
}

// IntentID identifies a provider-issued payment intent.
type IntentID string

func NewIntentID(raw string) (IntentID, error) {
	if raw == "" {
		return "", &Violation{Field: "intent_id", Reason: "must not be empty"}
	}
	return IntentID(raw), nil
}
