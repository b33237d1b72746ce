package normalize

import (
	"encoding/json"
	"net/url"
)

// StripeNormalizer maps Stripe redirect returns and webhook deliveries to
// canonical events.
type StripeNormalizer struct{}

func (StripeNormalizer) NormalizeRedirect(values url.Values) *CanonicalReturn {
	params := Flatten(values)
	ref := params["payment_intent"]
	if ref == "" {
		return nil
	}
	return &CanonicalReturn{
		Provider:    "stripe",
		ReferenceID: ref,
		Succeeded:   params["redirect_status"] != "failed",
		Params:      params,
	}
}

type stripeWebhookEnvelope struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (StripeNormalizer) NormalizeWebhook(payload []byte, headers map[string][]string) *CanonicalEvent {
	var env stripeWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}
	if env.Data.Object.ID == "" {
		return nil
	}
	switch env.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.processing", "payment_intent.canceled":
	default:
		return nil
	}
	return &CanonicalEvent{
		Provider:    "stripe",
		ReferenceID: env.Data.Object.ID,
		Status:      env.Data.Object.Status,
		EventType:   env.Type,
		Raw:         payload,
	}
}
