package normalize

import (
	"encoding/json"
	"net/url"
	"strings"
)

// PayPalNormalizer maps PayPal redirect returns and webhook deliveries to
// canonical events.
type PayPalNormalizer struct{}

func (PayPalNormalizer) NormalizeRedirect(values url.Values) *CanonicalReturn {
	params := Flatten(values)
	ref := params["token"]
	if ref == "" {
		ref = params["orderID"]
	}
	if ref == "" {
		return nil
	}
	return &CanonicalReturn{
		Provider:    "paypal",
		ReferenceID: ref,
		Succeeded:   params["cancelled"] != "true",
		Params:      params,
	}
}

type paypalWebhookEnvelope struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

func (PayPalNormalizer) NormalizeWebhook(payload []byte, headers map[string][]string) *CanonicalEvent {
	var env paypalWebhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil
	}
	if env.Resource.ID == "" || !strings.HasPrefix(env.EventType, "CHECKOUT.") && !strings.HasPrefix(env.EventType, "PAYMENT.") {
		return nil
	}
	return &CanonicalEvent{
		Provider:    "paypal",
		ReferenceID: env.Resource.ID,
		Status:      strings.ToLower(env.Resource.Status),
		EventType:   env.EventType,
		Raw:         payload,
	}
}
