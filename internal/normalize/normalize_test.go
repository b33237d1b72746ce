package normalize

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenLastOccurrenceWins(t *testing.T) {
	flat := Flatten(url.Values{
		"token":  {"first", "last"},
		"single": {"only"},
		"empty":  {},
	})
	assert.Equal(t, "last", flat["token"])
	assert.Equal(t, "only", flat["single"])
	_, ok := flat["empty"]
	assert.False(t, ok)
}

func TestStripeNormalizeRedirect(t *testing.T) {
	n := StripeNormalizer{}

	ret := n.NormalizeRedirect(url.Values{
		"payment_intent":  {"pi_1"},
		"redirect_status": {"succeeded"},
	})
	require.NotNil(t, ret)
	assert.Equal(t, "stripe", ret.Provider)
	assert.Equal(t, "pi_1", ret.ReferenceID)
	assert.True(t, ret.Succeeded)

	ret = n.NormalizeRedirect(url.Values{
		"payment_intent":  {"pi_2"},
		"redirect_status": {"failed"},
	})
	require.NotNil(t, ret)
	assert.False(t, ret.Succeeded)

	// Irrelevant query strings are dropped, not errored.
	assert.Nil(t, n.NormalizeRedirect(url.Values{"utm_source": {"mail"}}))
}

func TestStripeNormalizeRedirectRepeatedKeys(t *testing.T) {
	ret := StripeNormalizer{}.NormalizeRedirect(url.Values{
		"payment_intent": {"pi_old", "pi_new"},
	})
	require.NotNil(t, ret)
	assert.Equal(t, "pi_new", ret.ReferenceID)
}

func TestStripeNormalizeWebhook(t *testing.T) {
	n := StripeNormalizer{}

	payload := []byte(`{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","status":"succeeded"}}}`)
	evt := n.NormalizeWebhook(payload, nil)
	require.NotNil(t, evt)
	assert.Equal(t, "stripe", evt.Provider)
	assert.Equal(t, "pi_1", evt.ReferenceID)
	assert.Equal(t, "succeeded", evt.Status)
	assert.Equal(t, "payment_intent.succeeded", evt.EventType)

	// Non-payment events and malformed payloads are dropped silently.
	assert.Nil(t, n.NormalizeWebhook([]byte(`{"type":"customer.created","data":{"object":{"id":"cus_1"}}}`), nil))
	assert.Nil(t, n.NormalizeWebhook([]byte(`not json`), nil))
	assert.Nil(t, n.NormalizeWebhook([]byte(`{"type":"payment_intent.succeeded","data":{"object":{}}}`), nil))
}

func TestPayPalNormalizeRedirect(t *testing.T) {
	n := PayPalNormalizer{}

	ret := n.NormalizeRedirect(url.Values{"token": {"first", "last"}})
	require.NotNil(t, ret)
	assert.Equal(t, "paypal", ret.Provider)
	assert.Equal(t, "last", ret.ReferenceID)
	assert.True(t, ret.Succeeded)

	ret = n.NormalizeRedirect(url.Values{"orderID": {"ord_1"}, "cancelled": {"true"}})
	require.NotNil(t, ret)
	assert.Equal(t, "ord_1", ret.ReferenceID)
	assert.False(t, ret.Succeeded)

	assert.Nil(t, n.NormalizeRedirect(url.Values{"foo": {"bar"}}))
}

func TestPayPalNormalizeWebhook(t *testing.T) {
	n := PayPalNormalizer{}

	payload := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap_1","status":"COMPLETED"}}`)
	evt := n.NormalizeWebhook(payload, nil)
	require.NotNil(t, evt)
	assert.Equal(t, "paypal", evt.Provider)
	assert.Equal(t, "cap_1", evt.ReferenceID)
	assert.Equal(t, "completed", evt.Status)

	assert.Nil(t, n.NormalizeWebhook([]byte(`{"event_type":"BILLING.PLAN.CREATED","resource":{"id":"p_1"}}`), nil))
	assert.Nil(t, n.NormalizeWebhook([]byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{}}`), nil))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(map[string]Normalizer{
		"stripe": StripeNormalizer{},
		"paypal": PayPalNormalizer{},
	})
	assert.NotNil(t, reg.Lookup("stripe"))
	assert.Nil(t, reg.Lookup("adyen"))
	assert.Equal(t, []string{"paypal", "stripe"}, reg.Providers())
}
