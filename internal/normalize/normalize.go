package normalize

import (
	"net/url"
	"sort"
)

// CanonicalReturn is the normalized shape of a redirect return. ReferenceID
// is the correlation nonce matched against the initiating attempt.
type CanonicalReturn struct {
	Provider    string
	ReferenceID string
	Succeeded   bool
	Params      map[string]string
}

// CanonicalEvent is the normalized shape of a webhook delivery.
type CanonicalEvent struct {
	Provider    string
	ReferenceID string
	Status      string
	EventType   string
	Raw         []byte
}

// Normalizer turns a provider-specific raw payload into a canonical event.
// A nil result means the payload is not relevant to payment flows and must
// be dropped silently.
type Normalizer interface {
	NormalizeRedirect(values url.Values) *CanonicalReturn
	NormalizeWebhook(payload []byte, headers map[string][]string) *CanonicalEvent
}

// Registry maps provider id to its normalizer. It is populated at startup
// and treated as immutable afterwards.
type Registry struct {
	byProvider map[string]Normalizer
}

func NewRegistry(normalizers map[string]Normalizer) *Registry {
	cp := make(map[string]Normalizer, len(normalizers))
	for id, n := range normalizers {
		cp[id] = n
	}
	return &Registry{byProvider: cp}
}

// Lookup returns the normalizer for a provider id, or nil if none is
// registered.
func (r *Registry) Lookup(providerID string) Normalizer {
	return r.byProvider[providerID]
}

// Providers returns the registered provider ids, sorted.
func (r *Registry) Providers() []string {
	ids := make([]string, 0, len(r.byProvider))
	for id := range r.byProvider {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flatten collapses repeated query keys with last-occurrence-wins. Every
// normalizer applies this before inspecting well-known parameter names.
func Flatten(values url.Values) map[string]string {
	flat := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		flat[key] = vals[len(vals)-1]
	}
	return flat
}
