package sms

import (
	"context"
	"strings"
)

// SendResult is the provider's dispatch outcome. MessageID is only set by
// providers that report delivery asynchronously; the delivery webhook
// correlates status updates by this id.
type SendResult struct {
	Success   bool
	MessageID string
	Status    string
}

// Provider is the single capability the issuance service needs from an SMS
// carrier. Exactly one provider is active per environment, selected by
// configuration.
type Provider interface {
	Name() string
	Send(ctx context.Context, to, body string) (*SendResult, error)
}

// Registry dispatches to the configured provider by name. Selection is a
// table lookup so adding a carrier never touches call sites.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	registry := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		registry.providers[strings.ToLower(p.Name())] = p
	}
	return registry
}

// Get returns the provider registered under name, or false when the
// configured provider matches no implementation.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}
