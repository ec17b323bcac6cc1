package integrations

import (
	"fmt"
	"sync"
)

// Registry holds provider registrations in registration order. Lookups are
// safe for concurrent use; registration normally happens once at startup.
type Registry struct {
	mu      sync.RWMutex
	order   []ProviderType
	entries map[ProviderType]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[ProviderType]Registration)}
}

// Register appends a provider. Registering the same type twice is an error.
func (r *Registry) Register(reg Registration) error {
	if reg.Type == "" {
		return ErrInvalidProviderType
	}
	if reg.RequiresCredentials && reg.SecretKind == SecretNone {
		return fmt.Errorf("%w: %s requires credentials but declares no secret kind", ErrInvalidRegistration, reg.Type)
	}
	seen := make(map[string]struct{}, len(reg.Tools))
	for _, tool := range reg.Tools {
		if tool.Name == "" {
			return fmt.Errorf("%w: %s declares a tool without a name", ErrInvalidRegistration, reg.Type)
		}
		if _, dup := seen[tool.Name]; dup {
			return fmt.Errorf("%w: %s declares tool %q twice", ErrInvalidRegistration, reg.Type, tool.Name)
		}
		seen[tool.Name] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[reg.Type]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, reg.Type)
	}
	r.entries[reg.Type] = reg
	r.order = append(r.order, reg.Type)
	return nil
}

// Lookup returns the registration for a provider type.
func (r *Registry) Lookup(t ProviderType) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[t]
	return reg, ok
}

// Registrations returns every registration in registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.order))
	for _, t := range r.order {
		out = append(out, r.entries[t])
	}
	return out
}

// SecretKindFor returns the secret variant a provider stores.
func (r *Registry) SecretKindFor(t ProviderType) (SecretKind, error) {
	reg, ok := r.Lookup(t)
	if !ok {
		return SecretNone, fmt.Errorf("%w: %s", ErrProviderNotSupported, t)
	}
	return reg.SecretKind, nil
}
