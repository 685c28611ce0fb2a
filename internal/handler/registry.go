package handler

import (
	"fmt"
)

// UnknownKindPolicy decides what happens when an event's entity kind has no
// registered handler.
type UnknownKindPolicy string

const (
	// UnknownKindFail rejects events of unregistered kinds. This is the
	// default: silently passing through an unknown kind during restore can
	// leave unremapped ids in payloads.
	UnknownKindFail UnknownKindPolicy = "fail"

	// UnknownKindPassThrough forwards events of unregistered kinds through
	// the pass-through handler.
	UnknownKindPassThrough UnknownKindPolicy = "passthrough"
)

// UnknownKindError reports an event whose kind has no registered handler
// under the fail policy.
type UnknownKindError struct {
	Kind string
}

// Error implements the error interface.
func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for entity kind %q", e.Kind)
}

// Registry resolves entity kinds to handlers. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	handlers    map[string]Handler
	policy      UnknownKindPolicy
	passThrough Handler
}

// NewRegistry creates a registry with the given unknown-kind policy.
func NewRegistry(policy UnknownKindPolicy, handlers ...Handler) (*Registry, error) {
	if policy != UnknownKindFail && policy != UnknownKindPassThrough {
		return nil, fmt.Errorf("unsupported unknown-kind policy: %q", policy)
	}

	r := &Registry{
		handlers:    make(map[string]Handler, len(handlers)),
		policy:      policy,
		passThrough: NewPassThroughHandler(),
	}
	for _, h := range handlers {
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("duplicate handler for entity kind %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

// NewDefaultRegistry creates a registry with all built-in entity handlers.
func NewDefaultRegistry(policy UnknownKindPolicy) (*Registry, error) {
	return NewRegistry(policy,
		NewContentHandler(),
		NewAssetHandler(),
		NewSchemaHandler(),
	)
}

// Resolve returns the handler for an entity kind. Under the fail policy an
// unregistered kind returns UnknownKindError; under the pass-through policy
// it returns the shared pass-through handler.
func (r *Registry) Resolve(kind string) (Handler, error) {
	if h, ok := r.handlers[kind]; ok {
		return h, nil
	}
	if r.policy == UnknownKindPassThrough {
		return r.passThrough, nil
	}
	return nil, &UnknownKindError{Kind: kind}
}

// All returns the registered handlers.
func (r *Registry) All() []Handler {
	out := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h)
	}
	return out
}

// Kinds returns the registered entity kinds.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}
