package eventing

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// ErrUnknownEventType indicates an envelope whose type was never registered.
var ErrUnknownEventType = fmt.Errorf("eventing: unknown event type")

// Registry maps envelope type names to decoders so the dispatcher can turn
// stored payloads back into concrete events.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]reflect.Type
}

// NewRegistry constructs a registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]reflect.Type)}
}

// Register records one or more event samples (values or pointers).
func (r *Registry) Register(samples ...any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sample := range samples {
		if sample == nil {
			continue
		}
		t := reflect.TypeOf(sample)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.decoders[t.String()] = t
	}
}

// DecodePayload decodes an envelope payload into its registered event value.
func (r *Registry) DecodePayload(env Envelope) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("eventing: nil registry")
	}
	r.mu.RLock()
	t, ok := r.decoders[env.EventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(env.Payload, target.Interface()); err != nil {
		return nil, err
	}
	return target.Elem().Interface(), nil
}
