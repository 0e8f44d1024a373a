package conduit

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/burre/midiconduit/internal/core"
	"github.com/burre/midiconduit/internal/core/midi"
)

// Sink receives every message read from every connected peer.
//
// Sinks are compared by identity when registering and unregistering, so an
// implementation must be a comparable type (in practice, a pointer). Sinks of
// other types, such as funcs, are refused by Register.
type Sink interface {
	Deliver(msg midi.Message)
}

// Registry is the concurrency-safe set of sinks shared by a Server and all of
// its Connections. Connections consult it each time a frame arrives, so a sink
// registered at any point receives every frame read after that point.
type Registry struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger logrus.FieldLogger
}

func NewRegistry() *Registry {
	return &Registry{logger: core.DiscardLogger()}
}

// Register adds a sink. Registering a sink that is already present does nothing.
func (r *Registry) Register(s Sink) {
	if s == nil {
		return
	}
	if !reflect.TypeOf(s).Comparable() {
		r.logger.Warnf("refusing to register sink of type %T: it cannot be compared for unregistration", s)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sinks {
		if existing == s {
			return
		}
	}
	r.sinks = append(r.sinks, s)
}

// Unregister removes a sink. Unregistering an unknown sink does nothing.
func (r *Registry) Unregister(s Sink) {
	if s == nil || !reflect.TypeOf(s).Comparable() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.sinks {
		if existing == s {
			r.sinks = append(r.sinks[:i], r.sinks[i+1:]...)
			return
		}
	}
}

// Snapshot returns the current sinks in registration order.
func (r *Registry) Snapshot() []Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	return sinks
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Deliver sends msg to each registered sink in order.
func (r *Registry) Deliver(msg midi.Message) {
	for _, s := range r.Snapshot() {
		s.Deliver(msg)
	}
}
