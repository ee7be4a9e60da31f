package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// FormDataPolicy tells the bridge which payload shape a handler expects.
type FormDataPolicy int

const (
	// FormDataNone passes the envelope payload through unchanged.
	FormDataNone FormDataPolicy = iota
	// CollectFullForm requires a complete form snapshot, not only the
	// clicked element's own value.
	CollectFullForm
	// UseGivenPayload passes the payload as-is to imperative actions.
	UseGivenPayload
)

func (p FormDataPolicy) String() string {
	switch p {
	case FormDataNone:
		return "none"
	case CollectFullForm:
		return "collect_full_form"
	case UseGivenPayload:
		return "use_given_payload"
	default:
		return fmt.Sprintf("FormDataPolicy(%d)", int(p))
	}
}

// Request is what a handler sees of an envelope once the bridge accepted it.
type Request struct {
	ID        string
	Action    Canonical
	Payload   map[string]interface{}
	Confirmed bool
}

// Handler produces exactly one Outcome per request; returning is the only
// way to deliver it.
type Handler func(ctx context.Context, req *Request) Outcome

// Descriptor describes one registered action.
type Descriptor struct {
	// Name is the identifier as written by the registering code; it is
	// normalized on registration.
	Name                 string
	Handler              Handler
	RequiresConfirmation bool
	FormData             FormDataPolicy
	// FormFields lists the field ids a CollectFullForm payload must contain.
	FormFields []string
	// PayloadSchema, when set, is a JSON schema the payload must satisfy.
	PayloadSchema map[string]interface{}
	// Async handlers run off the dispatch loop and are bounded by Timeout.
	Async   bool
	Timeout time.Duration

	canonical Canonical
}

// Canonical returns the registry key of the descriptor.
func (d Descriptor) Canonical() Canonical { return d.canonical }

var ErrRegistrySealed = errors.New("action registry is sealed")

// DuplicateActionError is returned when two descriptors normalize to the same
// canonical action.
type DuplicateActionError struct {
	Action   Canonical
	Existing string
	Incoming string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("duplicate action %q: %q collides with already registered %q", e.Action, e.Incoming, e.Existing)
}

// Registry maps canonical actions to descriptors. It is filled once at
// startup, then sealed; after that only reads happen.
type Registry struct {
	mu      sync.RWMutex
	entries map[Canonical]Descriptor
	sealed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Canonical]Descriptor)}
}

// Register adds a descriptor. A canonical collision is an error and leaves
// the existing entry in place.
func (r *Registry) Register(d Descriptor) error {
	c, err := Normalize(d.Name)
	if err != nil {
		return fmt.Errorf("register %q: %w", d.Name, err)
	}
	if d.Handler == nil {
		return fmt.Errorf("register %q: nil handler", d.Name)
	}
	d.canonical = c
	d.FormFields = append([]string(nil), d.FormFields...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("register %q: %w", d.Name, ErrRegistrySealed)
	}
	if existing, ok := r.entries[c]; ok {
		return &DuplicateActionError{Action: c, Existing: existing.Name, Incoming: d.Name}
	}
	r.entries[c] = d
	return nil
}

// RegisterAll registers an explicit list and stops at the first error.
func (r *Registry) RegisterAll(ds ...Descriptor) error {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

// Seal freezes the registry.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve looks up a canonical action. Unknown actions are not an error.
func (r *Registry) Resolve(c Canonical) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[c]
	return d, ok
}

// Actions returns all registered canonical actions, sorted.
func (r *Registry) Actions() []Canonical {
	r.mu.RLock()
	out := make([]Canonical, 0, len(r.entries))
	for c := range r.entries {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
