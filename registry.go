package pinws

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// Listener receives the context (pin) and body of a model frame. Registry
// calls it on the goroutine running Dispatch, so a listener registered there
// directly must not wait on a reply that same goroutine would dispatch.
// Client.Subscribe moves listeners off that goroutine.
type Listener func(pin string, body json.RawMessage)

// Registry matches inbound model frames to the waits and subscriptions
// interested in them. One-shot waits are keyed by pin and dropped after their
// first reply; subscriptions see every model frame until removed.
type Registry struct {
	report func(error)

	mu     sync.Mutex
	waits  map[string]chan json.RawMessage
	subs   map[uint64]Listener
	nextID uint64
	closed bool
}

// NewRegistry returns an empty registry reporting protocol errors to report.
func NewRegistry(report func(error)) *Registry {
	if report == nil {
		report = func(error) {}
	}

	return &Registry{
		report: report,
		waits:  make(map[string]chan json.RawMessage),
		subs:   make(map[uint64]Listener),
	}
}

// Wait registers a one-shot wait for pin. The returned channel yields the body
// of the first model frame carrying pin and is closed without value if the
// registry closes first. cancel abandons the wait and may be called any number
// of times.
func (r *Registry) Wait(pin string) (reply <-chan json.RawMessage, cancel func(), err error) {
	if pin == "" {
		return nil, nil, errors.Wrap(ErrMissingContext, "cannot wait on an empty pin")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, nil, ErrClientClosed
	}

	if _, ok := r.waits[pin]; ok {
		return nil, nil, errors.Wrap(ErrDuplicatePin, pin)
	}

	ch := make(chan json.RawMessage, 1)
	r.waits[pin] = ch

	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.waits[pin] == ch {
			delete(r.waits, pin)
		}
	}

	return ch, cancel, nil
}

// Subscribe registers l for every model frame. unsubscribe is idempotent and
// safe to call after the registry has been closed.
func (r *Registry) Subscribe(l Listener) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return func() {}
	}

	r.nextID++
	id := r.nextID
	r.subs[id] = l

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		delete(r.subs, id)
	}
}

// Dispatch delivers a frame. Frames other than model frames are ignored. A model
// frame without context is reported and skipped.
func (r *Registry) Dispatch(f Frame) {
	if f.Prefix != PrefixModel {
		return
	}

	if !f.HasContext() {
		r.report(newProtocolError(f.String(), ErrMissingContext))
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	if ch, ok := r.waits[f.Context]; ok {
		delete(r.waits, f.Context)
		ch <- f.Body
	}

	subs := make([]Listener, 0, len(r.subs))
	for _, l := range r.subs {
		subs = append(subs, l)
	}
	r.mu.Unlock()

	for _, l := range subs {
		l(f.Context, f.Body)
	}
}

// Pending returns the number of one-shot waits still unanswered.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.waits)
}

// Subscribers returns the number of active subscriptions.
func (r *Registry) Subscribers() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs)
}

// Close drops every listener and releases pending waits.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true

	for pin, ch := range r.waits {
		close(ch)
		delete(r.waits, pin)
	}
	r.subs = make(map[uint64]Listener)
}
