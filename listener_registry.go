package librtm

import (
	"github.com/pkg/errors"
)

type listenerEntry struct {
	listener Listener
	// stop ends the liveness monitor of this entry.
	stop chan struct{}
}

// ListenerRegistry is the set of listeners events are broadcast to, kept in
// insertion order.
//
// It is not safe for concurrent use: the supervisor goroutine is its only
// caller. Liveness monitors run on their own goroutines and report through
// the unreachable callback, which must hand the listener back to the owner
// instead of calling Remove directly.
type ListenerRegistry struct {
	logger      Logger
	entries     []*listenerEntry
	index       map[Listener]*listenerEntry
	unreachable func(Listener)
}

// NewListenerRegistry creates an empty registry. unreachable is called, from
// a monitor goroutine, when a listener signals through Done that it is gone.
func NewListenerRegistry(logger Logger, unreachable func(Listener)) *ListenerRegistry {
	return &ListenerRegistry{
		logger:      logger.WithField("component", "listener_registry"),
		index:       make(map[Listener]*listenerEntry),
		unreachable: unreachable,
	}
}

// Add registers l. Registering the same listener twice is a no-op and
// returns false.
func (r *ListenerRegistry) Add(l Listener) bool {
	if l == nil {
		return false
	}
	if _, found := r.index[l]; found {
		return false
	}

	entry := &listenerEntry{listener: l, stop: make(chan struct{})}
	r.entries = append(r.entries, entry)
	r.index[l] = entry

	if ll, ok := l.(livenessListener); ok && r.unreachable != nil {
		if done := ll.Done(); done != nil {
			go r.monitor(entry, done)
		}
	}

	return true
}

func (r *ListenerRegistry) monitor(entry *listenerEntry, done <-chan struct{}) {
	select {
	case <-done:
		r.unreachable(entry.listener)
	case <-entry.stop:
	}
}

// Remove unregisters l. Removing an unknown listener is a no-op and returns false.
func (r *ListenerRegistry) Remove(l Listener) bool {
	entry, found := r.index[l]
	if !found {
		return false
	}

	delete(r.index, l)
	close(entry.stop)

	for i, e := range r.entries {
		if e == entry {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			break
		}
	}

	return true
}

// Has reports whether l is registered.
func (r *ListenerRegistry) Has(l Listener) bool {
	_, found := r.index[l]
	return found
}

func (r *ListenerRegistry) Len() int {
	return len(r.entries)
}

// Broadcast delivers ev to every registered listener in insertion order.
// Listeners answering ErrListenerGone are removed afterwards. A panicking
// listener is logged and skipped.
func (r *ListenerRegistry) Broadcast(ev Event) {
	var gone []Listener

	for _, entry := range r.entries {
		err := r.deliver(entry.listener, ev)
		switch {
		case err == nil:
		case errors.Is(err, ErrListenerGone):
			gone = append(gone, entry.listener)
		default:
			r.logger.Warnf("cannot deliver %q event to %T: %s", ev.EventType(), entry.listener, err)
		}
	}

	for _, l := range gone {
		r.logger.Debugf("pruning gone listener %T", l)
		r.Remove(l)
	}
}

func (r *ListenerRegistry) deliver(l Listener, ev Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("listener panicked: %v", rec)
		}
	}()
	return l.Deliver(ev)
}

// Close removes every listener and stops all liveness monitors.
func (r *ListenerRegistry) Close() {
	for _, entry := range r.entries {
		close(entry.stop)
	}
	r.entries = nil
	r.index = make(map[Listener]*listenerEntry)
}
