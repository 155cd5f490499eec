package librtm

import (
	"context"
	"sync"
)

type (
	// Listener receives decoded events. Implementations are used as map keys
	// by the registry, so they must be comparable (pointer types are).
	//
	// Deliver runs on the supervisor goroutine: it must not block and must
	// not call back into the client. Returning ErrListenerGone unregisters
	// the listener. HandlerListener hands events to its own goroutine and is
	// the way to run arbitrary callbacks.
	Listener interface {
		Deliver(ev Event) error
	}

	// livenessListener is implemented by listeners that can signal from the
	// outside that they are unreachable. Once Done is closed the listener is
	// pruned without an explicit remove.
	livenessListener interface {
		Listener
		Done() <-chan struct{}
	}
)

// DefaultHandlerQueue is how many events a HandlerListener buffers before it
// starts dropping them.
const DefaultHandlerQueue = 256

// HandlerListener invokes a callback for every delivered event until closed.
// Callbacks run on the listener's own goroutine, one at a time and in
// delivery order, so they may call back into the client.
type HandlerListener struct {
	fn        func(Event)
	logger    Logger
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandlerListener starts a listener around fn. Close it to release its
// goroutine.
func NewHandlerListener(fn func(Event)) *HandlerListener {
	return newHandlerListener(fn, NoopLogger(), DefaultHandlerQueue)
}

func newHandlerListener(fn func(Event), logger Logger, size int) *HandlerListener {
	h := &HandlerListener{
		fn:     fn,
		logger: logger.WithField("component", "handler_listener"),
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go h.run()
	return h
}

// Deliver queues ev without blocking. It returns ErrListenerFull when the
// callback lags behind.
func (h *HandlerListener) Deliver(ev Event) error {
	select {
	case <-h.done:
		return ErrListenerGone
	default:
	}
	select {
	case h.queue <- ev:
		return nil
	default:
		return ErrListenerFull
	}
}

func (h *HandlerListener) run() {
	for {
		select {
		case <-h.done:
			return
		case ev := <-h.queue:
			select {
			case <-h.done:
				return
			default:
			}
			h.call(ev)
		}
	}
}

func (h *HandlerListener) call(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Errorf("listener panicked on %q event: %v", ev.EventType(), rec)
		}
	}()
	h.fn(ev)
}

func (h *HandlerListener) Done() <-chan struct{} { return h.done }

// Close stops deliveries and the callback goroutine. Queued events are
// discarded. The registry forgets the listener shortly after.
func (h *HandlerListener) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ChanListener buffers events into a channel. Events arriving while the
// buffer is full are dropped. The listener is gone once ctx is done.
type ChanListener struct {
	ctx context.Context
	c   chan Event
}

func NewChanListener(ctx context.Context, size int) *ChanListener {
	return &ChanListener{ctx: ctx, c: make(chan Event, size)}
}

// C returns the channel events are delivered to.
func (l *ChanListener) C() <-chan Event { return l.c }

func (l *ChanListener) Deliver(ev Event) error {
	if l.ctx.Err() != nil {
		return ErrListenerGone
	}
	select {
	case l.c <- ev:
		return nil
	default:
		return ErrListenerFull
	}
}

func (l *ChanListener) Done() <-chan struct{} { return l.ctx.Done() }

// newMessageListener builds a listener that only sees message events.
func newMessageListener(fn func(*MessageEvent), logger Logger) *HandlerListener {
	return newHandlerListener(func(ev Event) {
		if m, ok := ev.(*MessageEvent); ok {
			fn(m)
		}
	}, logger, DefaultHandlerQueue)
}
