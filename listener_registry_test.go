package librtm

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type recordingListener struct {
	name string
	log  *[]string
	err  error
}

func (l *recordingListener) Deliver(ev Event) error {
	*l.log = append(*l.log, l.name+":"+ev.EventType())
	return l.err
}

type panickingListener struct{}

func (panickingListener) Deliver(Event) error { panic("boom") }

func newTestRegistry(unreachable func(Listener)) *ListenerRegistry {
	return NewListenerRegistry(NewWriterLogger(io.Discard), unreachable)
}

func TestRegistry_SingleListener(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	r.Add(&recordingListener{name: "a", log: &got})

	r.Broadcast(&HelloEvent{})

	if len(got) != 1 || got[0] != "a:hello" {
		t.Errorf("Expected [a:hello], but got %v", got)
	}
}

func TestRegistry_InsertionOrder(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	for _, name := range []string{"a", "b", "c"} {
		r.Add(&recordingListener{name: name, log: &got})
	}

	r.Broadcast(&PongEvent{})

	want := []string{"a:pong", "b:pong", "c:pong"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, but got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("At %d expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRegistry_NoListeners(t *testing.T) {
	r := newTestRegistry(nil)
	// Broadcasting with nobody registered is a no-op.
	r.Broadcast(&HelloEvent{})
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	l := &recordingListener{name: "a", log: &got}

	if !r.Add(l) {
		t.Fatal("first Add should register")
	}
	if r.Add(l) {
		t.Error("second Add should be a no-op")
	}
	if r.Add(nil) {
		t.Error("nil listener should be rejected")
	}

	r.Broadcast(&HelloEvent{})
	if len(got) != 1 {
		t.Errorf("Expected a single delivery, got %v", got)
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	a := &recordingListener{name: "a", log: &got}
	b := &recordingListener{name: "b", log: &got}
	r.Add(a)
	r.Add(b)

	if !r.Remove(a) {
		t.Fatal("Remove of a registered listener should succeed")
	}
	if r.Remove(a) {
		t.Error("second Remove should be a no-op")
	}
	if r.Has(a) || !r.Has(b) {
		t.Errorf("unexpected membership: a=%v b=%v", r.Has(a), r.Has(b))
	}

	r.Broadcast(&HelloEvent{})
	if len(got) != 1 || got[0] != "b:hello" {
		t.Errorf("Expected [b:hello], got %v", got)
	}
}

func TestRegistry_PrunesGoneListeners(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	gone := &recordingListener{name: "gone", log: &got, err: errors.Wrap(ErrListenerGone, "bye")}
	full := &recordingListener{name: "full", log: &got, err: ErrListenerFull}
	r.Add(gone)
	r.Add(full)

	r.Broadcast(&HelloEvent{})
	r.Broadcast(&HelloEvent{})

	if r.Has(gone) {
		t.Error("gone listener should have been pruned")
	}
	if !r.Has(full) {
		t.Error("a listener that merely dropped an event stays registered")
	}
	want := []string{"gone:hello", "full:hello", "full:hello"}
	if len(got) != len(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRegistry_PanickingListenerIsSkipped(t *testing.T) {
	var got []string
	r := newTestRegistry(nil)
	r.Add(panickingListener{})
	r.Add(&recordingListener{name: "after", log: &got})

	r.Broadcast(&HelloEvent{})

	if len(got) != 1 || got[0] != "after:hello" {
		t.Errorf("Expected [after:hello], got %v", got)
	}
}

func TestRegistry_UnreachableCallback(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []Listener
		signal   = make(chan struct{}, 1)
	)
	r := newTestRegistry(func(l Listener) {
		mu.Lock()
		reported = append(reported, l)
		mu.Unlock()
		signal <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	l := NewChanListener(ctx, 1)
	r.Add(l)

	cancel()

	select {
	case <-signal:
	case <-time.After(time.Second):
		t.Fatal("unreachable callback not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || reported[0] != Listener(l) {
		t.Errorf("Expected the cancelled listener to be reported, got %v", reported)
	}
	// The registry does not remove it on its own.
	if !r.Has(l) {
		t.Error("registry should keep the listener until its owner removes it")
	}
}

func TestRegistry_RemoveStopsMonitor(t *testing.T) {
	called := make(chan struct{}, 1)
	r := newTestRegistry(func(Listener) { called <- struct{}{} })

	h := NewHandlerListener(func(Event) {})
	r.Add(h)
	r.Remove(h)
	h.Close()

	select {
	case <-called:
		t.Error("removed listener should not be reported")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistry_Close(t *testing.T) {
	var got []string
	called := make(chan struct{}, 1)
	r := newTestRegistry(func(Listener) { called <- struct{}{} })

	h := NewHandlerListener(func(Event) {})
	r.Add(h)
	r.Add(&recordingListener{name: "a", log: &got})

	r.Close()
	h.Close()
	r.Broadcast(&HelloEvent{})

	if r.Len() != 0 || len(got) != 0 {
		t.Errorf("Expected no listeners after Close, got len=%d deliveries=%v", r.Len(), got)
	}
	select {
	case <-called:
		t.Error("monitors should be stopped by Close")
	case <-time.After(50 * time.Millisecond):
	}
}
