package librtm

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type mockBootstrapper struct {
	mock.Mock
}

func (m *mockBootstrapper) Bootstrap(ctx context.Context) (Snapshot, error) {
	args := m.Called(ctx)
	return args.Get(0).(Snapshot), args.Error(1)
}

// fakeTransport records written frames and lets tests play the gateway
// through the sink it was opened with.
type fakeTransport struct {
	mu       sync.Mutex
	openErr  error
	endpoint string
	sink     TransportSink
	frames   [][]byte
	closed   bool
}

func (f *fakeTransport) Open(_ context.Context, endpoint string, sink TransportSink) error {
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.endpoint = endpoint
	f.sink = sink
	f.mu.Unlock()
	sink.Connected()
	return nil
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeTransport) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, frame := range f.frames {
		out[i] = string(frame)
	}
	return out
}

func (f *fakeTransport) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) Endpoint() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.endpoint
}

// Inject plays an inbound frame.
func (f *fakeTransport) Inject(frame string) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.Frame([]byte(frame))
}

// Drop simulates the connection going away.
func (f *fakeTransport) Drop(reason error) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.Disconnected(reason)
}

// fakeTransports hands out fakeTransports. openErrs[i] is the Open result of
// the i-th transport; transports past the end of the list open fine.
type fakeTransports struct {
	mu       sync.Mutex
	openErrs []error
	created  []*fakeTransport
}

func (f *fakeTransports) factory() Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{}
	if n := len(f.created); n < len(f.openErrs) {
		t.openErr = f.openErrs[n]
	}
	f.created = append(f.created, t)
	return t
}

func (f *fakeTransports) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeTransports) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.created) == 0 {
		return nil
	}
	return f.created[len(f.created)-1]
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (t *fakeTimer) IsStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeScheduler records scheduled callbacks; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

func (s *fakeScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) Last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

// FireLast runs the most recent callback unless it was stopped.
func (s *fakeScheduler) FireLast() {
	t := s.Last()
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()
	t.fn()
}

// syncBuffer is a bytes.Buffer safe for concurrent writers and readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
