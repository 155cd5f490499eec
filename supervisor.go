package librtm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ConnectionState is where the supervisor is in its connection lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	// StateClosed is terminal, reached through Close or when the Open context ends.
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// command is a message for the supervisor loop.
type command interface {
	isCommand()
}

type (
	cmdReconnect struct{ gen uint64 }

	cmdAttemptResult struct {
		gen       uint64
		snapshot  Snapshot
		transport Transport
		err       error
		// ack is closed once the loop has taken ownership of transport.
		ack chan struct{}
	}

	cmdTransportConnected struct{ gen uint64 }

	cmdFrame struct {
		gen  uint64
		data []byte
	}

	cmdTransportLost struct {
		gen    uint64
		reason error
	}

	cmdOutbound struct {
		cmd    OutboundCommand
		ticket *sendTicket // nil for fire-and-forget commands
	}

	cmdAddListener    struct{ listener Listener }
	cmdRemoveListener struct{ listener Listener }
	cmdPing           struct{}
)

func (cmdReconnect) isCommand()          {}
func (cmdAttemptResult) isCommand()      {}
func (cmdTransportConnected) isCommand() {}
func (cmdFrame) isCommand()              {}
func (cmdTransportLost) isCommand()      {}
func (cmdOutbound) isCommand()           {}
func (cmdAddListener) isCommand()        {}
func (cmdRemoveListener) isCommand()     {}
func (cmdPing) isCommand()               {}

const inboxSize = 64

// supervisor is the single control point of a client. Everything that
// mutates connection state, the state mirror or the listener set is a
// command processed by run, one at a time. Bootstrap and dialing happen on
// attempt goroutines that report back through the inbox.
type supervisor struct {
	logger       Logger
	bootstrap    Bootstrapper
	newTransport TransportFactory
	backoff      BackoffFunc
	scheduler    Scheduler
	sendTimeout  time.Duration
	maxPending   int
	pingInterval time.Duration
	minUptime    time.Duration
	now          func() time.Time

	ids       *IdentifierAllocator
	mirror    *StateMirror
	listeners *ListenerRegistry

	inbox     chan command
	closeC    CloseChan // closed by Close or shutdown
	doneC     CloseChan // closed when run has returned
	startOnce sync.Once
	closeOnce sync.Once
	state     atomic.Int32
	cancel    context.CancelFunc

	// Owned by run.
	gen         uint64
	attempting  bool
	failures    int
	transport   Transport
	connectedAt time.Time
	retry       Timer
	pending     [][]byte
	keepAlive   *keepAlive
}

type supervisorParams struct {
	logger       Logger
	bootstrap    Bootstrapper
	newTransport TransportFactory
	backoff      BackoffFunc
	scheduler    Scheduler
	sendTimeout  time.Duration
	maxPending   int
	pingInterval time.Duration
	minUptime    time.Duration
}

func newSupervisor(p supervisorParams) *supervisor {
	s := &supervisor{
		logger:       p.logger.WithField("component", "supervisor"),
		bootstrap:    newLoggingBootstrapper(p.logger, p.bootstrap),
		newTransport: p.newTransport,
		backoff:      p.backoff,
		scheduler:    p.scheduler,
		sendTimeout:  p.sendTimeout,
		maxPending:   p.maxPending,
		pingInterval: p.pingInterval,
		minUptime:    p.minUptime,
		now:          time.Now,
		ids:          &IdentifierAllocator{},
		mirror:       NewStateMirror(),
		inbox:        make(chan command, inboxSize),
		closeC:       make(CloseChan),
		doneC:        make(CloseChan),
	}
	s.listeners = NewListenerRegistry(p.logger, s.listenerUnreachable)
	s.state.Store(int32(StateDisconnected))
	return s
}

// Start launches the supervisor loop and the first connection attempt.
// Connection failures are retried in the background and never returned.
func (s *supervisor) Start(ctx context.Context) error {
	started := false
	s.startOnce.Do(func() {
		started = true
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		if s.pingInterval > 0 {
			s.keepAlive = newKeepAlive(s.logger, s.pingInterval, s.ping)
			s.keepAlive.Start(runCtx)
		}
		go s.run(runCtx)
	})
	if !started {
		select {
		case <-s.closeC:
			return ErrClosed
		default:
			return errors.New("supervisor already started")
		}
	}
	return nil
}

// Close stops the loop, cancels any pending retry and releases the
// transport. It waits for the loop to exit.
func (s *supervisor) Close() {
	s.closeOnce.Do(func() {
		close(s.closeC)
	})
	// Never started: nothing will close doneC but us.
	s.startOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.doneC)
	})
	<-s.doneC
}

func (s *supervisor) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

func (s *supervisor) setState(next ConnectionState) {
	prev := ConnectionState(s.state.Swap(int32(next)))
	if prev != next {
		s.logger.Debugf("state %s -> %s", prev, next)
	}
}

func (s *supervisor) run(ctx context.Context) {
	defer s.shutdown()

	s.startAttempt(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeC:
			return
		case c := <-s.inbox:
			s.handle(ctx, c)
		}
	}
}

func (s *supervisor) shutdown() {
	// Also reached when the Open context ends: callers must see ErrClosed
	// from now on.
	s.closeOnce.Do(func() {
		close(s.closeC)
	})
	s.cancel()
	if s.keepAlive != nil {
		s.keepAlive.Close()
	}
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	s.listeners.Close()
	s.pending = nil
	s.setState(StateClosed)
	close(s.doneC)
	s.logger.Infoln("supervisor stopped")
}

func (s *supervisor) handle(ctx context.Context, c command) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorf("recovered while handling %T: %v", c, rec)
		}
	}()

	switch c := c.(type) {
	case cmdAttemptResult:
		s.onAttemptResult(c)
	case cmdTransportConnected:
		// With a minimum uptime the streak only ends once the connection
		// has lasted that long.
		if c.gen == s.gen && s.minUptime == 0 {
			s.failures = 0
		}
	case cmdFrame:
		s.onFrame(c)
	case cmdTransportLost:
		s.onTransportLost(ctx, c)
	case cmdReconnect:
		if c.gen != s.gen || s.attempting || s.transport != nil {
			return
		}
		s.retry = nil
		s.startAttempt(ctx)
	case cmdOutbound:
		s.onOutbound(c.cmd, c.ticket)
	case cmdPing:
		if s.transport != nil {
			s.onOutbound(pingCommand{}, nil)
		}
	case cmdAddListener:
		s.listeners.Add(c.listener)
	case cmdRemoveListener:
		s.listeners.Remove(c.listener)
	default:
		s.logger.Warnf("unknown command %T", c)
	}
}

func (s *supervisor) startAttempt(ctx context.Context) {
	s.gen++
	s.attempting = true
	s.setState(StateConnecting)

	s.logger.Debugf("starting connection attempt gen=%d failures=%d", s.gen, s.failures)

	go s.attempt(ctx, newAttemptSink(s, s.gen))
}

// attempt bootstraps a session and opens a transport to it. It runs outside
// the loop and reports the outcome as a cmdAttemptResult.
func (s *supervisor) attempt(ctx context.Context, sink *attemptSink) {
	defer sink.release()

	res := cmdAttemptResult{gen: sink.gen, ack: make(chan struct{})}

	snap, err := s.bootstrap.Bootstrap(ctx)
	if err != nil {
		res.err = errors.Wrap(err, "bootstrap")
		s.deliver(res)
		return
	}

	t := s.newTransport()
	if err := t.Open(ctx, snap.Endpoint, sink); err != nil {
		t.Close()
		res.err = errors.Wrap(err, "open transport")
		s.deliver(res)
		return
	}

	res.snapshot = snap
	res.transport = t

	if !s.deliver(res) {
		t.Close()
		return
	}

	select {
	case <-res.ack:
	case <-s.doneC:
		select {
		case <-res.ack:
		default:
			// The loop exited before it could adopt the transport.
			t.Close()
		}
	}
}

func (s *supervisor) onAttemptResult(c cmdAttemptResult) {
	defer close(c.ack)

	if c.gen != s.gen || !s.attempting {
		if c.transport != nil {
			c.transport.Close()
		}
		return
	}
	s.attempting = false

	if c.err != nil {
		s.failures++
		delay := s.backoff(s.failures)
		s.logger.Warnf("connection attempt failed (%d in a row), retrying in %s: %s", s.failures, delay, c.err)
		s.scheduleRetry(s.gen, delay)
		return
	}

	s.mirror.Reset(c.snapshot)
	s.transport = c.transport
	s.connectedAt = s.now()
	s.setState(StateConnected)
	s.logger.Infof("connected to %s", c.snapshot.Endpoint)

	s.flushPending()
}

func (s *supervisor) scheduleRetry(gen uint64, delay time.Duration) {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = s.scheduler.AfterFunc(delay, func() {
		s.deliver(cmdReconnect{gen: gen})
	})
}

func (s *supervisor) onTransportLost(ctx context.Context, c cmdTransportLost) {
	if c.gen != s.gen || s.transport == nil {
		return
	}

	s.transport.Close()
	s.transport = nil

	// The mirror keeps the previous snapshot until the next one replaces it.
	if uptime := s.now().Sub(s.connectedAt); s.minUptime > 0 && uptime < s.minUptime {
		s.failures++
		delay := s.backoff(s.failures)
		s.logger.Warnf("connection lost after %s, reconnecting in %s: %v", uptime, delay, c.reason)
		s.setState(StateConnecting)
		s.scheduleRetry(s.gen, delay)
		return
	}

	s.failures = 0
	s.logger.Warnf("connection lost, reconnecting: %v", c.reason)
	s.startAttempt(ctx)
}

func (s *supervisor) onFrame(c cmdFrame) {
	if c.gen != s.gen || s.transport == nil {
		s.logger.Debugf("dropping frame from stale connection gen=%d", c.gen)
		return
	}

	ev, ok, err := DecodeEvent(c.data)
	if err != nil {
		s.logger.Warnf("discarding frame: %s", err)
		return
	}
	if !ok {
		return
	}

	s.mirror.Apply(ev)
	s.listeners.Broadcast(ev)
}

func (s *supervisor) onOutbound(cmd OutboundCommand, ticket *sendTicket) {
	if ticket != nil && !ticket.claim() {
		s.logger.Debugf("dropping %T, caller gave up", cmd)
		return
	}

	var id int64
	if cmd.needsID() {
		id = s.ids.Next()
	}
	if ticket != nil {
		ticket.reply <- id
	}

	frame, err := cmd.encode(id)
	if err != nil {
		s.logger.Errorf("cannot encode %T: %s", cmd, err)
		return
	}

	s.write(frame)
}

func (s *supervisor) write(frame []byte) {
	if s.transport == nil {
		if len(s.pending) >= s.maxPending {
			s.logger.Warnf("dropping outbound frame: %s", ErrQueueFull)
			return
		}
		s.pending = append(s.pending, frame)
		return
	}

	if err := s.transport.Send(frame); err != nil {
		s.logger.Warnf("cannot write frame: %s", err)
	}
}

func (s *supervisor) flushPending() {
	if len(s.pending) == 0 {
		return
	}
	s.logger.Debugf("flushing %d pending frames", len(s.pending))
	pending := s.pending
	s.pending = nil
	for _, frame := range pending {
		s.write(frame)
	}
}

// deliver hands c to the loop from an internal goroutine. It gives up once
// the loop is gone.
func (s *supervisor) deliver(c command) bool {
	select {
	case <-s.doneC:
		return false
	default:
	}
	select {
	case s.inbox <- c:
		return true
	case <-s.doneC:
		return false
	}
}

func (s *supervisor) ping() {
	select {
	case s.inbox <- cmdPing{}:
	default:
		s.logger.Debugln("skipping keep-alive ping, supervisor is busy")
	}
}

func (s *supervisor) listenerUnreachable(l Listener) {
	s.deliver(cmdRemoveListener{listener: l})
}

// submit hands c to the loop on behalf of a caller.
func (s *supervisor) submit(ctx context.Context, c command) error {
	select {
	case <-s.closeC:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- c:
		return nil
	case <-s.closeC:
		return ErrClosed
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

func (s *supervisor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.sendTimeout > 0 {
		return context.WithTimeout(ctx, s.sendTimeout)
	}
	return context.WithCancel(ctx)
}

// Send submits an outbound command and returns the id it was given (0 for
// commands without id) as soon as the loop has processed it, before the
// frame reaches the wire. A call that fails was never written and consumed
// no id.
func (s *supervisor) Send(ctx context.Context, cmd OutboundCommand) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ticket := newSendTicket()
	if err := s.submit(ctx, cmdOutbound{cmd: cmd, ticket: ticket}); err != nil {
		return 0, err
	}

	var err error
	select {
	case id := <-ticket.reply:
		return id, nil
	case <-s.doneC:
		err = ErrClosed
	case <-ctx.Done():
		err = ctxErr(ctx)
	}

	if ticket.abandon() {
		return 0, err
	}
	// The loop claimed the command first; its id is on the way.
	return <-ticket.reply, nil
}

// Post submits an outbound command without waiting for it to be processed.
func (s *supervisor) Post(ctx context.Context, cmd OutboundCommand) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.submit(ctx, cmdOutbound{cmd: cmd})
}

func (s *supervisor) AddListener(ctx context.Context, l Listener) error {
	if l == nil {
		return errors.New("nil listener")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.submit(ctx, cmdAddListener{listener: l})
}

func (s *supervisor) RemoveListener(ctx context.Context, l Listener) error {
	if l == nil {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.submit(ctx, cmdRemoveListener{listener: l})
}

func ctxErr(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

const (
	ticketPending int32 = iota
	ticketClaimed
	ticketAbandoned
)

// sendTicket settles the race between the loop processing a command and its
// caller giving up on it: exactly one of claim and abandon succeeds.
type sendTicket struct {
	state atomic.Int32
	reply chan int64
}

func newSendTicket() *sendTicket {
	return &sendTicket{reply: make(chan int64, 1)}
}

func (t *sendTicket) claim() bool {
	return t.state.CompareAndSwap(ticketPending, ticketClaimed)
}

func (t *sendTicket) abandon() bool {
	return t.state.CompareAndSwap(ticketPending, ticketAbandoned)
}

// attemptSink routes the signals of one transport to the loop, tagged with
// the attempt generation. Frames and disconnects are held back until the
// attempt result has been queued, so the loop never sees traffic from a
// transport it has not adopted yet.
type attemptSink struct {
	s     *supervisor
	gen   uint64
	ready chan struct{}
}

func newAttemptSink(s *supervisor, gen uint64) *attemptSink {
	return &attemptSink{s: s, gen: gen, ready: make(chan struct{})}
}

func (k *attemptSink) release() {
	close(k.ready)
}

func (k *attemptSink) wait() bool {
	select {
	case <-k.ready:
		return true
	case <-k.s.doneC:
		return false
	}
}

// Connected may be called from within Transport.Open, so it does not wait.
func (k *attemptSink) Connected() {
	k.s.deliver(cmdTransportConnected{gen: k.gen})
}

func (k *attemptSink) Frame(data []byte) {
	if k.wait() {
		k.s.deliver(cmdFrame{gen: k.gen, data: data})
	}
}

func (k *attemptSink) Disconnected(reason error) {
	if k.wait() {
		k.s.deliver(cmdTransportLost{gen: k.gen, reason: reason})
	}
}
