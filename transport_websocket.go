package librtm

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsTransport is a Transport over a websocket connection.
	WsTransport struct {
		errAdapters   ErrorAdapters
		logger        Logger
		dialer        *websocket.Dialer
		header        http.Header
		writeTimeout  time.Duration
		conn          *websocket.Conn
		sink          TransportSink
		closeChan     CloseChan
		closeOnce     sync.Once
		closeReason   error
		closeReasonMu sync.Mutex
		send          chan []byte // frames to be written over the wire
	}
)

func NewWsTransport(
	logger Logger,
	dialer *websocket.Dialer,
	header http.Header,
	writeTimeout time.Duration,
	errAdapters ErrorAdapters,
) *WsTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WsTransport{
		errAdapters:  errAdapters,
		logger:       logger.WithField("net", "ws_transport"),
		dialer:       dialer,
		header:       header,
		writeTimeout: writeTimeout,
		closeChan:    make(CloseChan),
		send:         make(chan []byte, 32),
	}
}

func NewWsTransportFactory(
	logger Logger,
	dialer *websocket.Dialer,
	header http.Header,
	writeTimeout time.Duration,
	errAdapters ErrorAdapters,
) TransportFactory {
	return func() Transport {
		return NewWsTransport(logger, dialer, header, writeTimeout, errAdapters)
	}
}

// Open dials the websocket endpoint. Once it returns nil, frames flow to sink
// until the connection drops or Close is called.
func (w *WsTransport) Open(ctx context.Context, endpoint string, sink TransportSink) error {
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	default:
	}

	conn, resp, err := w.dialer.DialContext(ctx, endpoint, w.header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err = w.handleDialError(conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", endpoint, err)
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}

	w.logger.Debugf("success opening connection to %s", endpoint)

	w.conn = conn
	w.sink = sink

	conn.SetPongHandler(func(string) error {
		w.logger.Debugln("<= [PONG]")
		return nil
	})

	sink.Connected()

	go w.read()
	go w.write()

	return nil
}

// Send queues frame to be written as a text message. It never blocks: when
// the peer stops reading and the queue fills up, frames are refused with
// ErrWriteQueueFull.
func (w *WsTransport) Send(frame []byte) error {
	if w.conn == nil {
		return ErrNotConnected
	}
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	case w.send <- frame:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// Close terminates the websocket connection.
func (w *WsTransport) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// CloseChan is closed once the connection is gone.
func (w *WsTransport) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr explains why the connection was closed.
func (w *WsTransport) CloseErr() error {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	return w.closeReason
}

func (w *WsTransport) read() {
	defer func() {
		w.safeClose()
		w.sink.Disconnected(w.CloseErr())
	}()

	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Infof("connection closed by peer: %s", err)
			} else {
				w.logger.Errorf("error occurred on websocket read: %s", err)
			}
			w.setCloseReason(errors.Wrap(ErrConnectionClosed, "websocket read: "+err.Error()))
			return
		}

		switch messageType {
		case websocket.TextMessage:
			w.logger.Debugf("<= [DATA] %s", bts)
			w.sink.Frame(bts)
		default:
			w.logger.Debugf("<= [BIN] ignoring %d bytes", len(bts))
		}
	}
}

func (w *WsTransport) write() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			deadline := time.Now().Add(time.Second)
			_ = w.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				deadline,
			)
			return
		case frame := <-w.send:
			if w.writeTimeout > 0 {
				_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
			}

			w.logger.Debugf("=> [DATA] %s", frame)

			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				w.logger.Errorf("error occurred on websocket write: %s", err)
				w.setCloseReason(errors.Wrap(ErrConnectionClosed, "websocket write: "+err.Error()))
				return
			}
		}
	}
}

func (w *WsTransport) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsTransport) close() {
	close(w.closeChan)
	if w.conn != nil {
		// Give the writer a moment to send the close frame before the socket goes away.
		time.AfterFunc(100*time.Millisecond, func() { _ = w.conn.Close() })
	}
}

// setCloseReason keeps the first reason given.
func (w *WsTransport) setCloseReason(err error) {
	w.closeReasonMu.Lock()
	defer w.closeReasonMu.Unlock()
	if w.closeReason == nil {
		w.closeReason = err
	}
}

func (w *WsTransport) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return errors.Wrap(ErrRateLimit, msg)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
