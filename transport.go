package librtm

import (
	"context"
)

type (
	// TransportSink receives the signals of one transport. Connected is
	// reported once the link is up, Frame for every inbound text frame and
	// Disconnected exactly once when the link is gone for good.
	TransportSink interface {
		Connected()
		Frame(data []byte)
		Disconnected(reason error)
	}

	// Transport is a duplex frame link to the gateway. A Transport is used
	// for a single connection: the supervisor asks the factory for a new one
	// on every attempt.
	Transport interface {
		// Open dials endpoint and starts delivering to sink. It blocks until
		// the link is established or fails.
		Open(ctx context.Context, endpoint string, sink TransportSink) error

		// Send queues a text frame for writing. It is called from the
		// supervisor loop and must not block.
		Send(frame []byte) error

		// Close tears the link down and releases its resources.
		Close()
	}

	TransportFactory func() Transport
)
