package pinws

import (
	"context"
)

type (
	// CloseChan is closed once a connection is gone.
	CloseChan chan struct{}

	// Connection is a single transport to the server. It is opened once and never
	// reused after it closes.
	Connection interface {
		// Write queues m to be sent over the wire. It fails once the connection
		// is closed.
		Write(m Message) error
		// Open dials the server. It returns once the connection is ready or
		// cannot be established.
		Open(ctx context.Context) error
		// Close tears the connection down. It is safe to call more than once.
		Close()
		// CloseErr explains why the connection closed. A *CloseError carrying a
		// reason means the peer does not want us back.
		CloseErr() error
		// CloseChan is closed when the connection closes, whatever the cause.
		CloseChan() CloseChan
	}

	// ConnectionFactory builds a connection which delivers inbound messages to
	// recvChan. It must not perform any I/O.
	ConnectionFactory func(ctx context.Context, recvChan chan<- Message) Connection
)
