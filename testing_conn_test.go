package pinws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeConnection is an in-memory transport driven by the test.
type fakeConnection struct {
	recv    chan<- Message
	openErr error
	gate    chan struct{}

	writes chan Message

	mu       sync.Mutex
	writeErr error
	closeErr error

	closeC    CloseChan
	closeOnce sync.Once
	openedC   chan struct{}
}

func (f *fakeConnection) Open(ctx context.Context) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.openErr != nil {
		return f.openErr
	}
	close(f.openedC)
	return nil
}

func (f *fakeConnection) Write(m Message) error {
	select {
	case <-f.closeC:
		return ErrConnectionClosed
	default:
	}

	f.mu.Lock()
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case f.writes <- m:
		return nil
	case <-f.closeC:
		return ErrConnectionClosed
	}
}

func (f *fakeConnection) Close() {
	f.closeWith(ErrTerminated)
}

func (f *fakeConnection) closeWith(err error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeErr = err
		f.mu.Unlock()
		close(f.closeC)
	})
}

func (f *fakeConnection) CloseErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeErr
}

func (f *fakeConnection) CloseChan() CloseChan {
	return f.closeC
}

func (f *fakeConnection) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

// deliver pushes an inbound text message as if read from the wire.
func (f *fakeConnection) deliver(text string) {
	f.recv <- NewDataMessage([]byte(text))
}

// nextWrite returns the next message written to the connection.
func (f *fakeConnection) nextWrite(t *testing.T) Message {
	t.Helper()

	select {
	case m := <-f.writes:
		return m
	case <-time.After(waitFor):
		t.Fatal("no message written")
		return nil
	}
}

func (f *fakeConnection) waitOpen(t *testing.T) {
	t.Helper()

	select {
	case <-f.openedC:
	case <-time.After(waitFor):
		t.Fatal("connection never opened")
	}
}

// fakeNetwork hands out fakeConnections, one per connect attempt.
type fakeNetwork struct {
	conns chan *fakeConnection

	mu       sync.Mutex
	openErrs []error
	gated    bool
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{conns: make(chan *fakeConnection, 32)}
}

// failNextOpens makes the next attempts fail to open with the given errors.
func (n *fakeNetwork) failNextOpens(errs ...error) {
	n.mu.Lock()
	n.openErrs = append(n.openErrs, errs...)
	n.mu.Unlock()
}

func (n *fakeNetwork) factory(_ context.Context, recv chan<- Message) Connection {
	n.mu.Lock()
	conn := &fakeConnection{
		recv:    recv,
		writes:  make(chan Message, 32),
		closeC:  make(CloseChan),
		openedC: make(chan struct{}),
	}
	if len(n.openErrs) > 0 {
		conn.openErr = n.openErrs[0]
		n.openErrs = n.openErrs[1:]
	}
	if n.gated {
		conn.gate = make(chan struct{})
	}
	n.mu.Unlock()

	n.conns <- conn
	return conn
}

// next returns the transport built by the next connect attempt.
func (n *fakeNetwork) next(t *testing.T) *fakeConnection {
	t.Helper()

	select {
	case conn := <-n.conns:
		return conn
	case <-time.After(waitFor):
		t.Fatal("no connect attempt")
		return nil
	}
}

// idle asserts no further connect attempt is made for a while.
func (n *fakeNetwork) idle(t *testing.T) {
	t.Helper()

	require.Never(t, func() bool { return len(n.conns) > 0 }, 100*time.Millisecond, tick)
}

type mockErrorHandler struct {
	mock.Mock
}

func (m *mockErrorHandler) Handle(err error) {
	m.Called(err)
}

// errorRecorder collects reported errors from any goroutine.
type errorRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (r *errorRecorder) Handle(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *errorRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *errorRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}
