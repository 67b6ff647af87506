package pinws

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// recvBufferSize bounds how many inbound messages a transport may queue before
// its reader blocks on the connection manager.
const recvBufferSize = 64

// ConnState is the state of the connection manager.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type dispatcher interface {
	Dispatch(Frame)
}

// connHandle is one connect attempt. It is created per attempt, becomes ready
// when its transport opens and is retired for good once that transport is gone.
type connHandle struct {
	conn       Connection
	generation uint64
	recv       chan Message
	ready      chan struct{}
	done       chan struct{}
	retireOnce sync.Once
	// failed is set, under the manager lock, when the transport never opened.
	// Its retry is already scheduled.
	failed bool
}

func (h *connHandle) retire() {
	h.retireOnce.Do(func() { close(h.done) })
}

func (h *connHandle) retired() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *connHandle) open() bool {
	select {
	case <-h.ready:
		return !h.retired()
	default:
		return false
	}
}

type managerConfig struct {
	url                     url.URL
	factory                 ConnectionFactory
	dispatcher              dispatcher
	reportErr               func(error)
	emitter                 emitter[EventType, EventType]
	reconnectDelay          time.Duration
	keepAliveInterval       time.Duration
	keepAliveMessageFactory KeepAliveMessageFactory
}

// connectionManager owns the transport lifecycle:
//
//	connecting -> open -> closed -> connecting ...
//
// Every attempt gets a new generation. Callbacks of an attempt which is no
// longer the current generation are ignored, so a slow stale transport can
// never trigger a second reconnect.
type connectionManager struct {
	managerConfig
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	current    *connHandle
	generation uint64
	next       chan struct{} // closed when a new attempt becomes current
	state      ConnState
	opened     bool
	closed     bool
}

func newConnectionManager(logger Logger, cfg managerConfig) *connectionManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &connectionManager{
		managerConfig: cfg,
		logger:        logger.WithField("type", "connection_manager"),
		ctx:           ctx,
		cancel:        cancel,
		state:         StateConnecting,
		next:          make(chan struct{}),
	}
}

// start begins the first connect attempt.
func (m *connectionManager) start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectLocked()

	if m.keepAliveInterval > 0 {
		m.wg.Add(1)
		go m.keepAlive()
	}
}

// connectLocked starts a new attempt and makes it current. m.mu must be held.
func (m *connectionManager) connectLocked() *connHandle {
	if m.current != nil {
		m.current.retire()
	}

	m.generation++
	recv := make(chan Message, recvBufferSize)
	h := &connHandle{
		generation: m.generation,
		recv:       recv,
		conn:       m.factory(m.ctx, recv),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}

	m.current = h
	m.state = StateConnecting
	close(m.next)
	m.next = make(chan struct{})

	m.logger.Debugf("starting connect attempt #%d", h.generation)

	m.wg.Add(1)
	go m.run(h)

	return h
}

// stale reports whether h has been superseded. m.mu must be held.
func (m *connectionManager) stale(h *connHandle) bool {
	return m.closed || h.generation != m.generation
}

func (m *connectionManager) run(h *connHandle) {
	defer m.wg.Done()

	if err := h.conn.Open(m.ctx); err != nil {
		h.conn.Close()
		m.onOpenFailed(h, err)
		return
	}

	if !m.onOpen(h) {
		h.conn.Close()
		return
	}

	closeC := h.conn.CloseChan()

	for {
		select {
		case <-m.ctx.Done():
			h.conn.Close()
			return
		case msg := <-h.recv:
			m.handle(h, msg)
		case <-closeC:
			m.drain(h)
			m.onClose(h, h.conn.CloseErr())
			return
		}
	}
}

func (m *connectionManager) onOpen(h *connHandle) bool {
	m.mu.Lock()
	if m.stale(h) {
		m.mu.Unlock()
		m.logger.Debugf("attempt #%d opened after being superseded, discarding", h.generation)
		return false
	}

	m.state = StateOpen
	event := EventConnect
	if m.opened {
		event = EventReconnect
	}
	m.opened = true
	close(h.ready)
	m.mu.Unlock()

	m.logger.Infof("connection #%d open", h.generation)
	m.emitter.Emit(event, event)

	return true
}

// onOpenFailed retires a failed attempt and retries after reconnectDelay,
// unless a newer attempt took over meanwhile.
func (m *connectionManager) onOpenFailed(h *connHandle, err error) {
	m.mu.Lock()
	if m.stale(h) {
		m.mu.Unlock()
		return
	}
	h.failed = true
	h.retire()
	m.mu.Unlock()

	m.logger.Infof("attempt #%d cannot connect, retrying in %s: %s", h.generation, m.reconnectDelay, err)

	timer := time.NewTimer(m.reconnectDelay)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return
	case <-timer.C:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stale(h) {
		return
	}
	m.connectLocked()
}

func (m *connectionManager) onClose(h *connHandle, reason error) {
	m.mu.Lock()
	if m.stale(h) {
		m.mu.Unlock()
		m.logger.Debugf("ignoring close of superseded connection #%d: %v", h.generation, reason)
		return
	}
	h.retire()

	if ce, fatal := fatalClose(reason); fatal {
		m.state = StateClosed
		m.mu.Unlock()

		m.logger.Warnf("connection #%d closed for good: %s", h.generation, ce)
		m.emitter.Emit(EventClose, EventClose)
		m.report(WrapErrorUnrecoverableConnection(ce, m.url))
		return
	}

	m.state = StateConnecting
	m.wg.Add(1)
	go m.reconnect(h.generation)
	m.mu.Unlock()

	m.logger.Infof("connection #%d dropped, reconnecting: %v", h.generation, reason)
	m.emitter.Emit(EventClose, EventClose)
}

// reconnect runs on its own goroutine, never inside the close path.
func (m *connectionManager) reconnect(generation uint64) {
	defer m.wg.Done()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.generation != generation {
		return
	}
	m.connectLocked()
}

func (m *connectionManager) handle(h *connHandle, msg Message) {
	switch {
	case msg.Type().IsData():
		frame, err := ParseFrame(string(msg.Data()))
		if err != nil {
			m.report(err)
			return
		}
		m.dispatcher.Dispatch(frame)
	case msg.Type().IsPing():
		m.replyPing(h, msg)
	case msg.Type().IsPong():
		m.logger.Debugf("pong received on connection #%d", h.generation)
	default:
		m.report(newProtocolError(msg.String(), ErrUnexpectedMessage))
	}
}

// drain handles whatever the transport queued before it closed.
func (m *connectionManager) drain(h *connHandle) {
	for {
		select {
		case msg := <-h.recv:
			m.handle(h, msg)
		default:
			return
		}
	}
}

// acquire returns the current open attempt, starting a new one if the current
// is retired. Concurrent callers wait on the same attempt.
func (m *connectionManager) acquire(ctx context.Context) (*connHandle, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClientClosed
		}
		h := m.current
		if h != nil && h.failed {
			// The retry is already scheduled after reconnectDelay; wait for it.
			next := m.next
			m.mu.Unlock()

			select {
			case <-next:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-m.ctx.Done():
				return nil, ErrClientClosed
			}
		}
		if h == nil || h.retired() {
			h = m.connectLocked()
		}
		m.mu.Unlock()

		select {
		case <-h.ready:
			if !h.retired() {
				return h, nil
			}
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.ctx.Done():
			return nil, ErrClientClosed
		}
	}
}

// Send writes msg to an open transport. A transport which refuses the write is
// retired and the write retried on a newer generation until one accepts it.
func (m *connectionManager) Send(ctx context.Context, msg Message) error {
	for {
		// acquire never hands out a retired attempt, so every iteration works on
		// a strictly newer generation than the one that refused the write.
		h, err := m.acquire(ctx)
		if err != nil {
			return err
		}

		err = h.conn.Write(msg)
		if err == nil {
			return nil
		}

		m.logger.Infof("connection #%d refused write, retrying: %s", h.generation, err)
		m.retire(h)
	}
}

// retire gives up on h if it is still current.
func (m *connectionManager) retire(h *connHandle) {
	m.mu.Lock()
	if m.stale(h) {
		m.mu.Unlock()
		return
	}
	h.retire()
	m.state = StateConnecting
	m.mu.Unlock()

	h.conn.Close()
}

// openHandle returns the current attempt if its transport is open.
func (m *connectionManager) openHandle() *connHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.current == nil || !m.current.open() {
		return nil
	}
	return m.current
}

func (m *connectionManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Generation returns the number of connect attempts made so far.
func (m *connectionManager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.generation
}

// Close stops reconnecting and tears the current transport down. It must not
// be called from a listener, as it waits for dispatching to stop.
func (m *connectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = StateClosing
	h := m.current
	m.mu.Unlock()

	m.cancel()
	if h != nil {
		h.retire()
		h.conn.Close()
	}
	m.wg.Wait()

	m.mu.Lock()
	m.state = StateClosed
	m.mu.Unlock()

	m.logger.Infoln("connection manager closed")
}

func (m *connectionManager) report(err error) {
	if err == nil {
		return
	}
	m.reportErr(err)
}
