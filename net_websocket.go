package pinws

import (
	"sync"
	"time"

	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/fasthttp/websocket"
)

type (
	openConnectionParamsRepo interface {
		Get(ctx context.Context) (OpenConnectionParams, error)
	}

	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsConnection represents a WebSocket connection.
	// It implements the Connection interface.
	WsConnection struct {
		errAdapters              ErrorAdapters
		openConnectionParamsRepo openConnectionParamsRepo
		logger                   Logger
		dialer                   *websocket.Dialer
		writeTimeout             time.Duration
		connMu                   sync.Mutex
		conn                     *websocket.Conn
		closeChan                CloseChan
		closeOnce                sync.Once
		closeReason              error
		closeReasonOnce          sync.Once
		recv                     chan<- Message // recv messages to be received over the wire
		send                     chan Message   // send messages to be sent over the wire
	}
)

func NewWebsocketConnection(
	dialer *websocket.Dialer,
	openParamsRepo openConnectionParamsRepo,
	logger Logger,
	recvChan chan<- Message,
	errorHandlers ErrorAdapters,
	writeTimeout time.Duration,
) *WsConnection {
	return &WsConnection{
		errAdapters:              errorHandlers,
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		writeTimeout:             writeTimeout,
		recv:                     recvChan,
		send:                     make(chan Message, 32),
		closeChan:                make(CloseChan),
		logger:                   logger.WithField("net", "ws_connection"),
	}
}

func NewWebsocketFactory(
	logger Logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	errorHandlers ErrorAdapters,
	writeTimeout time.Duration,
) ConnectionFactory {
	return func(ctx context.Context, recvChan chan<- Message) Connection {
		return NewWebsocketConnection(
			dialer,
			openConnectionParamsRepo,
			logger,
			recvChan,
			errorHandlers,
			writeTimeout,
		)
	}
}

// Write queues a message to be sent over the WebSocket connection.
func (w *WsConnection) Write(m Message) error {
	select {
	case <-w.closeChan:
		return errors.Wrap(ErrConnectionClosed, "cannot write")
	default:
	}

	select {
	case <-w.closeChan:
		return errors.Wrap(ErrConnectionClosed, "cannot write")
	case w.send <- m:
		return nil
	}
}

// Close terminates the WebSocket connection.
// It ensures that all resources related to the connection are cleaned up.
func (w *WsConnection) Close() {
	w.shutdown(ErrTerminated)
}

// Open initiates the WebSocket connection.
// This method is blocking and returns when the connection is successfully established or an error occurs.
func (w *WsConnection) Open(ctx context.Context) error {
	return w.start(ctx)
}

// CloseChan returns a channel that will be closed when the WebSocket connection is closed.
func (w *WsConnection) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr returns an error that explains why the WebSocket connection was closed.
// It is only meaningful once CloseChan has been closed.
func (w *WsConnection) CloseErr() error {
	return w.closeReason
}

func (w *WsConnection) start(ctx context.Context) error {
	p, err := w.openConnectionParamsRepo.Get(ctx)

	if err != nil {
		w.logger.Errorf("cannot get connection params due to %s: ", err)
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)

	if err = w.handleDialError(conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.connMu.Lock()
	select {
	case <-w.closeChan:
		w.connMu.Unlock()
		_ = conn.Close()
		return errors.Wrap(ErrTerminated, "closed while dialing")
	default:
	}
	w.conn = conn
	w.connMu.Unlock()

	// Pings are surfaced so keep-alive policy lives with the connection manager.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		w.deliver(NewPingMessage([]byte(appData)))
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		w.logger.Debugln("<= [PONG]")
		w.deliver(NewPongMessage([]byte(appData)))
		return nil
	})

	go w.read(ctx)
	go w.write(ctx)

	return nil
}

func (w *WsConnection) deliver(m Message) {
	select {
	case w.recv <- m:
	case <-w.closeChan:
	}
}

func (w *WsConnection) read(ctx context.Context) {
	for {
		select {
		case <-w.closeChan:
			return
		case <-ctx.Done():
			w.shutdown(ErrTerminated)
			return
		default:
			messageType, bts, err := w.conn.ReadMessage()
			if err != nil {
				w.shutdown(w.readError(err))
				return
			}
			// message types from ReadMessage are either binary or text
			switch messageType {
			case websocket.BinaryMessage:
				w.logger.Debugln("<= [BIN]")
				w.deliver(NewBinaryMessage(bts))
			default:
				w.logger.Debugf("<= [DATA] %s", string(bts))
				w.deliver(NewDataMessage(bts))
			}
		}
	}
}

// readError classifies the error which ended the read loop. Only a close frame
// carrying a reason is kept as *CloseError; anything else is a transient drop.
func (w *WsConnection) readError(err error) error {
	select {
	case <-w.closeChan:
		return ErrTerminated
	default:
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		w.logger.Infof("<= [CLOSE] code=%d reason=%q", ce.Code, ce.Text)
		// 1006 never travels on the wire; its text is a local read error.
		if ce.Text != "" && ce.Code != websocket.CloseAbnormalClosure {
			return &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return errors.Wrapf(ErrConnectionClosed, "closed by peer with code %d", ce.Code)
	}

	w.logger.Errorf("error occurred on websocket read: %s", err)

	return errors.Wrap(
		ErrConnectionClosed,
		"error occurred on websocket read: "+err.Error(),
	)
}

func (w *WsConnection) write(ctx context.Context) {
	for {
		select {
		case <-w.closeChan:
			return
		case <-ctx.Done():
			w.shutdown(ErrTerminated)
			return
		case msg := <-w.send:
			deadline := time.Now().Add(w.writeTimeout)
			_ = w.conn.SetWriteDeadline(deadline)

			var err error

			switch msg.Type() {
			case PingMessage:
				w.logger.Debugln("=> [PING]")
				err = w.conn.WriteControl(websocket.PingMessage, msg.Data(), deadline)
			case PongMessage:
				w.logger.Debugln("=> [PONG]")
				err = w.conn.WriteControl(websocket.PongMessage, msg.Data(), deadline)
			case BinaryMessage:
				w.logger.Debugln("=> [BIN]")
				err = w.conn.WriteMessage(websocket.BinaryMessage, msg.Data())
			default:
				w.logger.Debugf("=> [DATA] %s", msg.Data())
				err = w.conn.WriteMessage(websocket.TextMessage, msg.Data())
			}

			if err != nil {
				w.logger.Errorf("error occurred on websocket write: %s", err)
				w.shutdown(errors.Wrap(ErrConnectionClosed, err.Error()))
				return
			}
		}
	}
}

// shutdown records why the connection ended and releases it. The first reason wins.
func (w *WsConnection) shutdown(reason error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = reason
	})
	w.closeOnce.Do(w.close)
}

func (w *WsConnection) close() {
	w.connMu.Lock()
	close(w.closeChan)
	conn := w.conn
	w.connMu.Unlock()

	if conn == nil {
		return
	}

	if errors.Is(w.closeReason, ErrTerminated) {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(w.writeTimeout),
		)
	}
	_ = conn.Close()
}

func (w *WsConnection) handleDialError(conn *websocket.Conn, resp *http.Response, err error) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
		bts, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			msg = string(bts)
		}
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return errors.Wrap(ErrRateLimit, msg)
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
