package pinws

import (
	"time"
)

type KeepAliveMessageFactory func() Message

// keepAlive sends a keep-alive message every keepAliveInterval while a
// transport is open. It never starts a connect attempt: a closed transport
// simply skips the tick.
// It stops when the connection manager is closed.
func (m *connectionManager) keepAlive() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			h := m.openHandle()
			if h == nil {
				continue
			}
			if err := h.conn.Write(m.keepAliveMessageFactory()); err != nil {
				m.logger.Debugf("cannot send keep-alive on connection #%d: %s", h.generation, err)
			}
		}
	}
}

// replyPing answers a server ping with a pong carrying the same payload.
func (m *connectionManager) replyPing(h *connHandle, ping Message) {
	if err := h.conn.Write(NewPongMessage(ping.Data())); err != nil {
		m.logger.Debugf("cannot reply ping on connection #%d: %s", h.generation, err)
	}
}

// NewKeepAliveMessageFactory returns a factory function for creating keep-alive messages.
// It takes a MessageType and a function that generates the content of the message as parameters.
func NewKeepAliveMessageFactory(
	mt MessageType,
	contentFactory func() []byte,
) KeepAliveMessageFactory {
	return func() Message {
		return NewMessage(mt, contentFactory())
	}
}

// PingKeepAlive sends empty websocket pings.
func PingKeepAlive() Message {
	return NewPingMessage(nil)
}
