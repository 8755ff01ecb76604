package ws

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"encoding/json"
	"log/slog"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

var (
	_ contract.Connection    = (*Connection)(nil)
	_ contract.Authenticated = (*Connection)(nil)
)

// Connection wraps one websocket. Frames are queued on a bounded buffer drained
// by a single writer goroutine, so Send never blocks the caller.
type Connection struct {
	id       string
	subject  string
	conn     net.Conn
	log      *slog.Logger
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
	writeMu  sync.Mutex
}

func newConnection(log *slog.Logger, conn net.Conn, subject string, bufferSize int) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:       id,
		subject:  subject,
		conn:     conn,
		log:      log.With("connection_id", id),
		outgoing: make(chan []byte, bufferSize),
		done:     make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Subject is the user proven by the handshake token, empty without authentication.
func (c *Connection) Subject() string {
	return c.subject
}

func (c *Connection) Send(frame event.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
		c.log.Warn("Outgoing buffer full, frame dropped", "event", frame.Event)
		return errors.ErrConnectionSlow
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.outgoing:
			if err := c.write(ws.OpText, data); err != nil {
				c.log.Debug("Write failed, closing", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Connection) write(op ws.OpCode, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, op, data)
}

func (c *Connection) Close() {
	c.closeWith(ws.StatusNormalClosure, "")
}

func (c *Connection) closeWith(code ws.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
		_ = c.conn.Close()
	})
}

// lockedWriter serializes control frame replies with the write loop.
type lockedWriter struct {
	c *Connection
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}
