// Package ws is the realtime transport: JSON text frames over websocket.
package ws

import (
	"chat-relay/contract"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	defaultBufferSize   = 64
	defaultMaxFrameSize = 64 << 10
)

type Coordinator interface {
	HandleEvent(ctx context.Context, conn contract.Connection, inbound event.Inbound)
	Disconnect(conn contract.Connection)
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Server upgrades /ws requests and feeds inbound frames to the coordinator.
// Each connection has one reader (the handler goroutine) and one writer.
type Server struct {
	log         *slog.Logger
	coordinator Coordinator
	verifier    TokenVerifier
	bufferSize   int
	maxFrameSize int64
	checks       map[string]func() bool

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	conns  map[*Connection]struct{}
	wg     sync.WaitGroup
}

// NewServer builds the transport. A nil verifier accepts anonymous handshakes.
func NewServer(log *slog.Logger, coordinator Coordinator, verifier TokenVerifier, bufferSize int) *Server {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		log:         log,
		coordinator: coordinator,
		verifier:    verifier,
		bufferSize:   bufferSize,
		maxFrameSize: defaultMaxFrameSize,
		checks:       make(map[string]func() bool),
		ctx:         ctx,
		cancel:      cancel,
		conns:       make(map[*Connection]struct{}),
	}
}

// WithHealthCheck reports a dependency on /healthz. Failing checks are reported
// but do not make the relay unhealthy: realtime traffic works without them.
func (s *Server) WithHealthCheck(name string, check func() bool) *Server {
	s.checks[name] = check
	return s
}

// WithMaxFrameSize bounds inbound messages, in bytes.
func (s *Server) WithMaxFrameSize(size int64) *Server {
	if size > 0 {
		s.maxFrameSize = size
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ServeWS)
	mux.HandleFunc("/healthz", s.health)
	mux.Handle("/metrics", observability.Handler())
	return mux
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	subject := ""
	if s.verifier != nil {
		userID, err := s.verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			s.log.Debug("Handshake refused", "remote", r.RemoteAddr, "error", err)
			http.Error(w, errors.ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}
		subject = userID
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn("Failed to upgrade connection", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := newConnection(s.log, netConn, subject, s.bufferSize)
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	go conn.writeLoop()
	s.readLoop(conn)
}

// readLoop checks each frame header against maxFrameSize before reading the
// payload. An oversized message closes the connection.
func (s *Server) readLoop(conn *Connection) {
	defer func() {
		s.coordinator.Disconnect(conn)
		conn.Close()
	}()
	reader := &wsutil.Reader{
		Source:       conn.conn,
		State:        ws.StateServerSide,
		CheckUTF8:    true,
		MaxFrameSize: s.maxFrameSize,
	}
	handleControl := func(header ws.Header, src io.Reader) error {
		return wsutil.ControlHandler{Src: src, Dst: lockedWriter{conn}, State: ws.StateServerSide}.Handle(header)
	}
	// Control frames may interleave with the fragments of a message.
	reader.OnIntermediate = handleControl
	for {
		header, err := reader.NextFrame()
		if err != nil {
			s.closeReader(conn, err)
			return
		}
		if header.OpCode.IsControl() {
			if err := handleControl(header, reader); err != nil {
				conn.log.Debug("Connection closed", "error", err)
				return
			}
			continue
		}
		if header.OpCode != ws.OpText {
			if err := reader.Discard(); err != nil {
				return
			}
			s.reject(conn, fmt.Errorf("%w: text frames only", errors.ErrValidation))
			continue
		}
		// Fragmented messages are bounded as a whole, not only per frame.
		data, err := io.ReadAll(io.LimitReader(reader, s.maxFrameSize+1))
		if err != nil {
			s.closeReader(conn, err)
			return
		}
		if int64(len(data)) > s.maxFrameSize {
			s.closeReader(conn, wsutil.ErrFrameTooLarge)
			return
		}
		var inbound event.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			s.reject(conn, fmt.Errorf("%w: malformed frame", errors.ErrValidation))
			continue
		}
		s.coordinator.HandleEvent(s.ctx, conn, inbound)
	}
}

func (s *Server) closeReader(conn *Connection, err error) {
	if stderrors.Is(err, wsutil.ErrFrameTooLarge) {
		conn.log.Warn("Inbound message too large, closing", "limit", s.maxFrameSize)
		conn.closeWith(ws.StatusMessageTooBig, "message too large")
		return
	}
	conn.log.Debug("Connection closed", "error", err)
}

func (s *Server) reject(conn *Connection, err error) {
	_ = conn.Send(event.NewFrame(event.MessageError, event.ErrorPayload{Error: err.Error()}))
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"status": "ok"}
	for name, check := range s.checks {
		status[name] = check()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) track(conn *Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *Connection) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// ConnectionCount returns the number of open websockets.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close closes every websocket and waits for their handlers to return.
func (s *Server) Close() {
	s.mu.Lock()
	s.cancel()
	conns := make([]*Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
}
