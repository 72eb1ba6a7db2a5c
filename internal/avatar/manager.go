package avatar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the rendering service.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the rendering service.
	maxMessageSize = 512 * 1024

	// Outbound queue depth per session. Deep enough to absorb a full
	// second of audio frames without the pacer ever blocking dispatch.
	sendQueueSize = 64
)

// SessionState is the lifecycle state of one registered avatar session
// handle. Unregistered sessions read as Disconnected; a failed handle is
// removed from the registry immediately, so an errored state is only
// ever observable through the TransportError it leaves behind.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateAwaitingConfirmation
	StateReady
	StateStreaming
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// TransportError reports a connection-level failure for a session. It is
// fatal to that session; the core never retries on its own.
type TransportError struct {
	SessionID string
	Phase     string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("avatar session %s: transport failure during %s: %v", e.SessionID, e.Phase, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type writeData struct {
	// Type is websocket.TextMessage or websocket.BinaryMessage.
	Type    int
	Payload []byte
}

// session is one registered connection handle. The generation id tells a
// current handle apart from a superseded one with the same session id.
type session struct {
	id         string
	generation string
	conn       *websocket.Conn
	send       chan writeData
	confirmed  chan error
	resolve    sync.Once
	state      SessionState

	mu     sync.Mutex
	closed bool
}

// enqueue hands a frame to the session's write pump. Returns false when
// the session has already been closed.
func (s *session) enqueue(data writeData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once, letting the write pump
// flush queued frames and close the transport.
func (s *session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

func (s *session) resolveConfirm(err error) {
	s.resolve.Do(func() {
		s.confirmed <- err
		close(s.confirmed)
	})
}

// Manager owns the persistent connections to the avatar rendering
// service, at most one live handle per session id. All sends go through
// it; the pacer and the API layer never touch a connection directly.
type Manager struct {
	serviceURL string
	dialer     *websocket.Dialer
	interrupts *InterruptStore
	logger     *zap.Logger

	// Speaking-state events from the rendering service, for callers that
	// care when the avatar starts or stops talking.
	events chan StatusEvent

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager creates a connection manager dialing serviceURL.
func NewManager(serviceURL string, interrupts *InterruptStore, logger *zap.Logger) *Manager {
	return &Manager{
		serviceURL: serviceURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		interrupts: interrupts,
		logger:     logger,
		events:     make(chan StatusEvent, 32),
		sessions:   make(map[string]*session),
	}
}

// Events exposes avatar speaking-state transitions. Events are dropped
// when no one is draining the channel; dispatch never blocks on it.
func (m *Manager) Events() <-chan StatusEvent {
	return m.events
}

// Connect opens a connection for sessionID and sends the initialize
// control message. Any previous handle for the same id is superseded:
// its pending confirmation rejects and its remaining events are
// discarded. The returned channel yields nil once the rendering service
// confirms initialization on this handle, or the failure that ended the
// attempt.
func (m *Manager) Connect(ctx context.Context, sessionID string, params InitParams) (<-chan error, error) {
	conn, _, err := m.dialer.DialContext(ctx, m.serviceURL, nil)
	if err != nil {
		return nil, &TransportError{SessionID: sessionID, Phase: "dial", Err: err}
	}

	s := &session{
		id:         sessionID,
		generation: uuid.NewString(),
		conn:       conn,
		send:       make(chan writeData, sendQueueSize),
		confirmed:  make(chan error, 1),
		state:      StateAwaitingConfirmation,
	}

	m.mu.Lock()
	if prev, ok := m.sessions[sessionID]; ok {
		m.logger.Warn("Superseding existing avatar session",
			zap.String("sessionID", sessionID),
			zap.String("oldGeneration", prev.generation),
			zap.String("newGeneration", s.generation))
		prev.resolveConfirm(&TransportError{SessionID: sessionID, Phase: "superseded", Err: fmt.Errorf("connection superseded by a newer connect")})
		prev.shutdown()
	}
	m.sessions[sessionID] = s
	m.mu.Unlock()

	go m.writePump(s)
	go m.readPump(s)

	frame, err := Encode(HeaderInitialize, params)
	if err != nil {
		m.teardown(s, &TransportError{SessionID: sessionID, Phase: "initialize", Err: err})
		return nil, err
	}
	if !s.enqueue(writeData{Type: websocket.TextMessage, Payload: frame}) {
		err := &TransportError{SessionID: sessionID, Phase: "initialize", Err: fmt.Errorf("session closed before initialize was sent")}
		m.teardown(s, err)
		return nil, err
	}

	m.logger.Info("Avatar session connecting",
		zap.String("sessionID", sessionID),
		zap.String("generation", s.generation),
		zap.String("liveID", params.LiveID))

	return s.confirmed, nil
}

// Send encodes and transmits a text-frame control or data message. A send
// to a session with no live handle is a logged no-op, not an error:
// callers racing a close must not be penalized.
func (m *Manager) Send(sessionID string, header Header, body interface{}) error {
	s := m.current(sessionID)
	if s == nil {
		m.logger.Debug("Dropping send to absent avatar session",
			zap.String("sessionID", sessionID),
			zap.String("header", string(header)))
		return nil
	}
	frame, err := Encode(header, body)
	if err != nil {
		return err
	}
	if !s.enqueue(writeData{Type: websocket.TextMessage, Payload: frame}) {
		m.logger.Debug("Dropping send to closed avatar session",
			zap.String("sessionID", sessionID),
			zap.String("header", string(header)))
		return nil
	}

	// The PCM-start announcement and end-of-stream bracket a streaming
	// run; track the Ready <-> Streaming transition off them.
	switch header {
	case HeaderPCMStart:
		m.setState(sessionID, StateStreaming)
	case HeaderAudioEnd:
		m.setState(sessionID, StateReady)
	}
	return nil
}

// State reports the lifecycle state of the session's current handle, or
// StateDisconnected when none is registered.
func (m *Manager) State(sessionID string) SessionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return StateDisconnected
	}
	return s.state
}

func (m *Manager) setState(sessionID string, state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.state = state
	}
}

// SendBinary transmits one audio payload as a binary frame, prefixed with
// the PCM-start header. Same no-op contract as Send for absent sessions.
func (m *Manager) SendBinary(sessionID string, payload []byte) error {
	s := m.current(sessionID)
	if s == nil {
		m.logger.Debug("Dropping binary send to absent avatar session",
			zap.String("sessionID", sessionID),
			zap.Int("size", len(payload)))
		return nil
	}
	frame, err := EncodeBinary(HeaderPCMStart, payload)
	if err != nil {
		return err
	}
	if !s.enqueue(writeData{Type: websocket.BinaryMessage, Payload: frame}) {
		m.logger.Debug("Dropping binary send to closed avatar session",
			zap.String("sessionID", sessionID))
	}
	return nil
}

// Interrupt flips the session's barge-in flag and tells the rendering
// service to stop the avatar mid-sentence. A second interrupt while one
// is already in progress is a harmless no-op, as is an interrupt for a
// session with no live handle — no flag-store entry is created for it.
func (m *Manager) Interrupt(sessionID string) {
	if m.current(sessionID) == nil {
		m.logger.Debug("Interrupt for absent avatar session ignored",
			zap.String("sessionID", sessionID))
		return
	}
	if !m.interrupts.Interrupt(sessionID) {
		m.logger.Debug("Redundant interrupt ignored", zap.String("sessionID", sessionID))
		return
	}
	m.logger.Info("Interrupting avatar session", zap.String("sessionID", sessionID))
	if err := m.Send(sessionID, HeaderInterrupt, nil); err != nil {
		m.logger.Warn("Failed to send interrupt",
			zap.String("sessionID", sessionID),
			zap.Error(err))
	}
}

// Close tears a session down. Idempotent: closing an unknown or already
// closed session id is a silent no-op. A terminate control message is
// sent best-effort before the transport closes.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	s.state = StateClosing
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.interrupts.Cleanup(sessionID)

	if frame, err := Encode(HeaderTerminate, nil); err == nil {
		s.enqueue(writeData{Type: websocket.TextMessage, Payload: frame})
	}
	s.resolveConfirm(&TransportError{SessionID: sessionID, Phase: "close", Err: fmt.Errorf("session closed before confirmation")})
	s.shutdown()

	m.logger.Info("Avatar session closed", zap.String("sessionID", sessionID))
}

// current returns the registered handle for sessionID, or nil.
func (m *Manager) current(sessionID string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// isCurrent reports whether s is still the registered handle for its id.
// Events fired by a superseded handle must never be dispatched.
func (m *Manager) isCurrent(s *session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.sessions[s.id]
	return ok && cur.generation == s.generation
}

// teardown removes s from the registry (only if it is still the current
// handle), rejects its pending confirmation, and closes the transport.
func (m *Manager) teardown(s *session, err error) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.id]; ok && cur.generation == s.generation {
		delete(m.sessions, s.id)
		m.interrupts.Cleanup(s.id)
	}
	m.mu.Unlock()

	s.resolveConfirm(err)
	s.shutdown()
}

// writePump serializes all writes to one connection, interleaving pings.
// It owns the transport: once the send channel drains after shutdown, it
// writes a close frame and closes the socket.
func (m *Manager) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(message.Type, message.Payload); err != nil {
				m.logger.Error("Failed to write to avatar session",
					zap.String("sessionID", s.id),
					zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound protocol messages and dispatches them, but only
// while s is still the current handle for its session id.
func (m *Manager) readPump(s *session) {
	defer func() {
		m.teardown(s, &TransportError{SessionID: s.id, Phase: "receive", Err: fmt.Errorf("connection closed before confirmation")})
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if m.isCurrent(s) && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Error("Avatar session read error",
					zap.String("sessionID", s.id),
					zap.Error(err))
			}
			return
		}

		if !m.isCurrent(s) {
			m.logger.Debug("Discarding event from superseded connection",
				zap.String("sessionID", s.id),
				zap.String("generation", s.generation))
			continue
		}

		msg, err := Decode(raw)
		if err != nil {
			m.logger.Warn("Undecodable message from avatar service",
				zap.String("sessionID", s.id),
				zap.Error(err))
			continue
		}
		m.dispatch(s, msg)
	}
}

// dispatch routes one inbound message from the current handle.
func (m *Manager) dispatch(s *session, msg Message) {
	switch msg.Header {
	case HeaderConfirmation:
		m.mu.Lock()
		if cur, ok := m.sessions[s.id]; ok && cur.generation == s.generation {
			s.state = StateReady
		}
		m.mu.Unlock()
		m.logger.Info("Avatar session confirmed", zap.String("sessionID", s.id))
		s.resolveConfirm(nil)

	case HeaderStatus:
		status, _ := msg.Body["status"].(string)
		m.logger.Debug("Avatar status",
			zap.String("sessionID", s.id),
			zap.String("status", status))
		select {
		case m.events <- StatusEvent{SessionID: s.id, Status: status}:
		default:
			m.logger.Warn("Dropping avatar status event, subscriber not draining",
				zap.String("sessionID", s.id))
		}

	case HeaderHeartbeat:
		m.logger.Debug("Avatar heartbeat", zap.String("sessionID", s.id))

	case HeaderException:
		m.logger.Warn("Avatar service reported exception",
			zap.String("sessionID", s.id),
			zap.Any("body", msg.Body),
			zap.String("raw", msg.Raw))

	default:
		m.logger.Warn("Unknown message from avatar service",
			zap.String("sessionID", s.id),
			zap.String("header", string(msg.Header)),
			zap.String("raw", msg.Raw))
	}
}
