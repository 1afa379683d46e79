package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-assistant/internal/conversation"
	"github.com/lexiqai/voice-assistant/internal/observability"
	"github.com/lexiqai/voice-assistant/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 120 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 1 << 20
)

// ClientSession holds the state of a single browser connection
type ClientSession struct {
	// Connection
	conn *websocket.Conn

	// Session identifiers
	id            string
	correlationID string

	// Conversation engine fed by this connection
	engine *conversation.Engine

	// Events waiting for the writer goroutine
	outbound chan protocol.Event

	// Observability
	metrics *observability.Metrics
	logger  zerolog.Logger

	// Control channels
	done      chan struct{}
	closeOnce sync.Once
}

// newClientSession creates a session for an upgraded connection
func newClientSession(conn *websocket.Conn, outboundBuffer int) *ClientSession {
	correlationID := observability.NewCorrelationID()
	sessionID := observability.NewCorrelationID()

	metrics := observability.NewSessionMetrics()
	metrics.RecordSessionStart()

	return &ClientSession{
		conn:          conn,
		id:            sessionID,
		correlationID: correlationID,
		outbound:      make(chan protocol.Event, outboundBuffer),
		metrics:       metrics,
		logger:        observability.WithSession(sessionID, correlationID),
		done:          make(chan struct{}),
	}
}

// ID returns the session id
func (s *ClientSession) ID() string {
	return s.id
}

// Emit queues an event for the client. It never blocks: a client that
// cannot keep up with the outbound buffer is disconnected.
func (s *ClientSession) Emit(event protocol.Event) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.outbound <- event:
	default:
		s.logger.Warn().
			Str("event", string(event.Name)).
			Int("buffer", cap(s.outbound)).
			Msg("Outbound buffer full, closing session")
		s.metrics.RecordError("outbound_overflow", "gateway")
		s.Close()
	}
}

// Close ends the session; safe to call more than once
func (s *ClientSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		// Unblocks the read loop.
		_ = s.conn.Close()
	})
}

// Done is closed once the session has ended
func (s *ClientSession) Done() <-chan struct{} {
	return s.done
}

// writeLoop is the only goroutine writing to the connection
func (s *ClientSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case event := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(event); err != nil {
				s.logger.Warn().Err(err).Str("event", string(event.Name)).Msg("WebSocket write error")
				s.metrics.RecordError("ws_write_error", "gateway")
				s.Close()
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.Close()
				return
			}
		}
	}
}

// readLoop handles all incoming frames until the connection drops
func (s *ClientSession) readLoop() {
	s.conn.SetReadLimit(readLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			continue
		}

		msg, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Rejected client frame")
			s.metrics.RecordError("invalid_client_message", "gateway")
			s.Emit(protocol.ErrorMessage("Invalid message: " + err.Error()))
			continue
		}

		switch m := msg.(type) {
		case protocol.SendMessage:
			s.logger.Info().Int("chars", len(m.Message)).Msg("Received message")
			s.engine.SubmitText(m.Message)
		case protocol.StartVoiceInput:
			s.logger.Info().Msg("Starting voice input")
			s.engine.SubmitVoice()
		}
	}
}
