// Package gateway serves the assistant page and bridges browser websocket
// sessions to conversation engines.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/voice-assistant/internal/assistant"
	"github.com/lexiqai/voice-assistant/internal/conversation"
	"github.com/lexiqai/voice-assistant/internal/observability"
)

// DeviceLister reports the capture devices visible to the server.
type DeviceLister interface {
	Names() ([]string, error)
}

// Options wire a Server. Capturer and Devices may be nil when the host has
// no usable microphone.
type Options struct {
	Profile     *assistant.Profile
	Completer   conversation.Completer
	Synthesizer conversation.Synthesizer
	Capturer    conversation.Capturer
	Devices     DeviceLister

	Checks         map[string]observability.HealthCheckFunc
	Pacing         time.Duration
	MinSpeechChars int
	OutboundBuffer int
	MetricsEnabled bool
}

// Server owns the HTTP routes and every live client session.
type Server struct {
	opts     Options
	page     []byte
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*ClientSession
	closing  bool
	wg       sync.WaitGroup
}

// NewServer validates opts and renders the page for the profile. Sessions
// are bound to ctx.
func NewServer(ctx context.Context, opts Options) (*Server, error) {
	if opts.Profile == nil {
		return nil, errors.New("gateway: profile is required")
	}
	if opts.Completer == nil || opts.Synthesizer == nil {
		return nil, errors.New("gateway: completer and synthesizer are required")
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = 256
	}

	page, err := renderPage(opts.Profile)
	if err != nil {
		return nil, fmt.Errorf("render page: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Server{
		opts:     opts,
		page:     page,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*ClientSession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}, nil
}

// Router returns the HTTP handler for all routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/ws", s.handleWS)
	r.Get("/test_tts", s.handleTestTTS)
	r.Get("/test_mic", s.handleTestMic)

	r.Get("/health", observability.HealthCheckHandler(s.opts.Profile.ID))
	r.Get("/ready", observability.ReadinessHandler(s.opts.Checks))
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// ActiveSessions returns the number of connected clients
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown disconnects every session and waits for their engines to stop
// or for ctx to expire. Hijacked websocket connections are not covered by
// http.Server.Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	sessions := make([]*ClientSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	s.cancel()
	for _, session := range sessions {
		session.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(s.page)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := observability.GetLogger()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}

	session := newClientSession(conn, s.opts.OutboundBuffer)
	if !s.register(session) {
		_ = conn.Close()
		session.metrics.RecordSessionEnd()
		return
	}
	defer s.unregister(session)

	engine, err := conversation.NewEngine(s.ctx, conversation.Deps{
		Completer:   s.opts.Completer,
		Synthesizer: s.opts.Synthesizer,
		Capturer:    s.opts.Capturer,
		Emitter:     session,
	}, conversation.Options{
		Instruction:    s.opts.Profile.Instruction,
		Pacing:         s.opts.Pacing,
		MinSpeechChars: s.opts.MinSpeechChars,
		Logger:         &session.logger,
		Metrics:        session.metrics,
	})
	if err != nil {
		session.logger.Error().Err(err).Msg("Failed to start conversation engine")
		session.Close()
		session.metrics.RecordSessionEnd()
		return
	}
	session.engine = engine
	engine.Start()

	session.logger.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		session.writeLoop()
	}()

	session.readLoop()

	session.Close()
	engine.Close()
	<-writerDone
	session.metrics.RecordSessionEnd()

	session.logger.Info().Msg("Client disconnected")
}

func (s *Server) register(session *ClientSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions[session.id] = session
	s.wg.Add(1)
	return true
}

func (s *Server) unregister(session *ClientSession) {
	s.mu.Lock()
	delete(s.sessions, session.id)
	s.mu.Unlock()
	s.wg.Done()
}

// sameOrigin admits non-browser clients (no Origin header) and browser
// pages served from this host.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
