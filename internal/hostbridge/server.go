// Package hostbridge is the WebSocket endpoint the browser extension
// connects to. Through it the daemon queries and mutates tabs, and the
// extension reports tab lifecycle events.
package hostbridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	zerrors "github.com/p-blackswan/zentab/internal/errors"
	"github.com/p-blackswan/zentab/internal/host"
	"github.com/p-blackswan/zentab/internal/metrics"
)

// Config holds host bridge configuration.
type Config struct {
	// Token is the shared secret the extension presents, as a bearer token
	// or a "token" query parameter. Empty disables the check.
	Token string

	// CallTimeout bounds each request to the extension.
	CallTimeout time.Duration

	// PingInterval is how often the daemon pings the extension. The
	// connection is dropped after two intervals without a pong.
	PingInterval time.Duration

	// EventQueueLimit caps events held for the subscriber. Events beyond
	// it are dropped and counted.
	EventQueueLimit int
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:     10 * time.Second,
		PingInterval:    30 * time.Second,
		EventQueueLimit: 4096,
	}
}

// peer is one extension connection.
type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan wsFrame
	closed  bool
	done    chan struct{}
}

func (p *peer) write(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// close fails every pending call and closes the socket.
func (p *peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for id, ch := range p.pending {
		ch <- wsFrame{Type: frameRes, ID: id, Error: &wsError{Code: "DISCONNECTED", Message: "connection lost"}}
		delete(p.pending, id)
	}
	p.mu.Unlock()
	close(p.done)
	p.conn.Close()
}

// Server accepts the extension connection. Only one connection is active;
// a newer one replaces the older.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	events *eventQueue

	mu         sync.Mutex
	active     *peer
	subscribed bool
}

// NewServer creates a host bridge. m may be nil.
func NewServer(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Server {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.EventQueueLimit <= 0 {
		cfg.EventQueueLimit = def.EventQueueLimit
	}
	return &Server{
		cfg:    cfg,
		events: newEventQueue(cfg.EventQueueLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		metrics: m,
		logger:  logger.With().Str("component", "hostbridge").Logger(),
	}
}

// checkOrigin admits extension pages and non-browser clients.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"moz-extension://", "chrome-extension://", "safari-web-extension://"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// Name implements coordinator.EventSource.
func (s *Server) Name() string { return "hostbridge" }

// Subscribe delivers extension events to out until ctx is cancelled.
// A startup event is emitted each time an extension connects. Events that
// arrived before Subscribe are delivered first.
func (s *Server) Subscribe(ctx context.Context, out chan<- host.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return errors.New("hostbridge: already subscribed")
	}
	s.subscribed = true
	go s.events.forward(ctx, out)
	return nil
}

// Connected reports whether an extension is connected.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Close drops the active connection.
func (s *Server) Close() {
	s.mu.Lock()
	p := s.active
	s.active = nil
	s.mu.Unlock()
	if p != nil {
		p.close()
	}
	s.metrics.SetHostConnected(false)
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("rejected extension connection: bad token")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20)

	p := &peer{
		conn:    conn,
		pending: make(map[string]chan wsFrame),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	old := s.active
	s.active = p
	s.mu.Unlock()
	if old != nil {
		s.logger.Info().Msg("newer extension connection replaces the previous one")
		old.close()
	}

	s.metrics.SetHostConnected(true)
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("extension connected")
	s.emit(host.Event{Kind: host.EventStartup})

	go s.pingLoop(p)
	s.readLoop(p)

	s.mu.Lock()
	if s.active == p {
		s.active = nil
		s.metrics.SetHostConnected(false)
	}
	s.mu.Unlock()
	p.close()
	s.logger.Info().Msg("extension disconnected")
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.Token)) == 1
}

func (s *Server) pingLoop(p *peer) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.writeMu.Lock()
			err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			p.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(p *peer) {
	grace := 2 * s.cfg.PingInterval
	_ = p.conn.SetReadDeadline(time.Now().Add(grace))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(grace))
	})

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				s.logger.Debug().Err(err).Msg("ws read ended")
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(grace))

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("ws parse error")
			continue
		}

		switch frame.Type {
		case frameRes:
			p.mu.Lock()
			ch, ok := p.pending[frame.ID]
			if ok {
				delete(p.pending, frame.ID)
			}
			p.mu.Unlock()
			if ok {
				ch <- frame
			} else {
				s.logger.Debug().Str("id", frame.ID).Msg("response for unknown request")
			}
		case frameEvent:
			ev, err := decodeEvent(frame)
			if err != nil {
				s.logger.Warn().Err(err).Str("event", frame.Event).Msg("dropping malformed event")
				continue
			}
			s.emit(ev)
		default:
			s.logger.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

// decodeEvent turns an event frame into a host.Event. The payload carries
// the Event fields other than Kind.
func decodeEvent(frame wsFrame) (host.Event, error) {
	var ev host.Event
	switch frame.Event {
	case string(host.EventCreated), string(host.EventUpdated), string(host.EventActivated),
		string(host.EventRemoved), string(host.EventStartup):
	case EventAlarmFired:
		return host.Event{Kind: host.EventAlarm}, nil
	default:
		return ev, fmt.Errorf("unknown event %q", frame.Event)
	}

	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, &ev); err != nil {
			return ev, err
		}
	}
	ev.Kind = host.EventKind(frame.Event)

	if ev.Tab != nil && ev.TabID == 0 {
		ev.TabID = ev.Tab.ID
	}
	switch ev.Kind {
	case host.EventCreated:
		if ev.Tab == nil {
			return ev, errors.New("created event without tab")
		}
	case host.EventActivated:
		if ev.ContainerID == "" && ev.Tab != nil {
			ev.ContainerID = ev.Tab.ContainerID
		}
	}
	return ev, nil
}

// emit queues ev for the subscriber without blocking the read loop.
func (s *Server) emit(ev host.Event) {
	if !s.events.push(ev) {
		s.metrics.RecordError("hostbridge", "event_dropped")
		s.logger.Warn().
			Str("kind", string(ev.Kind)).
			Int64("tab", ev.TabID).
			Int("limit", s.cfg.EventQueueLimit).
			Msg("event queue full, dropping event")
	}
}

// Call sends a request to the extension and decodes the response payload
// into result, which may be nil.
func (s *Server) Call(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	p := s.active
	s.mu.Unlock()
	if p == nil {
		return fmt.Errorf("%s: extension not connected: %w", method, zerrors.ErrUnavailable)
	}

	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshaling %s params: %w", method, err)
		}
		raw = data
	}

	id := uuid.New().String()
	ch := make(chan wsFrame, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("%s: extension not connected: %w", method, zerrors.ErrUnavailable)
	}
	p.pending[id] = ch
	p.mu.Unlock()

	start := time.Now()
	defer func() { s.metrics.ObserveHostCall(method, time.Since(start).Seconds()) }()

	if err := p.write(wsFrame{Type: frameReq, ID: id, Method: method, Params: raw}); err != nil {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
		return fmt.Errorf("sending %s: %v: %w", method, err, zerrors.ErrUnavailable)
	}

	timer := time.NewTimer(s.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return decodeResult(method, res, result)
	case <-timer.C:
	case <-ctx.Done():
	}

	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
	return fmt.Errorf("%s: no response after %s: %w", method, s.cfg.CallTimeout, zerrors.ErrTimeout)
}

func decodeResult(method string, res wsFrame, result any) error {
	if res.Error != nil {
		if res.Error.Code == "DISCONNECTED" {
			return fmt.Errorf("%s: %s: %w", method, res.Error.Message, zerrors.ErrUnavailable)
		}
		return fmt.Errorf("%s failed: %s (%s)", method, res.Error.Message, res.Error.Code)
	}
	if res.OK != nil && !*res.OK {
		return fmt.Errorf("%s failed", method)
	}
	if result == nil || len(res.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Payload, result); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
