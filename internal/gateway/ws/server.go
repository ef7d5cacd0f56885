// Package ws implements the WebSocket run channel. A client opens one
// connection, submits any number of executions and may cancel each of them
// by id. Closing the connection cancels everything still in flight.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
	"github.com/jkaninda/sandrun/internal/gateway"
	"github.com/jkaninda/sandrun/internal/observability"
	"github.com/jkaninda/sandrun/internal/protocol"
	"github.com/jkaninda/sandrun/internal/ratelimit"
	"github.com/jkaninda/sandrun/internal/supervisor"
)

// Server upgrades HTTP requests to sandrun-v1 connections.
type Server struct {
	exec    executor.Service
	cfg     *config.WebSocketGatewayConfig
	auth    *gateway.Authenticator
	limiter *ratelimit.Limiter
	metrics *observability.MetricsCollector
	logger  *slog.Logger
}

// NewServer creates a WebSocket server running executions through exec.
func NewServer(exec executor.Service, cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Server {
	return &Server{exec: exec, cfg: cfg, logger: logger}
}

// WithAuth requires a bearer key on the upgrade request.
func (s *Server) WithAuth(auth *gateway.Authenticator) *Server {
	s.auth = auth
	return s
}

// WithLimiter rate limits run messages per user.
func (s *Server) WithLimiter(l *ratelimit.Limiter) *Server {
	s.limiter = l
	return s
}

// WithMetrics tracks open connections.
func (s *Server) WithMetrics(m *observability.MetricsCollector) *Server {
	s.metrics = m
	return s
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browsers cannot set headers on WebSocket handshakes.
		if token := r.URL.Query().Get("token"); token != "" {
			header = "Bearer " + token
		}
	}
	userID, err := s.auth.User(header)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{protocol.Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	if conn.Subprotocol() != protocol.Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "client must speak "+protocol.Subprotocol)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit())

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
		defer s.metrics.WSConnections.Dec()
	}

	sess := &session{
		server:  s,
		conn:    conn,
		userID:  userID,
		running: make(map[string]*supervisor.Execution),
		slots:   make(chan struct{}, s.cfg.MaxConcurrent()),
	}
	sess.serve(r.Context())
}

// session is one client connection.
type session struct {
	server *Server
	conn   *websocket.Conn
	userID string

	mu      sync.Mutex
	running map[string]*supervisor.Execution
	slots   chan struct{}
	wg      sync.WaitGroup
}

func (c *session) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	logger := c.server.logger.With(slog.String("user_id", c.userID))
	defer func() {
		// Executions inherit ctx, so canceling it cancels them all.
		cancel()
		c.wg.Wait()
		c.conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	go c.heartbeat(ctx)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				logger.Debug("websocket client disconnected")
			} else {
				logger.Warn("websocket connection error", slog.String("error", err.Error()))
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.write(ctx, protocol.Error(msg.ID, "%v", err))
			continue
		}
		switch msg.Type {
		case protocol.MsgRun:
			c.run(ctx, msg)
		case protocol.MsgCancel:
			c.cancel(ctx, msg.ID)
		default:
			c.write(ctx, protocol.Error(msg.ID, "unexpected %s message from client", msg.Type))
		}
	}
}

func (c *session) run(ctx context.Context, msg protocol.Message) {
	if c.server.limiter != nil {
		if err := c.server.limiter.Allow(c.userID); err != nil {
			c.write(ctx, protocol.Error(msg.ID, "%v", err))
			return
		}
	}

	c.mu.Lock()
	_, dup := c.running[msg.ID]
	c.mu.Unlock()
	if dup {
		c.write(ctx, protocol.Error(msg.ID, "execution %q is already running", msg.ID))
		return
	}

	select {
	case c.slots <- struct{}{}:
	default:
		c.write(ctx, protocol.Error(msg.ID, "too many concurrent executions (max %d)", cap(c.slots)))
		return
	}

	exec, err := c.server.exec.Start(ctx, *msg.Request)
	if err != nil {
		<-c.slots
		// Rejected before any isolate existed; still a normal outcome.
		c.write(ctx, protocol.Outcome(msg.ID, domain.FailureFrom(err)))
		return
	}

	c.mu.Lock()
	c.running[msg.ID] = exec
	c.mu.Unlock()
	c.write(ctx, protocol.Started(msg.ID))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		<-exec.Done()
		out, _ := exec.Outcome()

		c.mu.Lock()
		delete(c.running, msg.ID)
		c.mu.Unlock()
		<-c.slots

		c.write(ctx, protocol.Outcome(msg.ID, out))
	}()
}

func (c *session) cancel(ctx context.Context, id string) {
	c.mu.Lock()
	exec, ok := c.running[id]
	c.mu.Unlock()
	if !ok {
		c.write(ctx, protocol.Error(id, "no running execution %q", id))
		return
	}
	exec.Cancel()
}

func (c *session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(c.server.cfg.WSHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.server.logger.Debug("websocket ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// write sends one frame. Errors mean the connection is gone, which the read
// loop notices on its own.
func (c *session) write(ctx context.Context, msg protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Error("encoding websocket message", slog.String("error", err.Error()))
		return
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.server.logger.Debug("websocket write failed",
			slog.String("id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}
