package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"
)

// wsPeer adapts a websocket connection to the session.Peer interface.
// coder/websocket serializes concurrent writes internally.
type wsPeer struct {
	conn *websocket.Conn
}

func (p *wsPeer) Send(ctx context.Context, payload []byte) error {
	return p.conn.Write(ctx, websocket.MessageText, payload)
}

// handleWS admits a WebSocket client and pumps its messages into the
// coordinator until the connection drops or the server drains.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	cfg := s.GetConfig()

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		slog.Error("failed to parse remote address", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if cfg.Security.RateLimit.Enabled && s.rateLimiter != nil && !s.rateLimiter.Allow(clientIP) {
		slog.Warn("connection rate limit exceeded", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	// Atomic check-and-increment so concurrent upgrades cannot race past
	// the caps.
	if !s.tracker.TryAcquire(clientIP) {
		slog.Warn("connection limit reached", "client_ip", clientIP, "active", s.tracker.Count())
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer s.tracker.Release(clientIP)

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("failed to accept WebSocket", "client_ip", clientIP, "error", err)
		return
	}
	wsConn.SetReadLimit(cfg.Server.MaxMessageSize)

	if s.Metrics != nil {
		s.Metrics.ConnectionsTotal.Inc()
		s.Metrics.ActiveConnections.Inc()
		defer s.Metrics.ActiveConnections.Dec()
	}

	conn := s.Registry.Register(&wsPeer{conn: wsConn})
	slog.Info("client connected", "client_ip", clientIP, "conn", conn.ID())

	// connCtx governs this connection only; it ends with the process,
	// not with ServeHTTP's request context.
	connCtx, connCancel := context.WithCancel(s.shutdownCtx)
	defer connCancel()

	// Ping must run concurrently with Read per coder/websocket docs.
	if cfg.Server.PingInterval > 0 {
		go s.keepAlive(connCtx, wsConn, cfg.Server.PingInterval, cfg.Server.PongTimeout, connCancel)
	}

	// Drain watcher: a graceful close frame makes Read return below,
	// triggering normal teardown.
	go func() {
		select {
		case <-s.drainCtx.Done():
			wsConn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-connCtx.Done():
		}
	}()

	var msgLimiter *rate.Limiter
	if cfg.Security.RateLimit.Enabled && cfg.Security.RateLimit.MessagesPerSecond > 0 {
		msgLimiter = rate.NewLimiter(rate.Limit(cfg.Security.RateLimit.MessagesPerSecond), cfg.Security.RateLimit.MessagesPerSecond)
	}

	start := time.Now()
	s.readLoop(connCtx, conn.ID(), wsConn, msgLimiter)

	// Disconnect handling owns room cleanup and the grace notice.
	s.Coordinator.HandleDisconnect(s.shutdownCtx, conn.ID())
	wsConn.Close(websocket.StatusNormalClosure, "")
	slog.Info("client disconnected", "client_ip", clientIP, "conn", conn.ID(), "duration", time.Since(start).String())
}

// readLoop delivers inbound messages to the coordinator in arrival
// order. Per-connection ordering is what the session layer relies on;
// no extra goroutines touch this stream.
func (s *Server) readLoop(ctx context.Context, connID string, wsConn *websocket.Conn, msgLimiter *rate.Limiter) {
	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			slog.Debug("read loop stopped", "conn", connID, "reason", err)
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		if msgLimiter != nil {
			if err := msgLimiter.Wait(ctx); err != nil {
				slog.Debug("message rate limit", "conn", connID, "reason", err)
				return
			}
		}
		s.Coordinator.HandleMessage(ctx, connID, data)
	}
}

// keepAlive sends periodic pings to detect dead connections. A failed
// ping closes the connection and cancels the connection context.
func (s *Server) keepAlive(ctx context.Context, conn *websocket.Conn, interval, pongTimeout time.Duration, onFail context.CancelFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, pongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("keepalive ping failed, closing connection", "error", err)
				conn.Close(websocket.StatusGoingAway, "keepalive timeout")
				onFail()
				return
			}
		}
	}
}
