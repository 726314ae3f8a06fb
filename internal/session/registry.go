package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Peer is the transport side of a connection. Send must be safe for
// concurrent use; the coder/websocket wrapper in internal/server
// satisfies this because Conn.Write serializes internally.
type Peer interface {
	Send(ctx context.Context, payload []byte) error
}

// Role is a connection's negotiated role, fixed at join time. Changing
// role requires a fresh init/join message.
type Role string

const (
	RoleController Role = "controller"
	RoleDisplay    Role = "display"
)

// ConnState is the lifecycle state of a connection.
type ConnState int

const (
	StateUnbound ConnState = iota
	StateBound
	StateClosed
)

// Conn is a live transport connection known to the registry. The
// registry exclusively owns the transport peer; rooms hold only the
// connection ID so closing a transport never walks room internals.
type Conn struct {
	id   string
	peer Peer

	mu       sync.Mutex
	state    ConnState
	role     Role
	roomCode string
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Binding returns the connection's role and room code, and whether it is
// currently bound to a room.
func (c *Conn) Binding() (Role, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.roomCode, c.state == StateBound
}

func (c *Conn) bind(role Role, roomCode string) {
	c.mu.Lock()
	c.state = StateBound
	c.role = role
	c.roomCode = roomCode
	c.mu.Unlock()
}

func (c *Conn) unbind() {
	c.mu.Lock()
	if c.state == StateBound {
		c.state = StateUnbound
		c.roomCode = ""
	}
	c.mu.Unlock()
}

func (c *Conn) close() {
	c.mu.Lock()
	c.state = StateClosed
	c.roomCode = ""
	c.mu.Unlock()
}

// Registry tracks every live connection by ID. It carries no business
// logic; deciding who receives what is the coordinator's job.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn

	writeTimeout time.Duration
}

// NewRegistry creates an empty registry. writeTimeout bounds each
// outbound send so a stalled recipient never blocks the sender.
func NewRegistry(writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Registry{
		conns:        make(map[string]*Conn),
		writeTimeout: writeTimeout,
	}
}

// Register adds a connection for the given transport peer and returns it.
func (r *Registry) Register(peer Peer) *Conn {
	conn := &Conn{
		id:   uuid.NewString(),
		peer: peer,
	}
	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()
	slog.Debug("registry: connection registered", "conn", conn.id)
	return conn
}

// Get returns the connection with the given ID, if registered.
func (r *Registry) Get(id string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

// Unregister removes and returns the connection. The second return is
// false when the ID was not registered (e.g. already removed by a failed
// send).
func (r *Registry) Unregister(id string) (*Conn, bool) {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if ok {
		slog.Debug("registry: connection unregistered", "conn", id)
	}
	return conn, ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send marshals v and writes it to one connection, best-effort. The
// caller decides what to do about failures.
func (r *Registry) Send(ctx context.Context, id string, v any) error {
	r.mu.RLock()
	conn := r.conns[id]
	r.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("connection %s not registered", id)
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return conn.peer.Send(wctx, payload)
}

// Broadcast sends v to each connection independently. Partial delivery
// is acceptable; IDs whose send failed are returned so the caller can
// unregister them.
func (r *Registry) Broadcast(ctx context.Context, ids []string, v any) (failed []string) {
	if len(ids) == 0 {
		return nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("registry: broadcast marshal failed", "error", err)
		return nil
	}

	r.mu.RLock()
	targets := make([]*Conn, 0, len(ids))
	for _, id := range ids {
		if conn, ok := r.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		wctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
		err := conn.peer.Send(wctx, payload)
		cancel()
		if err != nil {
			slog.Debug("registry: broadcast send failed", "conn", conn.id, "error", err)
			failed = append(failed, conn.id)
		}
	}
	return failed
}
