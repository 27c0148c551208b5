package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/recordlock/recordlock/core/coordinator"
	"github.com/recordlock/recordlock/core/identity"
	"github.com/recordlock/recordlock/core/infra/logging"
	"github.com/recordlock/recordlock/core/infra/metrics"
)

const component = "channel"

const (
	// A connection must authenticate with its first frame within this
	// window or it is dropped.
	authDeadline = 10 * time.Second

	writeWait     = 10 * time.Second
	sendQueueSize = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type connection struct {
	id   string
	user identity.User
	ws   *websocket.Conn
	send chan []byte
}

// Hub owns all realtime connections. It authenticates handshakes,
// dispatches inbound lock events to the coordinator and broadcasts
// outbound lock events to every connection except the originator.
type Hub struct {
	coord    *coordinator.Coordinator
	verifier identity.Verifier
	metrics  metrics.ChannelMetrics

	mu     sync.RWMutex
	conns  map[string]*connection
	closed bool

	wg sync.WaitGroup
}

func NewHub(coord *coordinator.Coordinator, verifier identity.Verifier, m metrics.ChannelMetrics) *Hub {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Hub{
		coord:    coord,
		verifier: verifier,
		metrics:  m,
		conns:    make(map[string]*connection),
	}
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(component, "upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	user, err := h.authenticate(ws)
	if err != nil {
		logging.Warn(component, "handshake rejected", "remote", r.RemoteAddr, "error", err)
		_ = ws.Close()
		return
	}

	conn := &connection{
		id:   uuid.NewString(),
		user: *user,
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = ws.Close()
		return
	}
	h.conns[conn.id] = conn
	h.mu.Unlock()
	h.metrics.IncConnections()
	logging.Info(component, "connected", "connection", conn.id, "user", user.ID, "remote", r.RemoteAddr)

	h.wg.Add(1)
	go h.writeLoop(conn)

	h.readLoop(r.Context(), conn)
	h.drop(conn)
}

// authenticate reads the first frame, which must be an auth event with a
// verifiable token. No other event is processed before it.
func (h *Hub) authenticate(ws *websocket.Conn) (*identity.User, error) {
	if err := ws.SetReadDeadline(time.Now().Add(authDeadline)); err != nil {
		return nil, err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	if env.Event != eventAuth {
		return nil, errors.New("first frame must authenticate")
	}
	payload, err := parseAuth(env.Data)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), authDeadline)
	defer cancel()
	user, err := h.verifier.VerifyToken(ctx, payload.Token)
	if err != nil {
		return nil, err
	}
	if err := ws.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return user, nil
}

// readLoop processes inbound events in order for one connection.
// Independent connections run their own loops, so one pending store
// operation never stalls the others.
func (h *Hub) readLoop(ctx context.Context, conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info(component, "connection closed", "connection", conn.id, "error", err)
			}
			return
		}
		h.dispatch(ctx, conn, data)
	}
}

func (h *Hub) dispatch(ctx context.Context, conn *connection, data []byte) {
	env, err := parseEnvelope(data)
	if err != nil {
		h.metrics.IncEventsDropped("invalid")
		logging.Warn(component, "dropping malformed frame", "connection", conn.id, "error", err)
		return
	}
	switch env.Event {
	case eventOpen:
		payload, err := parseEntity(env.Data)
		if err != nil {
			h.metrics.IncEventsDropped("invalid")
			logging.Warn(component, "dropping invalid openEntity", "connection", conn.id, "user", conn.user.ID, "error", err)
			return
		}
		if _, err := h.coord.Acquire(ctx, conn.user.ID, payload.Resource, payload.Instance, conn.id); err != nil {
			logging.Error(component, "acquire failed", "connection", conn.id, "user", conn.user.ID, "resource", payload.Resource, "instance", payload.Instance, "error", err)
		}
	case eventClose:
		payload, err := parseEntity(env.Data)
		if err != nil {
			h.metrics.IncEventsDropped("invalid")
			logging.Warn(component, "dropping invalid closeEntity", "connection", conn.id, "user", conn.user.ID, "error", err)
			return
		}
		// The bound identity is authoritative; a mismatched payload user
		// is suspicious but not fatal.
		if payload.UserID != "" && payload.UserID != conn.user.ID {
			logging.Warn(component, "closeEntity user mismatch", "connection", conn.id, "bound", conn.user.ID, "claimed", payload.UserID)
		}
		if _, err := h.coord.Release(ctx, conn.user.ID, payload.Resource, payload.Instance, conn.id); err != nil {
			logging.Error(component, "release failed", "connection", conn.id, "user", conn.user.ID, "resource", payload.Resource, "instance", payload.Instance, "error", err)
		}
	default:
		h.metrics.IncEventsDropped("unknown-event")
		logging.Warn(component, "dropping unknown event", "connection", conn.id, "event", env.Event)
	}
}

func (h *Hub) writeLoop(conn *connection) {
	defer h.wg.Done()
	for data := range conn.send {
		_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logging.Warn(component, "write failed", "connection", conn.id, "error", err)
			return
		}
	}
	_ = conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// drop releases everything the connection held, then discards it. The
// lock cleanup runs before connection state is forgotten so a crashing
// client can never leave a lock behind.
func (h *Hub) drop(conn *connection) {
	h.mu.Lock()
	if _, ok := h.conns[conn.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.id)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if count, err := h.coord.ReleaseByConnection(ctx, conn.id); err == nil && count > 0 {
		logging.Info(component, "released locks on disconnect", "connection", conn.id, "count", count)
	}

	close(conn.send)
	_ = conn.ws.Close()
	h.metrics.DecConnections()
}

// EntityLocked broadcasts a lock event to every connection but the origin.
func (h *Hub) EntityLocked(resource, instance, origin string) {
	h.broadcast(EventLocked, resource, instance, origin)
}

// EntityUnlocked broadcasts an unlock event to every connection but the origin.
func (h *Hub) EntityUnlocked(resource, instance, origin string) {
	h.broadcast(EventUnlocked, resource, instance, origin)
}

func (h *Hub) broadcast(event, resource, instance, origin string) {
	data, err := encodeEvent(event, resource, instance)
	if err != nil {
		logging.Error(component, "encode event failed", "event", event, "error", err)
		return
	}
	var slow []*connection
	h.mu.RLock()
	for id, conn := range h.conns {
		if id == origin {
			continue
		}
		select {
		case conn.send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	// A consumer that cannot keep up is cut loose rather than allowed to
	// stall lock-event delivery.
	for _, conn := range slow {
		h.metrics.IncEventsDropped("slow-consumer")
		logging.Warn(component, "disconnecting slow consumer", "connection", conn.id)
		h.drop(conn)
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown rejects new connections, closes the live ones and waits for
// their writers to finish or the context to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.drop(conn)
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
