package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ride-dispatch/internal/domain/user"
	"ride-dispatch/internal/general/jwt"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/ports"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	readIdleTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub tracks driver and rider WebSocket connections with JWT auth. Driver
// reads double as presence heartbeats.
type Hub struct {
	logger     *logger.Logger
	jwtMgr     *jwt.Manager
	presence   ports.PresenceStore
	writeLocks sync.Map // key: *websocket.Conn -> *sync.Mutex
	drivers    sync.Map // key: driverID(string) -> *websocket.Conn
	riders     sync.Map // key: riderID(string) -> *websocket.Conn
}

// NewHub creates a Hub with JWT auth and a presence store for driver heartbeats.
func NewHub(log *logger.Logger, jwtMgr *jwt.Manager, presence ports.PresenceStore) *Hub {
	return &Hub{
		logger:   log,
		jwtMgr:   jwtMgr,
		presence: presence,
	}
}

// ConnectDriver handles WebSocket connections from drivers. While the socket
// is open the driver counts as online for matching.
func (h *Hub) ConnectDriver(w http.ResponseWriter, r *http.Request) {
	conn, claims, ok := h.upgradeAndAuth(w, r, "driver_id", user.RoleDriver)
	if !ok {
		return
	}
	driverID := claims.Subject
	defer conn.Close()
	defer h.writeLocks.Delete(conn)

	h.logger.Info(r.Context(), "ws_connected", "Driver WebSocket connected",
		map[string]any{"driver_id": driverID})

	h.drivers.Store(driverID, conn)
	defer h.drivers.Delete(driverID)

	// connecting counts as the first heartbeat
	bg := context.WithoutCancel(r.Context())
	if err := h.presence.Heartbeat(bg, driverID); err != nil {
		h.logger.Error(r.Context(), "presence_heartbeat_failed", "Failed to record driver presence", err,
			map[string]any{"driver_id": driverID})
	}
	defer func() {
		if err := h.presence.MarkOffline(bg, driverID); err != nil {
			h.logger.Error(bg, "presence_offline_failed", "Failed to mark driver offline", err,
				map[string]any{"driver_id": driverID})
		}
	}()

	h.startPingLoop(r.Context(), conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.logClose(r.Context(), conn, err, "driver", driverID)
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = h.writeMessage(conn, []byte(`{"type":"error","error":"bad json"}`))
			continue
		}

		switch msg.Type {
		case "heartbeat":
			if err := h.presence.Heartbeat(bg, driverID); err != nil {
				h.logger.Error(r.Context(), "presence_heartbeat_failed", "Failed to record driver presence", err,
					map[string]any{"driver_id": driverID})
			}
		default:
			_ = h.writeMessage(conn, []byte(`{"type":"error","error":"unknown message type"}`))
		}
	}
}

// ConnectRider handles WebSocket connections from riders. The socket is
// receive-only: ride status pushes flow out, nothing but pings flow in.
func (h *Hub) ConnectRider(w http.ResponseWriter, r *http.Request) {
	conn, claims, ok := h.upgradeAndAuth(w, r, "rider_id", user.RoleRider)
	if !ok {
		return
	}
	riderID := claims.Subject
	defer conn.Close()
	defer h.writeLocks.Delete(conn)

	h.logger.Info(r.Context(), "ws_connected", "Rider WebSocket connected",
		map[string]any{"rider_id": riderID})

	h.riders.Store(riderID, conn)
	defer h.riders.Delete(riderID)

	h.startPingLoop(r.Context(), conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logClose(r.Context(), conn, err, "rider", riderID)
			return
		}
	}
}

// upgradeAndAuth upgrades the request and runs the first-frame auth handshake.
// The path parameter, when present, must match the token subject.
func (h *Hub) upgradeAndAuth(w http.ResponseWriter, r *http.Request, pathParam string, role user.Role) (*websocket.Conn, *jwt.Claims, bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return nil, nil, false
	}

	closeOnErr := func(reason string) {
		h.sendAuthError(conn, reason)
		h.writeLocks.Delete(conn)
		_ = conn.Close()
	}

	conn.SetReadLimit(1 << 20) // 1 MiB
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		h.logger.Error(r.Context(), "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		closeOnErr("internal server error")
		return nil, nil, false
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.logger.Error(r.Context(), "ws_auth_read_failed", "Failed to read auth message", err, nil)
		closeOnErr("authentication timeout: please send auth message within 5 seconds")
		return nil, nil, false
	}
	if msgType != websocket.TextMessage {
		closeOnErr("auth message must be in text format")
		return nil, nil, false
	}

	res, err := jwt.ValidateWSAuth(firstFrame, h.jwtMgr, role)
	if err != nil {
		h.logger.Error(r.Context(), "ws_auth_failed", "Invalid auth message or token", err, nil)
		closeOnErr("authentication failed: invalid token")
		return nil, nil, false
	}

	if id := r.PathValue(pathParam); id != "" && id != res.Claims.Subject {
		h.logger.Error(r.Context(), "ws_auth_failed", "Subject mismatch", nil, map[string]any{
			"path_id":       id,
			"token_subject": res.Claims.Subject,
		})
		closeOnErr("id mismatch")
		return nil, nil, false
	}

	if err := h.writeJSON(conn, map[string]any{"type": "auth_ok", "subject": res.Claims.Subject}); err != nil {
		h.logger.Error(r.Context(), "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		h.writeLocks.Delete(conn)
		_ = conn.Close()
		return nil, nil, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	return conn, res.Claims, true
}

// startPingLoop pings every 30s using the per-connection writer lock.
func (h *Hub) startPingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for range ticker.C {
			mu := h.lockOf(conn)
			mu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(ctrlTimeout))
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
			mu.Unlock()
			if err != nil {
				// close the socket to unblock the reader; goroutine exits
				_ = conn.Close()
				return
			}
		}
	}()
}

func (h *Hub) logClose(ctx context.Context, conn *websocket.Conn, err error, kind, id string) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
		h.logger.Error(ctx, "ws_unexpected_close", "Connection closed unexpectedly", err, map[string]any{kind + "_id": id})
		h.writeClose(conn, websocket.CloseInternalServerErr, "internal error")
	} else {
		h.logger.Info(ctx, "ws_connection_closed", "Connection closed normally", map[string]any{kind + "_id": id})
		h.writeClose(conn, websocket.CloseNormalClosure, "bye")
	}
}

// SendToDriver pushes one JSON message to the driver's socket if connected.
func (h *Hub) SendToDriver(driverID string, msg any) error {
	v, ok := h.drivers.Load(driverID)
	if !ok {
		return fmt.Errorf("driver %s not connected", driverID)
	}
	return h.writeJSON(v.(*websocket.Conn), msg)
}

// SendToRider pushes one JSON message to the rider's socket if connected.
func (h *Hub) SendToRider(riderID string, msg any) error {
	v, ok := h.riders.Load(riderID)
	if !ok {
		return fmt.Errorf("rider %s not connected", riderID)
	}
	return h.writeJSON(v.(*websocket.Conn), msg)
}

// IsDriverConnected checks if a driver currently holds a socket.
func (h *Hub) IsDriverConnected(driverID string) bool {
	_, ok := h.drivers.Load(driverID)
	return ok
}

func (h *Hub) sendAuthError(conn *websocket.Conn, reason string) {
	_ = h.writeJSON(conn, map[string]any{"type": "auth_error", "error": reason})
}

// writeClose sends a close control frame with the given code and reason.
func (h *Hub) writeClose(conn *websocket.Conn, code int, reason string) {
	mu := h.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
	h.writeLocks.Delete(conn)
}

// writeMessage sets a short write deadline and writes a text message.
func (h *Hub) writeMessage(conn *websocket.Conn, payload []byte) error {
	mu := h.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// writeJSON marshals v and writes a single TextMessage to the given connection.
func (h *Hub) writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.writeMessage(conn, payload)
}

// lockOf returns the mutex for a specific connection.
func (h *Hub) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := h.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := h.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}
