package ws

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	redisrepo "voxlink-backend/internal/repository/redis"
	"voxlink-backend/internal/signaling"
	"voxlink-backend/pkg/constants"
	"voxlink-backend/pkg/logger"
	"voxlink-backend/pkg/metrics"
)

// GetAllowedOrigins returns allowed WebSocket origins from environment or defaults
func GetAllowedOrigins() map[string]bool {
	allowedOrigins := map[string]bool{
		"http://localhost:3000": true,
		"http://localhost:8080": true,
		"http://127.0.0.1:3000": true,
		"http://127.0.0.1:8080": true,
	}

	// Add production origins from environment if set
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		// Parse comma-separated origins
		for _, origin := range strings.Split(origins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return allowedOrigins
}

var callUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Reject empty origins - require explicit origin for security
			return false
		}

		allowedOrigins := GetAllowedOrigins()
		for allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

// CallHandler upgrades authenticated HTTP requests to signaling WebSocket
// connections and bridges them to the call coordinator. One connection per
// device; a user may hold several at once.
type CallHandler struct {
	coordinator *signaling.Coordinator
	presence    *redisrepo.PresenceRepository
	metrics     *metrics.Metrics

	// Concurrency limit: maxConnections is the maximum number of concurrent WebSocket connections
	maxConnections int
	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// NewCallHandler creates a call WebSocket handler. presence and m may be nil.
func NewCallHandler(coordinator *signaling.Coordinator, presence *redisrepo.PresenceRepository, m *metrics.Metrics) *CallHandler {
	// Default max connections: 1000 (configurable via environment if needed)
	maxConns := 1000
	if val := os.Getenv("WS_MAX_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	return &CallHandler{
		coordinator:    coordinator,
		presence:       presence,
		metrics:        m,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}
}

// Client is one device's signaling connection. It satisfies signaling.Conn:
// the coordinator addresses it through Send, which queues onto a bounded
// buffer that the writePump drains.
type Client struct {
	handler *CallHandler
	conn    *websocket.Conn

	id          string
	userID      uuid.UUID
	displayName string

	send      chan signaling.Event
	closed    chan struct{}
	closeOnce sync.Once
}

// ID returns the connection's unique identifier
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user behind the connection
func (c *Client) UserID() uuid.UUID { return c.userID }

// DisplayName returns the authenticated user's display name
func (c *Client) DisplayName() string { return c.displayName }

// Send queues an event for delivery. A slow consumer whose buffer is full
// has the event dropped rather than stalling the coordinator; signaling is
// latency-sensitive and a wedged device must not hold up a call.
func (c *Client) Send(ev signaling.Event) {
	select {
	case <-c.closed:
		return
	case c.send <- ev:
	default:
		logger.Warn("Dropping signaling event for slow consumer",
			zap.String("event", ev.Event),
			zap.String("user_id", c.userID.String()),
			zap.String("conn_id", c.id))
		if c.handler.metrics != nil {
			c.handler.metrics.RecordSendDrop()
		}
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// ServeWS handles WebSocket upgrade requests for call signaling
func (h *CallHandler) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server at capacity, please try again later"})
		return
	}
	release := func() { <-h.semaphore }

	// Identity comes from the auth middleware
	userIDVal, exists := c.Get("user_id")
	if !exists {
		release()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		release()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}
	displayName, _ := c.Get("display_name")
	name, _ := displayName.(string)

	conn, err := callUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		release()
		logger.Warn("WebSocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	client := &Client{
		handler:     h,
		conn:        conn,
		id:          uuid.New().String(),
		userID:      userID,
		displayName: name,
		send:        make(chan signaling.Event, constants.WebSocketSendBuffer),
		closed:      make(chan struct{}),
	}

	h.coordinator.Register(client)
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	h.setOnline(userID)

	logger.Info("Signaling connection established",
		zap.String("user_id", userID.String()),
		zap.String("conn_id", client.id))

	go client.writePump()
	go client.readPump(release)
}

func (h *CallHandler) setOnline(userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetUserOnline(ctx, userID); err != nil {
			logger.Warn("Failed to mirror presence online",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

func (h *CallHandler) setOffline(userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetUserOffline(ctx, userID); err != nil {
			logger.Warn("Failed to mirror presence offline",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

func (h *CallHandler) refreshPresence(userID uuid.UUID) {
	if h.presence == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.RefreshPresence(ctx, userID); err != nil {
			logger.Debug("Failed to refresh presence",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
	}()
}

// readPump reads signaling envelopes from the WebSocket and feeds them to
// the coordinator
func (c *Client) readPump(release func()) {
	defer func() {
		c.handler.coordinator.Unregister(c)
		c.close()
		c.conn.Close()
		c.handler.setOffline(c.userID)
		if c.handler.metrics != nil {
			c.handler.metrics.ConnectionClosed()
		}
		release()

		logger.Info("Signaling connection closed",
			zap.String("user_id", c.userID.String()),
			zap.String("conn_id", c.id))
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		c.handler.refreshPresence(c.userID)
		return nil
	})

	for {
		var env signaling.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		if env.Event == "" {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("user_id", c.userID.String()))
			continue
		}

		c.handler.coordinator.HandleEvent(c, env)
	}
}

// writePump writes queued events to the WebSocket and keeps the connection
// alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
			if c.handler.metrics != nil {
				c.handler.metrics.RecordEvent(ev.Event, "out")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
