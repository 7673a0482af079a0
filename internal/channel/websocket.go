package channel

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"skillbot/internal/agent"
	"skillbot/internal/domain"
	"skillbot/internal/metrics"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingPeriod   = 50 * time.Second
	wsMaxMessage   = 64 << 10
)

// WebSocketConfig configures the websocket endpoint.
type WebSocketConfig struct {
	Hub *agent.Hub
	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin.
	AllowedOrigins []string
	Logger         *slog.Logger
}

// WebSocket upgrades requests and binds each connection to the conversation
// named by the conversation_id query parameter, or to a fresh one.
type WebSocket struct {
	hub      *agent.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[string]*wsClient
}

// wsClient is one connected socket. Outbound events go through send so only
// writePump touches the connection for writing.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	ws := &WebSocket{
		hub:     cfg.Hub,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
	origins := cfg.AllowedOrigins
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 || slices.Contains(origins, "*") {
				return true
			}
			return slices.Contains(origins, r.Header.Get("Origin"))
		},
	}
	return ws
}

func (ws *WebSocket) Name() string { return "websocket" }

// Clients returns the number of open connections.
func (ws *WebSocket) Clients() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.clients)
}

func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	convID := r.URL.Query().Get("conversation_id")
	if convID == "" {
		convID = uuid.NewString()
	}
	client := &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		done:   make(chan struct{}),
		logger: ws.logger,
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "ws:" + client.id
	}

	ws.mu.Lock()
	ws.clients[client.id] = client
	ws.mu.Unlock()
	metrics.ActiveConnections.Inc()

	go client.writePump()

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, client.id)
		ws.mu.Unlock()
		metrics.ActiveConnections.Dec()
		client.close()
		ws.logger.Info("websocket client disconnected", "client_id", client.id, "conversation", convID)
	}()

	ctx := r.Context()
	conv, detach, err := ws.hub.Connect(ctx, convID, userID, client)
	if err != nil {
		ws.logger.Error("conversation connect failed", "conversation", convID, "err", err)
		client.Emit(domain.Outbound{Type: domain.EventError, ErrorMessage: domain.Apology(domain.Classify(err))})
		return
	}
	defer detach()
	ws.logger.Info("websocket client connected", "client_id", client.id, "conversation", convID, "user_id", userID)

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Warn("websocket read error", "client_id", client.id, "err", err)
			}
			return
		}

		turn, err := decodeTurn(data)
		if err != nil {
			ws.logger.Warn("invalid websocket message", "client_id", client.id, "err", err)
			client.Emit(domain.Outbound{Type: domain.EventError, ErrorMessage: err.Error()})
			continue
		}
		if err := conv.HandleTurn(ctx, turn); err != nil && ctx.Err() == nil {
			ws.logger.Error("turn failed", "conversation", convID, "err", err)
		}
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	}
}

// CloseAll drops every connection. Hijacked connections are not closed by
// http.Server.Shutdown.
func (ws *WebSocket) CloseAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for _, c := range ws.clients {
		c.close()
	}
}

// Emit queues an event for the socket. A client that cannot keep up loses
// the event rather than stalling the conversation.
func (c *wsClient) Emit(out domain.Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("encode outbound event", "type", out.Type, "err", err)
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("websocket send buffer full, dropping event", "client_id", c.id, "type", out.Type)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "client_id", c.id, "err", err)
				c.close()
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
			}
		}
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

var _ domain.Emitter = (*wsClient)(nil)
