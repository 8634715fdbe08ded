// Package websocket pushes change events to connected staff clients. Clients
// subscribe to collection topics ("visits") or document topics
// ("visits/<id>") and receive every change the outbox relay delivers.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic/internal/platform/auth"
)

// Event is one change notification as seen by a browser.
type Event struct {
	Type       string          `json:"type"`
	Collection string          `json:"collection"`
	DocumentID string          `json:"documentId,omitempty"`
	Op         string          `json:"op"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Topics returns the collection topic and, when the event names a document,
// the document topic.
func (e Event) Topics() []string {
	if e.DocumentID == "" {
		return []string{e.Collection}
	}
	return []string{e.Collection, e.Collection + "/" + e.DocumentID}
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ServerMessage acknowledges or rejects a ClientMessage.
type ServerMessage struct {
	Type    string   `json:"type"`
	Topics  []string `json:"topics,omitempty"`
	Message string   `json:"message,omitempty"`
}

// restrictedTopics maps a collection to the capability needed to watch it.
var restrictedTopics = map[string]auth.Action{
	"auditLogs": auth.ActAuditView,
	"expenses":  auth.ActExpensesCreate,
	"staff":     auth.ActStaffManage,
	"users":     auth.ActStaffManage,
}

// CanSubscribe reports whether role may watch topic.
func CanSubscribe(role auth.Role, topic string) bool {
	collection, _, _ := strings.Cut(topic, "/")
	if collection == "" {
		return false
	}
	action, restricted := restrictedTopics[collection]
	return !restricted || auth.Can(role, action)
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	Role   auth.Role
	Topics []string
	Send   chan []byte
}

func NewClient(role auth.Role) *Client {
	return &Client{
		ID:     uuid.New().String(),
		Role:   role,
		Topics: []string{},
		Send:   make(chan []byte, 256),
	}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribe adds the topics the client's role may watch and returns the ones
// it refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	have := make(map[string]struct{}, len(client.Topics))
	for _, t := range client.Topics {
		have[t] = struct{}{}
	}

	for _, topic := range topics {
		if !CanSubscribe(client.Role, topic) {
			denied = append(denied, topic)
			continue
		}
		if _, dup := have[topic]; dup {
			continue
		}
		have[topic] = struct{}{}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage and returns the reply.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) ServerMessage {
	switch msg.Action {
	case "subscribe":
		denied := h.Subscribe(client, msg.Topics)
		if len(denied) > 0 {
			return ServerMessage{Type: "error", Topics: denied, Message: "not permitted"}
		}
		return ServerMessage{Type: "subscribed", Topics: msg.Topics}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
		return ServerMessage{Type: "unsubscribed", Topics: msg.Topics}
	default:
		return ServerMessage{Type: "error", Message: "unknown action"}
	}
}

// Publish delivers event to every client watching its collection or its
// document. A client watching both receives it once. Slow clients whose
// buffer is full miss the event rather than block the relay.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		event.Type = "change"
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, topic := range event.Topics() {
		for client := range h.clients[topic] {
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.Send <- data:
			default:
				h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket client buffer full, dropping event")
			}
		}
	}
	return nil
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) topicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Handler upgrades GET /ws and runs the read and write pumps.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler restricts upgrades to allowedOrigins; an empty list or "*"
// accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
			},
		},
	}
}

func (wh *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades an authenticated request. Initial topics may be
// passed as ?topics=visits,inventory.
func (wh *Handler) HandleConnect(c echo.Context) error {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}

	ws, err := wh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(p.Role)
	wh.hub.Register(client)
	if q := c.QueryParam("topics"); q != "" {
		wh.hub.Subscribe(client, strings.Split(q, ","))
	}
	wh.hub.logger.Debug().
		Str("client_id", client.ID).
		Str("role", string(p.Role)).
		Int("clients", wh.hub.ClientCount()).
		Msg("websocket client connected")

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)
	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
		wh.hub.logger.Debug().Str("client_id", client.ID).Int("clients", wh.hub.ClientCount()).Msg("websocket client disconnected")
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		reply, err := json.Marshal(wh.hub.ProcessMessage(client, msg))
		if err != nil {
			continue
		}
		wh.hub.mu.RLock()
		_, alive := wh.hub.all[client]
		if alive {
			select {
			case client.Send <- reply:
			default:
			}
		}
		wh.hub.mu.RUnlock()
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
