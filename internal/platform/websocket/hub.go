// Package websocket pushes availability changes to connected portals.
// Clients subscribe to doctor/<id> topics and receive an event whenever that
// doctor's schedule, exceptions or bookings change. Subscriptions are scoped
// to the tenant the connection was opened for.
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

	"github.com/clinic/clinic/internal/domain/availability"
	"github.com/clinic/clinic/internal/platform/db"
)

const topicPrefix = "doctor/"

// Event is the frame written to subscribers.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	DoctorID  string          `json:"doctor_id"`
	Source    string          `json:"source,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func eventFrom(change availability.ChangeEvent) Event {
	return Event{
		Type:      change.Type,
		Topic:     change.Topic(),
		DoctorID:  change.DoctorID.String(),
		Source:    change.Source,
		Timestamp: change.Timestamp,
		Data:      change.Data,
	}
}

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ValidTopic reports whether topic names a doctor, e.g. doctor/<uuid>.
func ValidTopic(topic string) bool {
	if !strings.HasPrefix(topic, topicPrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(topic, topicPrefix))
	return err == nil
}

func validTopics(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if ValidTopic(t) {
			out = append(out, t)
		}
	}
	return out
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	Tenant string
	Topics []string
	Send   chan []byte
}

func scopedKey(tenant, topic string) string {
	return tenant + "|" + topic
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]map[*Client]struct{} // tenant|topic -> subscribers
	all           map[*Client]struct{}
	defaultTenant string
	logger        zerolog.Logger
}

func NewHub(defaultTenant string, logger zerolog.Logger) *Hub {
	return &Hub{
		clients:       make(map[string]map[*Client]struct{}),
		all:           make(map[*Client]struct{}),
		defaultTenant: defaultTenant,
		logger:        logger,
	}
}

func (h *Hub) tenantOr(tenant string) string {
	if tenant == "" {
		return h.defaultTenant
	}
	return tenant
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.Tenant = h.tenantOr(client.Tenant)
	client.Topics = validTopics(client.Topics)
	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(client, topic)
	}
}

func (h *Hub) addLocked(client *Client, topic string) {
	key := scopedKey(client.Tenant, topic)
	if h.clients[key] == nil {
		h.clients[key] = make(map[*Client]struct{})
	}
	h.clients[key][client] = struct{}{}
}

func (h *Hub) removeLocked(client *Client, topic string) {
	key := scopedKey(client.Tenant, topic)
	if subscribers, ok := h.clients[key]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, key)
		}
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(client, topic)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client. Malformed topics are dropped.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	have := make(map[string]struct{}, len(client.Topics))
	for _, t := range client.Topics {
		have[t] = struct{}{}
	}
	for _, topic := range validTopics(topics) {
		if _, dup := have[topic]; dup {
			continue
		}
		have[topic] = struct{}{}
		h.addLocked(client, topic)
		client.Topics = append(client.Topics, topic)
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(client, t)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends an event to the tenant's subscribers of its topic. Slow
// clients with a full buffer miss the event.
func (h *Hub) Broadcast(tenant string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", event.Topic).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[scopedKey(h.tenantOr(tenant), event.Topic)] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", event.Topic).Msg("websocket client buffer full, event dropped")
		}
	}
}

// Deliver fans a change out to local subscribers of the given tenant.
func (h *Hub) Deliver(tenant string, change availability.ChangeEvent) {
	h.Broadcast(tenant, eventFrom(change))
}

// PublishChange implements availability.EventPublisher for a single instance.
// The tenant comes from the request context.
func (h *Hub) PublishChange(ctx context.Context, change availability.ChangeEvent) error {
	h.Deliver(db.TenantFromContext(ctx), change)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic in tenant.
func (h *Hub) TopicCount(tenant, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[scopedKey(h.tenantOr(tenant), topic)])
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocketHandler upgrades /ws requests and pumps events to the client.
type WebSocketHandler struct {
	hub           *Hub
	upgrader      gorillawebsocket.Upgrader
	defaultTenant string
	logger        zerolog.Logger
}

// NewWebSocketHandler binds the /ws endpoint to hub. An empty allowedOrigins
// accepts any origin.
func NewWebSocketHandler(hub *Hub, allowedOrigins []string, logger zerolog.Logger) *WebSocketHandler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			origins[o] = struct{}{}
		}
	}
	return &WebSocketHandler{
		hub:           hub,
		defaultTenant: hub.defaultTenant,
		logger:        logger,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

func (wsh *WebSocketHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wsh.HandleConnect)
}

// HandleConnect upgrades the connection and registers the client. Initial
// topics may be passed as repeated ?topic= parameters.
func (wsh *WebSocketHandler) HandleConnect(c echo.Context) error {
	tenant := db.ResolveTenantID(c, wsh.defaultTenant)
	if _, err := db.SchemaFor(tenant); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
	}
	topics := c.QueryParams()["topic"]

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Tenant: tenant,
		Topics: topics,
		Send:   make(chan []byte, 256),
	}
	wsh.hub.Register(client)
	wsh.logger.Debug().Str("client_id", client.ID).Str("tenant_id", tenant).Strs("topics", client.Topics).Msg("websocket client connected")

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)

	return nil
}

func (wsh *WebSocketHandler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
		wsh.logger.Debug().Str("client_id", client.ID).Msg("websocket client disconnected")
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *WebSocketHandler) writePump(client *Client, ws *gorillawebsocket.Conn) {
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
