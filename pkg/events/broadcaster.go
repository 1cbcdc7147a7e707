package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Upgrader is shared across connections, holding one process-wide set of
// accept options. CheckOrigin accepts every origin.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcaster fans out Publish calls to every WebSocket connection
// subscribed to the target channel (spec §6). One Broadcaster per process.
type Broadcaster struct {
	mu          sync.RWMutex
	connections map[string]*connection
	channels    map[string]map[string]bool
	channelMu   sync.RWMutex
}

type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	writeMu       sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		connections: make(map[string]*connection),
		channels:    make(map[string]map[string]bool),
	}
}

// HandleConnection manages one client's lifecycle after HTTP upgrade. Blocks
// until the socket closes.
func (b *Broadcaster) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &connection{
		id:            connID,
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	b.register(c)
	defer b.unregister(c)

	b.sendJSON(c, map[string]string{"type": "connection.established", "connection_id": connID})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid websocket message", "connection_id", connID, "error", err)
			continue
		}
		b.handleClientMessage(c, &msg)
	}
}

func (b *Broadcaster) handleClientMessage(c *connection, msg *ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			b.sendJSON(c, map[string]string{"type": "error", "message": "channel is required"})
			return
		}
		b.subscribe(c, msg.Channel)
		b.sendJSON(c, map[string]string{"type": "subscription.confirmed", "channel": msg.Channel})
	case "unsubscribe":
		if msg.Channel != "" {
			b.unsubscribe(c, msg.Channel)
		}
	case "ping":
		b.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// Publish marshals event and sends it to every connection subscribed to
// channel. Sends run one after another on the caller's goroutine, each
// bounded by writeTimeout, so a slow client delays the publisher by at most
// that long; errors from individual sends are logged, never returned.
func (b *Broadcaster) Publish(channel string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Warn("failed to marshal event", "channel", channel, "error", err)
		return
	}
	b.broadcastRaw(channel, data)
}

func (b *Broadcaster) broadcastRaw(channel string, data []byte) {
	b.channelMu.RLock()
	subs, ok := b.channels[channel]
	if !ok {
		b.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	b.channelMu.RUnlock()

	b.mu.RLock()
	conns := make([]*connection, 0, len(ids))
	for _, id := range ids {
		if c, ok := b.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range conns {
		if err := b.sendRaw(c, data); err != nil {
			slog.Warn("failed to send to websocket client", "connection_id", c.id, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections reports the number of currently connected clients.
func (b *Broadcaster) ActiveConnections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.connections)
}

func (b *Broadcaster) subscribe(c *connection, channel string) {
	b.channelMu.Lock()
	if _, ok := b.channels[channel]; !ok {
		b.channels[channel] = make(map[string]bool)
	}
	b.channels[channel][c.id] = true
	b.channelMu.Unlock()
	c.subscriptions[channel] = true
}

func (b *Broadcaster) unsubscribe(c *connection, channel string) {
	b.channelMu.Lock()
	if subs, ok := b.channels[channel]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(b.channels, channel)
		}
	}
	b.channelMu.Unlock()
	delete(c.subscriptions, channel)
}

func (b *Broadcaster) register(c *connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connections[c.id] = c
}

func (b *Broadcaster) unregister(c *connection) {
	for ch := range c.subscriptions {
		b.unsubscribe(c, ch)
	}
	b.mu.Lock()
	delete(b.connections, c.id)
	b.mu.Unlock()
	c.cancel()
	_ = c.conn.Close()
}

func (b *Broadcaster) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := b.sendRaw(c, data); err != nil {
		slog.Warn("failed to send websocket message", "connection_id", c.id, "error", err)
	}
}

func (b *Broadcaster) sendRaw(c *connection, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
