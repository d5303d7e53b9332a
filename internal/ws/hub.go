// Package ws provides a sharded WebSocket hub with per-topic replay buffers
// that streams risk alerts to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/Aidin1998/vaultrisk/internal/risk"
)

// Alert topics. Clients subscribe to TopicAlerts for everything or to the
// per-vault and per-severity topics.
const (
	TopicAlerts = "alerts"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// VaultTopic is the topic of a single vault's alerts.
func VaultTopic(vaultID string) string { return "alerts.vault." + vaultID }

// SeverityTopic is the topic of alerts of one severity.
func SeverityTopic(severity risk.AlertSeverity) string { return "alerts.severity." + string(severity) }

// Message wraps a WebSocket payload with sequencing for replay.
type Message struct {
	Topic string          `json:"topic"`
	Seq   uint64          `json:"seq"`
	Data  json.RawMessage `json:"data"`
}

// ringBuffer holds the last N messages for a topic.
type ringBuffer struct {
	mu    sync.RWMutex
	buf   []Message
	size  int
	start int
	count int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{buf: make([]Message, size), size: size}
}

// add appends a message, overwriting old entries when full.
func (r *ringBuffer) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % r.size
	if r.count == r.size {
		r.start = (r.start + 1) % r.size
		r.count--
	}
	r.buf[idx] = msg
	r.count++
}

// getSince returns messages with Seq > since.
func (r *ringBuffer) getSince(since uint64) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Message
	for i := 0; i < r.count; i++ {
		msg := r.buf[(r.start+i)%r.size]
		if msg.Seq > since {
			out = append(out, msg)
		}
	}
	return out
}

// Client represents a single WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan Message
	hub  *Hub

	mu            sync.RWMutex
	subscriptions map[string]uint64 // topic -> last replayed seq
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}

// Hub manages all WebSocket clients, sharded for concurrency. It is an alert
// channel of the risk monitor.
type Hub struct {
	shards     []*hubShard
	shardCount uint32
	replaySize int

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	stop       chan struct{}
	stopOnce   sync.Once

	buffers map[string]*ringBuffer
	bufMu   sync.Mutex
	seqMu   sync.Mutex
	nextSeq uint64

	upgrader websocket.Upgrader
	clients  prometheus.Gauge
	dropped  prometheus.Counter
	log      *zap.Logger
}

type hubShard struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a Hub with given shard count and replay buffer size per
// topic. A nil registerer uses the default Prometheus registry.
func NewHub(shardCount, replaySize int, reg prometheus.Registerer, log *zap.Logger) *Hub {
	if shardCount <= 0 {
		shardCount = 1
	}
	if replaySize <= 0 {
		replaySize = 100
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = zap.NewNop()
	}
	factory := promauto.With(reg)

	h := &Hub{
		shards:     make([]*hubShard, shardCount),
		shardCount: uint32(shardCount),
		replaySize: replaySize,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 1024),
		stop:       make(chan struct{}),
		buffers:    make(map[string]*ringBuffer),
		nextSeq:    1,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vaultrisk",
			Subsystem: "ws",
			Name:      "connected_clients",
			Help:      "Number of connected alert stream clients",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "vaultrisk",
			Subsystem: "ws",
			Name:      "dropped_messages_total",
			Help:      "Messages dropped for slow alert stream clients",
		}),
		log: log.Named("ws_hub"),
	}
	for i := range h.shards {
		h.shards[i] = &hubShard{clients: make(map[*Client]struct{})}
	}
	go h.run()
	return h
}

// run handles registration, unregistration, and broadcasting.
func (h *Hub) run() {
	for {
		select {
		case <-h.stop:
			h.closeAll()
			return
		case client := <-h.register:
			sh := h.shardFor(client.id)
			sh.mu.Lock()
			sh.clients[client] = struct{}{}
			sh.mu.Unlock()
			h.clients.Inc()
		case client := <-h.unregister:
			sh := h.shardFor(client.id)
			sh.mu.Lock()
			if _, ok := sh.clients[client]; ok {
				delete(sh.clients, client)
				close(client.send)
				h.clients.Dec()
			}
			sh.mu.Unlock()
		case msg := <-h.broadcast:
			h.bufMu.Lock()
			buf, ok := h.buffers[msg.Topic]
			if !ok {
				buf = newRingBuffer(h.replaySize)
				h.buffers[msg.Topic] = buf
			}
			buf.add(msg)
			h.bufMu.Unlock()

			for _, sh := range h.shards {
				sh.mu.RLock()
				for c := range sh.clients {
					if !c.subscribed(msg.Topic) {
						continue
					}
					select {
					case c.send <- msg:
					default:
						h.dropped.Inc()
					}
				}
				sh.mu.RUnlock()
			}
		}
	}
}

// closeAll drops every connection; the pumps exit on their own.
func (h *Hub) closeAll() {
	for _, sh := range h.shards {
		sh.mu.Lock()
		for c := range sh.clients {
			delete(sh.clients, c)
			c.conn.Close()
			h.clients.Dec()
		}
		sh.mu.Unlock()
	}
}

func (h *Hub) shardFor(key string) *hubShard {
	hasher := fnv.New32a()
	hasher.Write([]byte(key))
	idx := hasher.Sum32() % h.shardCount
	return h.shards[idx]
}

// ServeWS upgrades HTTP to WS and registers the client under clientID,
// subscribed to the given topics.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string, topics ...string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("client_id", clientID), zap.Error(err))
		return
	}
	c := &Client{
		id:            clientID,
		conn:          conn,
		send:          make(chan Message, 256),
		subscriptions: make(map[string]uint64),
		hub:           h,
	}
	select {
	case h.register <- c:
	case <-h.stop:
		conn.Close()
		return
	}
	c.subscribe(topics)
	go c.writePump()
	go c.readPump()
}

// Broadcast publishes a message to a topic for all subscribed clients.
func (h *Hub) Broadcast(topic string, data []byte) {
	h.seqMu.Lock()
	seq := h.nextSeq
	h.nextSeq++
	h.seqMu.Unlock()

	select {
	case h.broadcast <- Message{Topic: topic, Seq: seq, Data: data}:
	case <-h.stop:
	}
}

// Replay returns buffered messages for topic since the given sequence.
func (h *Hub) Replay(topic string, since uint64) []Message {
	h.bufMu.Lock()
	buf, ok := h.buffers[topic]
	h.bufMu.Unlock()
	if !ok {
		return nil
	}
	return buf.getSince(since)
}

// SendAlert streams an alert to the all-alerts, vault and severity topics.
func (h *Hub) SendAlert(ctx context.Context, alert risk.RiskAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	for _, topic := range []string{TopicAlerts, VaultTopic(alert.VaultID), SeverityTopic(alert.Severity)} {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.Broadcast(topic, data)
	}
	return nil
}

// GetChannelType returns the channel type
func (h *Hub) GetChannelType() string { return "websocket" }

// IsEnabled reports true until the hub is closed.
func (h *Hub) IsEnabled() bool {
	select {
	case <-h.stop:
		return false
	default:
		return true
	}
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// subscribe registers topics and replays their buffered messages.
func (c *Client) subscribe(topics []string) {
	for _, topic := range topics {
		c.mu.Lock()
		since := c.subscriptions[topic]
		replay := c.hub.Replay(topic, since)
		if n := len(replay); n > 0 {
			since = replay[n-1].Seq
		}
		c.subscriptions[topic] = since
		c.mu.Unlock()

		for _, m := range replay {
			select {
			case c.send <- m:
			default:
				c.hub.dropped.Inc()
			}
		}
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, topic := range topics {
		delete(c.subscriptions, topic)
	}
}

// readPump handles incoming control frames and subscription requests of the
// form {"subscribe":["alerts"],"unsubscribe":["alerts.severity.low"]}.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var req map[string][]string
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		c.subscribe(req["subscribe"])
		c.unsubscribe(req["unsubscribe"])
	}
}

// writePump sends messages and heartbeats to the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() { ticker.Stop(); c.conn.Close() }()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
