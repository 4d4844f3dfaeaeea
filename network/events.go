package network

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/optimachain/optimachain/logging"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	messageQueueSize = 100
)

// Event types published to subscribers.
const (
	EventBlockFinalized      = "block_finalized"
	EventEpochStarted        = "epoch_started"
	EventCrossShardReady     = "cross_shard_ready"
	EventCrossShardFinalized = "cross_shard_finalized"
	EventResharding          = "resharding"
)

type Event struct {
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// EventHub fans node events out to websocket subscribers. A subscriber
// that falls messageQueueSize events behind is disconnected.
type EventHub struct {
	subscribers *xsync.Map[string, *subscriber]
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

func NewEventHub(allowedOrigins []string, logger *zap.Logger) *EventHub {
	return &EventHub{
		subscribers: xsync.NewMap[string, *subscriber](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
		logger: logging.OrNop(logger),
	}
}

// Publish sends an event to every subscriber without blocking.
func (h *EventHub) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	h.subscribers.Range(func(id string, s *subscriber) bool {
		select {
		case s.send <- payload:
		case <-s.done:
		default:
			h.logger.Warn("Dropping slow event subscriber", zap.String("subscriber", id))
			h.remove(id)
		}
		return true
	})
}

func (h *EventHub) SubscriberCount() int {
	return h.subscribers.Size()
}

// ServeHTTP upgrades the request and registers the connection as a
// subscriber until it disconnects.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	id := uuid.NewString()
	s := &subscriber{
		conn: conn,
		send: make(chan []byte, messageQueueSize),
		done: make(chan struct{}),
	}
	h.subscribers.Store(id, s)
	h.logger.Debug("Event subscriber connected", zap.String("subscriber", id), zap.String("remote", r.RemoteAddr))

	go h.writePump(id, s)
	go h.readPump(id, s)
}

// readPump discards inbound messages and detects disconnects.
func (h *EventHub) readPump(id string, s *subscriber) {
	defer h.remove(id)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventHub) writePump(id string, s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.remove(id)
	}()

	for {
		select {
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (h *EventHub) remove(id string) {
	if s, ok := h.subscribers.LoadAndDelete(id); ok {
		s.close()
		h.logger.Debug("Event subscriber disconnected", zap.String("subscriber", id))
	}
}

// Close disconnects every subscriber.
func (h *EventHub) Close() {
	h.subscribers.Range(func(id string, _ *subscriber) bool {
		h.remove(id)
		return true
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
