package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/detector"
)

// Event types pushed on /api/events.
const (
	EventResult = "result"
	EventStats  = "stats"
	EventSource = "source"
	EventPause  = "pause"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Event is one message pushed to websocket clients.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"` // unix milliseconds
}

// ResultEvent is the websocket view of a detection result.
type ResultEvent struct {
	SessionID         string               `json:"sessionId"`
	FrameSeq          uint64               `json:"frameSeq"`
	Detections        []detector.Detection `json:"detections"`
	ProcessingTimeMs  int64                `json:"processingTime"`
	HasAnnotatedImage bool                 `json:"hasAnnotatedImage"`
}

// NewResultEvent converts a detection result for the websocket.
func NewResultEvent(res *detector.Result) ResultEvent {
	dets := res.Detections
	if dets == nil {
		dets = []detector.Detection{}
	}
	return ResultEvent{
		SessionID:         res.SessionID.String(),
		FrameSeq:          res.FrameSeq,
		Detections:        dets,
		ProcessingTimeMs:  res.ProcessingTime.Milliseconds(),
		HasAnnotatedImage: res.HasAnnotatedImage(),
	}
}

// Hub broadcasts events to websocket clients.
type Hub struct {
	clients map[*websocket.Conn]bool
	closed  bool
	mu      sync.Mutex
	logger  *zap.SugaredLogger
}

// NewHub creates an empty Hub. logger may be nil.
func NewHub(logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		logger:  logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	h.mu.Unlock()

	defer h.remove(conn)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish sends an event of the given type to every client. Clients that
// fail to receive it are dropped.
func (h *Hub) Publish(kind string, data interface{}) {
	msg, err := json.Marshal(Event{Type: kind, Data: data, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		h.logger.Warnw("failed to encode event", "type", kind, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
	}
	conn.Close()
}
