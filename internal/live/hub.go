// Package live pushes accepted readings to WebSocket subscribers, so a
// dashboard can follow the sensors without polling the aggregator.
package live

import (
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sensornet/internal/model"
)

const writeDeadline = 5 * time.Second

// Hub fans record updates out to connected clients. A client that cannot
// keep up has updates dropped rather than stalling the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
	latest  map[string][]byte // "group/name" -> last update, replayed on connect
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]chan []byte),
		latest:  make(map[string][]byte),
	}
}

// Broadcast sends one accepted reading to every client and remembers it for
// the connect replay.
func (h *Hub) Broadcast(p model.Payload) {
	msg, err := p.MarshalJSON()
	if err != nil {
		log.Printf("[live] marshal: %v", err)
		return
	}
	h.mu.Lock()
	h.latest[p.Group+"/"+p.Name] = msg
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop update
		}
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	// Replay the latest value of every series so a fresh client starts
	// with a full picture. Sorted for a stable order.
	keys := make([]string, 0, len(h.latest))
	for k := range h.latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		select {
		case ch <- h.latest[k]:
		default:
		}
	}
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// Handler returns the WebSocket endpoint.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[live] upgrade error: %v", err)
			return
		}
		log.Printf("[live] client connected: %s", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[live] client disconnected: %s", r.RemoteAddr)
		}()

		// Write pump. The read side is only drained for close frames.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
