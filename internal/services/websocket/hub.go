package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cavas/internal/logger"

	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

// HubService fans preview frames out to connected viewers. Only the Run
// goroutine writes to connections; Broadcast and GetClientCount take no lock
// that Run holds while writing.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.Mutex
	count      atomic.Int64
	dropped    atomic.Uint64
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every viewer connection.
func (h *HubService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.count.Store(0)
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.count.Store(int64(total))
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", total)

		case client := <-h.unregister:
			if h.remove(client) {
				h.logger.Info("Viewer disconnected. Total: %d", h.count.Load())
			}

		case message := <-h.broadcast:
			for _, client := range h.snapshot() {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.BinaryMessage, message); err != nil {
					h.logger.Warning("Error sending frame to viewer: %v", err)
					h.remove(client)
				}
			}
		}
	}
}

// snapshot copies the current viewers so writes happen without the lock.
func (h *HubService) snapshot() []*websocket.Conn {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

func (h *HubService) remove(client *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	client.Close()
	h.count.Store(int64(len(h.clients)))
	return true
}

// Register adds a viewer. After the hub stopped the connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a frame for every viewer. It never blocks: when the hub is
// still sending the previous frame the new one is dropped.
func (h *HubService) Broadcast(message []byte) bool {
	select {
	case h.broadcast <- message:
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// Dropped returns how many frames Broadcast discarded.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *HubService) GetClientCount() int {
	return int(h.count.Load())
}
