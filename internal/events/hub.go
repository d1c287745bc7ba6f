// Package events fans committed workflow events out to websocket subscribers.
package events

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joescharf/scrum/internal/models"
)

type client struct {
	conn    *websocket.Conn
	project string
	mu      sync.Mutex
}

// Hub broadcasts events to connected websocket clients. A client may
// subscribe to a single project with the ?project= query parameter.
type Hub struct {
	upgrader   websocket.Upgrader
	register   chan *client
	unregister chan *client
	broadcast  chan models.Event
	count      chan chan int
	done       chan struct{}
	closeOnce  sync.Once
	clients    map[*client]struct{}
}

// NewHub starts a hub. Call Close to stop it.
func NewHub() *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan models.Event, 128),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
	go h.run()
	return h
}

// Close disconnects every client and stops the hub.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ServeWS upgrades the request and registers the connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn, project: r.URL.Query().Get("project")}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := c.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Publish queues an event for broadcast. Events are dropped when the queue
// is full so publishers never block.
func (h *Hub) Publish(ev models.Event) {
	select {
	case h.broadcast <- ev:
	default:
	}
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				_ = c.conn.Close()
			}
		case reply := <-h.count:
			reply <- len(h.clients)
		case ev := <-h.broadcast:
			for c := range h.clients {
				if c.project != "" && c.project != ev.ProjectID {
					continue
				}
				c.mu.Lock()
				_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				err := c.conn.WriteJSON(ev)
				c.mu.Unlock()
				if err != nil {
					delete(h.clients, c)
					_ = c.conn.Close()
				}
			}
		case <-h.done:
			for c := range h.clients {
				_ = c.conn.Close()
			}
			return
		}
	}
}
