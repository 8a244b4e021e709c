package hub

import (
	"sync"

	"github.com/weiawesome/groupwatch/internal/config"
	"github.com/weiawesome/groupwatch/internal/metric"
	pkglog "github.com/weiawesome/groupwatch/pkg/log"
)

// Hub tracks open websocket clients and owns their send channels.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes registrations until Stop is called.
func (h *Hub) Run() {
	l := pkglog.L()
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			metric.IncrementWSActiveConnections()
			l.Debug().Str(pkglog.FieldConnID, client.ID()).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client.ID()]
			if ok {
				delete(h.clients, client.ID())
			}
			h.mu.Unlock()

			if ok {
				client.closeSend()
				metric.DecrementWSActiveConnections()
				l.Debug().Str(pkglog.FieldConnID, client.ID()).Msg("client unregistered")
			}

		case <-h.done:
			return
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client and closes its send channel, which makes
// the write pump send a close frame and drop the connection.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.closeSend()
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends Run and closes every client. Their read pumps then run the
// normal disconnect path.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		clients := make([]*Client, 0, len(h.clients))
		for id, c := range h.clients {
			clients = append(clients, c)
			delete(h.clients, id)
		}
		h.mu.Unlock()

		for _, c := range clients {
			c.closeSend()
		}
		l := pkglog.L()
		l.Info().Int("clients", len(clients)).Msg("hub stopped")
	})
}
