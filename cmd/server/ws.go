package main

import (
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ========== Live Status Websocket ==========

var upgrader = websocket.Upgrader{
	// The HTTP API is already open CORS, so the websocket is too
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHub fans run status snapshots out to every connected client. Slow or
// dead clients are dropped rather than blocking a translation run.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]bool)}
}

func (h *wsHub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *wsHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
	_ = c.Close()
}

func (h *wsHub) broadcast(v interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		if err := c.WriteJSON(v); err != nil {
			delete(h.conns, c)
			_ = c.Close()
		}
	}
}

func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	s.hub.add(conn)

	// Send the current state immediately so a reconnecting client catches up
	if err := conn.WriteJSON(s.runStatus.snapshot()); err != nil {
		s.hub.remove(conn)
		return
	}

	// Reader loop exists only to detect disconnects; clients don't send data
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.remove(conn)
				return
			}
		}
	}()
}
