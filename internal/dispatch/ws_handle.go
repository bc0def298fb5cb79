package dispatch

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSHandle wraps a gorilla connection with a write mutex: gorilla allows at
// most one concurrent writer, and notifications can come from many
// goroutines.
type WSHandle struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWSHandle(conn *websocket.Conn) *WSHandle { return &WSHandle{conn: conn} }

func (h *WSHandle) WriteJSON(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.WriteJSON(v)
}

func (h *WSHandle) Close() error { return h.conn.Close() }
