package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LiveHandler pushes periodic JSON snapshots of the recording view to a
// WebSocket client. The snapshot function composes whatever the caller
// wants shown (recorder state, bars, transcript).
type LiveHandler struct {
	snapshot func() any
	interval time.Duration
}

func NewLiveHandler(snapshot func() any, interval time.Duration) *LiveHandler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &LiveHandler{snapshot: snapshot, interval: interval}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Live monitor upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("Live monitor connected: %s", r.RemoteAddr)

	// Drain client messages so pings and close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Printf("Live monitor disconnected: %s", r.RemoteAddr)
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
			if err := conn.WriteJSON(h.snapshot()); err != nil {
				return
			}
		}
	}
}
