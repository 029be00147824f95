package events

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/imagvfx/jobq/logger"
)

// writeWait is how long a write to a client could take.
const writeWait = 10 * time.Second

// Handler streams events of a Bus to websocket clients as JSON.
type Handler struct {
	bus      *Bus
	upgrader websocket.Upgrader
	log      logger.Logger
	clients  int32
}

// NewHandler creates a new Handler streaming events of bus.
func NewHandler(bus *Bus, log logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ClientCount returns number of connected clients.
func (h *Handler) ClientCount() int {
	return int(atomic.LoadInt32(&h.clients))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	n := atomic.AddInt32(&h.clients, 1)
	defer atomic.AddInt32(&h.clients, -1)
	sub := h.bus.Subscribe(64)
	defer sub.Close()
	h.log.Info("events client connected from %s, %d clients", r.RemoteAddr, n)

	// clients only listen, but reading is needed to notice they are gone.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			h.log.Info("events client %s disconnected", r.RemoteAddr)
			return
		case e, ok := <-sub.C:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.log.Warn("events client %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}
