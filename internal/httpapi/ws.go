package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-dispatch/internal/hub"
)

var upgrader = websocket.Upgrader{}

// handleWS upgrades the connection and subscribes it to the requested
// channels, e.g. /ws?channels=order:o1,user:u1. Subscriptions live only as
// long as the connection; clients re-subscribe on reconnect and read the
// order's tracking log for anything they missed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("channels")
	if raw == "" {
		http.Error(w, "channels query parameter required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}

	sub := hub.NewSubscriber(32)
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			s.Hub.Subscribe(sub, c)
		}
	}

	// writer: pump hub envelopes until the subscriber feed closes
	go func() {
		for ev := range sub.C() {
			if err := conn.WriteJSON(ev); err != nil {
				s.Hub.Drop(sub)
				_ = conn.Close()
				return
			}
		}
		_ = conn.Close()
	}()

	// reader: only to detect the peer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.Hub.Drop(sub)
				_ = conn.Close()
				return
			}
		}
	}()
}
