package websocket

import (
	"encoding/json"
	"net/http"

	ws "github.com/coder/websocket"
)

// Handler upgrades requests to websocket connections and runs them as hub
// clients. originPatterns lists extra allowed Origin hosts; same-origin is
// always allowed.
func Handler(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn)
		hello, _ := json.Marshal(NewMessage("connection", "ready", 0, nil))
		client.send <- hello
		client.Run(r.Context())
	}
}
