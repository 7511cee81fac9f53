package ws

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Handler upgrades HTTP connections to WebSocket and routes frames between
// clients and the hub.
type Handler struct {
	hub *Hub
}

// NewHandler creates a new Handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes mounts the WebSocket endpoint on the Fiber app.
func (h *Handler) RegisterRoutes(app *fiber.App) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(h.handleConn))
}

// handleConn registers the client, starts the write pump, and reads inbound
// frames until the connection drops. Disconnect tears down all room
// memberships implicitly via Unregister.
func (h *Handler) handleConn(conn *websocket.Conn) {
	client := NewClient()
	h.hub.Register(client)

	done := make(chan struct{})
	go h.writePump(client, conn, done)

	defer func() {
		h.hub.Unregister(client)
		<-done
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			continue // ignore malformed frames
		}
		h.hub.HandleFrame(client, frame)
	}
}

// writePump drains the client's send queue onto the wire. It exits when the
// Send channel is closed by Unregister or when a write fails.
func (h *Handler) writePump(client *Client, conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	defer conn.Close()

	for message := range client.Send {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
