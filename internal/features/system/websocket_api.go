package system

import (
	"go-automation/internal/common/api"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

type WebSocketApi struct {
	Hub *Hub
}

func NewWebSocketApi(hub *Hub) api.Route {
	return &WebSocketApi{
		Hub: hub,
	}
}

func (h *WebSocketApi) Setup(app *fiber.App) {
	app.Get("/api/ws/rule-logs", websocket.New(func(c *websocket.Conn) {
		h.Hub.Register(c)
		defer h.Hub.Unregister(c)

		// Drain client frames until the connection closes
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}
