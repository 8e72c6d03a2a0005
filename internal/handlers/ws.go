package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/realtime"
)

// WSHandler streams domain events addressed to the signed-in user.
type WSHandler struct {
	Hub *realtime.Hub
	Log *zap.Logger
}

func (h *WSHandler) Routes(app fiber.Router, auth fiber.Handler) {
	app.Get("/ws", auth, h.upgrade, websocket.New(h.serve))
}

func (h *WSHandler) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func (h *WSHandler) serve(conn *websocket.Conn) {
	raw, _ := conn.Locals("userId").(string)
	uid, err := uuid.Parse(raw)
	if err != nil {
		_ = conn.Close()
		return
	}
	realtime.Serve(conn, h.Hub, uid, h.Log)
}
