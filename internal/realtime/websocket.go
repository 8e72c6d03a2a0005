package realtime

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Serve streams the user's events over conn until either side hangs up.
func Serve(conn *websocket.Conn, hub *Hub, userID uuid.UUID, log *zap.Logger) {
	sub := hub.Subscribe(userID, 64)
	defer sub.Cancel()
	log = log.With(zap.String("user_id", userID.String()), zap.String("sub_id", sub.ID.String()))
	log.Info("websocket connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Info("websocket disconnected")
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
