package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streetvision/internal/logger"
	livews "streetvision/internal/service/websocket"
)

const viewerReadWait = 60 * time.Second

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler registers viewers in the hub so they receive preview
// frames and results while the pipeline runs.
func ViewWebsocketHandler(hub *livews.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(viewerReadWait))
		connection.SetPongHandler(func(string) error {
			connection.SetReadDeadline(time.Now().Add(viewerReadWait))
			return nil
		})

		hub.Register(connection)
		defer hub.Unregister(connection)

		logger.Info("Viewer connected from %s", r.RemoteAddr)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected with error: %v", err)
				}
				break
			}
			connection.SetReadDeadline(time.Now().Add(viewerReadWait))
		}
	}
}
