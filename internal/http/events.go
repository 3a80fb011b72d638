package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mlbrnm/incidentgpt/internal/log"
	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/mlbrnm/incidentgpt/pkg/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type eventMessage struct {
	Event models.EventKind `json:"event"`
	Data  map[string]any   `json:"data"`
}

// EventsHandler upgrades the connection and streams hub events until the client
// goes away or the server shuts down.
func EventsHandler(hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.GetLogger().Warnf("Websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		sub := hub.Subscribe()
		defer hub.Unsubscribe(sub.ID)
		log.GetLogger().Debugf("Subscriber %s connected from %s", sub.ID, r.RemoteAddr)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(eventMessage{Event: ev.Kind, Data: ev.Payload()}); err != nil {
					log.GetLogger().Debugf("Subscriber %s write failed: %v", sub.ID, err)
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				log.GetLogger().Debugf("Subscriber %s disconnected", sub.ID)
				return
			case <-r.Context().Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}
