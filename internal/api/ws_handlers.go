package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-lpr/internal/bridge"
	"github.com/technosupport/ts-lpr/internal/middleware"
	"github.com/technosupport/ts-lpr/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for dev; restrict in prod
	},
}

// WSHandler serves the live event feed. Browsers cannot set an
// Authorization header on a websocket dial, so the token rides in the
// query string.
type WSHandler struct {
	Tokens middleware.TokenValidator
	Bridge *bridge.Bridge
}

type wsAction struct {
	Action   string `json:"action"` // subscribe | unsubscribe
	CameraID int64  `json:"camera_id"`
}

// GET /api/v1/ws?token=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.Tokens.ValidateToken(tokenStr)
	if err != nil || claims.TokenType != tokens.Access {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] WS: upgrade failed: %v", err)
		return
	}

	sub := h.Bridge.NewSubscriber(conn)
	defer h.Bridge.Drop(sub)

	log.Printf("[INFO] WS: connected user=%s", claims.UserID)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[INFO] WS: user=%s disconnected: %v", claims.UserID, err)
			return
		}

		var action wsAction
		if err := json.Unmarshal(msg, &action); err != nil {
			log.Printf("[WARN] WS: malformed message from user=%s: %v", claims.UserID, err)
			continue
		}

		switch action.Action {
		case "subscribe":
			h.Bridge.Subscribe(sub, action.CameraID)
		case "unsubscribe":
			h.Bridge.Unsubscribe(sub, action.CameraID)
		default:
			log.Printf("[WARN] WS: unknown action %q from user=%s", action.Action, claims.UserID)
		}
	}
}
