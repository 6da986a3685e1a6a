package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/voluntr/realtime/internal/server"
	"github.com/voluntr/realtime/internal/types"
)

// NotifyRequest is the ingestion body posted by the publish bridge
// after a notification-worthy row is committed. Exactly one of UserId
// and RoomId addresses the fan-out target.
type NotifyRequest struct {
	Id        string          `json:"id,omitempty"`
	UserId    int             `json:"user_id,omitempty"`
	RoomId    int             `json:"room_id,omitempty"`
	Type      types.EventType `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

func (g *GatewayApp) notify(w http.ResponseWriter, r *http.Request) {
	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Type == "" || (req.UserId == 0 && req.RoomId == 0) {
		errResp := NewBadRequestError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g.es.Publish(types.Event{
		Id:      req.Id,
		Type:    req.Type,
		Payload: req.Payload,
		UserId:  req.UserId,
		RoomId:  req.RoomId,
	})

	// delivery is best effort, accepting the event is all we promise
	g.writeJson(w, http.StatusAccepted, nil)
}

func (g *GatewayApp) healthz(w http.ResponseWriter, _ *http.Request) {
	g.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *GatewayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		g.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var username string
	if token, err := handshakeToken(r); err == nil {
		username = g.usernameFromToken(token)
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(g.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:       id,
		Username: username,
	}, conn, g.es, g.log, g.stats)

	g.es.RegisterChan <- client
	go client.Write()
	go client.Read()
}
