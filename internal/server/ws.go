package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/coder/websocket"
)

const (
	// wsIdleTimeout closes a heartbeat socket that has been silent this
	// long.
	wsIdleTimeout = 60 * time.Second

	// maxWSMessage caps a single heartbeat frame.
	maxWSMessage = 4096
)

// handleWS answers heartbeat pings so clients can tell the server is
// reachable. No board data is sent on this socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(maxWSMessage)

	ctx := r.Context()

	for {
		readCtx, cancel := context.WithTimeout(ctx, wsIdleTimeout)
		typ, data, err := conn.Read(readCtx)
		cancel()

		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.logger.Debug("heartbeat socket closed", slog.String("error", err.Error()))
			}

			return
		}

		if typ != websocket.MessageText {
			continue
		}

		var msg api.Heartbeat
		if json.Unmarshal(data, &msg) != nil || msg.Op != "ping" {
			continue
		}

		reply, _ := json.Marshal(api.Heartbeat{Op: "pong"})
		if err := conn.Write(ctx, websocket.MessageText, reply); err != nil {
			return
		}
	}
}
