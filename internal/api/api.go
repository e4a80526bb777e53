// Package api defines the JSON bodies exchanged between the sync client
// and the remote board store.
package api

import (
	"encoding/json"

	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
)

// Route paths.
const (
	PathState    = "/api/state"
	PathLists    = "/api/lists"
	PathCards    = "/api/cards"
	PathMove     = "/api/move"
	PathControls = "/api/server-controls"
	PathReset    = "/api/reset-server"
	PathWS       = "/api/ws"
)

// Error codes carried in ErrorResponse.Error.
const (
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeBadRequest = "bad_request"
	CodeInjected   = "injected_failure"
	CodeInternal   = "internal"
)

type ListBody struct {
	List models.List `json:"list"`
}

type CardBody struct {
	Card models.Card `json:"card"`
}

type UpdateListRequest struct {
	Patch       queue.ListPatch `json:"patch"`
	BaseVersion int64           `json:"baseVersion"`
}

type UpdateCardRequest struct {
	Patch       queue.CardPatch `json:"patch"`
	BaseVersion int64           `json:"baseVersion"`
}

// MoveRequest is the body of PUT /api/move.
type MoveRequest = queue.CardMovePayload

type MoveResponse struct {
	Card     models.Card `json:"card"`
	FromList models.List `json:"fromList"`
	ToList   models.List `json:"toList"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the body of every non-2xx response. Conflicts also
// carry the entity as the server currently has it.
type ErrorResponse struct {
	Error        string          `json:"error"`
	Message      string          `json:"message,omitempty"`
	EntityType   string          `json:"entityType,omitempty"`
	ID           string          `json:"id,omitempty"`
	ServerEntity json.RawMessage `json:"serverEntity,omitempty"`
}

// Controls are the server's fault-injection knobs.
type Controls struct {
	DelayMs  int     `json:"delayMs"`
	FailRate float64 `json:"failRate"`
	FailNext bool    `json:"failNext"`
}

// DefaultControls returns the controls a fresh server starts with.
func DefaultControls() Controls {
	return Controls{DelayMs: 250}
}

// Heartbeat is the message exchanged on the websocket.
type Heartbeat struct {
	Op string `json:"op"`
}
