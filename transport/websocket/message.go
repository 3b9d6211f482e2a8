package websocket

import (
	"encoding/json"
	"fmt"

	"github.com/rocketscienceinc/partyroom-backend/internal/apperror"
	"github.com/rocketscienceinc/partyroom-backend/internal/entity"
)

const (
	actionSnapshot = "room:snapshot"
	actionEvent    = "room:event"
	actionError    = "error"
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action    string          `json:"action"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Payload carries the arguments of every client action. Each action reads
// only the fields it needs.
type Payload struct {
	GameType   entity.GameType `json:"game_type,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	TurnOrder  []string        `json:"turn_order,omitempty"`
	Version    int64           `json:"version,omitempty"`
	PlayerID   string          `json:"player_id,omitempty"`
	DurationMS int64           `json:"duration_ms,omitempty"`
	Label      string          `json:"label,omitempty"`
}

type ResponsePayload struct {
	OK      bool             `json:"ok"`
	Room    *entity.Room     `json:"room,omitempty"`
	Players []*entity.Player `json:"players,omitempty"`
	Error   *ErrorPayload    `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newResponse(snapshot *entity.RoomSnapshot, err error) ResponsePayload {
	if err != nil {
		return ResponsePayload{Error: &ErrorPayload{
			Code:    apperror.Code(err),
			Message: apperror.Message(err),
		}}
	}

	response := ResponsePayload{OK: true}
	if snapshot != nil {
		response.Room = snapshot.Room
		response.Players = snapshot.Players
	}

	return response
}

func encodeMessage(action, requestID string, payload any) ([]byte, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	messageJSON, err := json.Marshal(Message{
		Action:    action,
		RequestID: requestID,
		Payload:   payloadJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	return messageJSON, nil
}
