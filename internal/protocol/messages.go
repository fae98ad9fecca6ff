package protocol

import (
	"encoding/json"
	"fmt"

	"studyboard-backend/internal/models"
)

// MessageType names every frame exchanged over a room connection
type MessageType string

const (
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeAck   MessageType = "ack"
	TypeError MessageType = "error"

	// client -> server
	TypeJoinRoom      MessageType = "join_room"
	TypeLeaveRoom     MessageType = "leave_room"
	TypeCreateElement MessageType = "create_element"
	TypeUpdateElement MessageType = "update_element"
	TypeDeleteElement MessageType = "delete_element"
	TypeMoveCursor    MessageType = "move_cursor"

	// server -> client
	TypeElementCreated    MessageType = "element_created"
	TypeElementUpdated    MessageType = "element_updated"
	TypeElementDeleted    MessageType = "element_deleted"
	TypeParticipantJoined MessageType = "participant_joined"
	TypeParticipantLeft   MessageType = "participant_left"
	TypeCursorMoved       MessageType = "cursor_moved"

	// replicated document channel
	TypeSyncState MessageType = "sync_state"
	TypeDocUpdate MessageType = "update"
	TypeAwareness MessageType = "awareness"
)

type ErrorCode string

const (
	CodeAccessDenied     ErrorCode = "access_denied"
	CodeNotFound         ErrorCode = "not_found"
	CodeStorageFailure   ErrorCode = "storage_failure"
	CodeMalformedElement ErrorCode = "malformed_element"
	CodeBadRequest       ErrorCode = "bad_request"
	CodeNotInRoom        ErrorCode = "not_in_room"
)

// Message is the envelope of every frame
type Message struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *ErrorPayload) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Ack answers a request carrying a requestId. Result holds the operation's
// response body, if any.
type Ack struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Participant is the presence view of one user in a room
type Participant struct {
	UserID   string    `json:"userId"`
	Color    string    `json:"color"`
	Cursor   *Position `json:"cursor,omitempty"`
	JoinedAt int64     `json:"joinedAt"`
}

type BoardRef struct {
	BoardID string `json:"boardId"`
}

type JoinRoomResult struct {
	BoardID      string           `json:"boardId"`
	UserID       string           `json:"userId"`
	Color        string           `json:"color"`
	Elements     []models.Element `json:"elements"`
	Participants []Participant    `json:"participants"`
}

type CreateElementPayload struct {
	BoardID string         `json:"boardId"`
	Element models.Element `json:"element"`
}

type CreateElementResult struct {
	Element models.Element `json:"element"`
}

type UpdateElementPayload struct {
	BoardID   string         `json:"boardId"`
	ElementID string         `json:"elementId"`
	Patch     models.Element `json:"patch"`
}

type DeleteElementPayload struct {
	BoardID   string `json:"boardId"`
	ElementID string `json:"elementId"`
}

type MoveCursorPayload struct {
	BoardID  string   `json:"boardId"`
	Position Position `json:"position"`
}

type ElementCreatedEvent struct {
	BoardID string         `json:"boardId"`
	Element models.Element `json:"element"`
	ByUser  string         `json:"byUser"`
}

// ElementUpdatedEvent carries either Patch, or the complete Element when Full
// is set.
type ElementUpdatedEvent struct {
	BoardID   string         `json:"boardId"`
	ElementID string         `json:"elementId"`
	Patch     models.Element `json:"patch,omitempty"`
	Element   models.Element `json:"element,omitempty"`
	Full      bool           `json:"full"`
	ByUser    string         `json:"byUser"`
}

type ElementDeletedEvent struct {
	BoardID   string `json:"boardId"`
	ElementID string `json:"elementId"`
	ByUser    string `json:"byUser"`
}

type ParticipantEvent struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Color   string `json:"color"`
}

type CursorMovedEvent struct {
	BoardID  string   `json:"boardId"`
	UserID   string   `json:"userId"`
	Position Position `json:"position"`
}

// SyncState hands a freshly connected replica the full document state
type SyncState struct {
	BoardID  string          `json:"boardId"`
	ClientID string          `json:"clientId"`
	State    json.RawMessage `json:"state"`
}

// DocUpdate relays one document transaction
type DocUpdate struct {
	Update json.RawMessage `json:"update"`
}

// AwarenessFrame relays ephemeral awareness states
type AwarenessFrame struct {
	Update json.RawMessage `json:"update"`
}
