package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMissingType = errors.New("message type is required")

// Encode marshals a frame
func Encode(t MessageType, requestId string, data interface{}) ([]byte, error) {
	return json.Marshal(&Message{Type: t, RequestID: requestId, Data: data})
}

// EncodeAck builds a successful acknowledgement with an optional result body
func EncodeAck(requestId string, result interface{}) ([]byte, error) {
	ack := &Ack{OK: true}
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		ack.Result = b
	}
	return Encode(TypeAck, requestId, ack)
}

// EncodeErrorAck builds a failed acknowledgement
func EncodeErrorAck(requestId string, code ErrorCode, message string) ([]byte, error) {
	return Encode(TypeAck, requestId, &Ack{
		OK:    false,
		Error: &ErrorPayload{Code: code, Message: message},
	})
}

// Parse decodes a frame and converts its data into the payload type that
// belongs to the message type.
func Parse(msg []byte) (*Message, error) {
	var raw struct {
		Type      MessageType     `json:"type"`
		RequestID string          `json:"requestId,omitempty"`
		Data      json.RawMessage `json:"data,omitempty"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, err
	}
	if raw.Type == "" {
		return nil, ErrMissingType
	}

	message := &Message{Type: raw.Type, RequestID: raw.RequestID}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return message, nil
	}

	var target interface{}
	switch raw.Type {
	case TypeJoinRoom, TypeLeaveRoom:
		target = &BoardRef{}
	case TypeCreateElement:
		target = &CreateElementPayload{}
	case TypeUpdateElement:
		target = &UpdateElementPayload{}
	case TypeDeleteElement:
		target = &DeleteElementPayload{}
	case TypeMoveCursor:
		target = &MoveCursorPayload{}
	case TypeAck:
		target = &Ack{}
	case TypeError:
		target = &ErrorPayload{}
	case TypeElementCreated:
		target = &ElementCreatedEvent{}
	case TypeElementUpdated:
		target = &ElementUpdatedEvent{}
	case TypeElementDeleted:
		target = &ElementDeletedEvent{}
	case TypeParticipantJoined, TypeParticipantLeft:
		target = &ParticipantEvent{}
	case TypeCursorMoved:
		target = &CursorMovedEvent{}
	case TypeSyncState:
		target = &SyncState{}
	case TypeDocUpdate:
		target = &DocUpdate{}
	case TypeAwareness:
		target = &AwarenessFrame{}
	default:
		// unknown types keep their generic form
		var data interface{}
		if err := json.Unmarshal(raw.Data, &data); err != nil {
			return nil, err
		}
		message.Data = data
		return message, nil
	}

	if err := json.Unmarshal(raw.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", raw.Type, err)
	}
	message.Data = target
	return message, nil
}
