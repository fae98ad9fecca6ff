package protocol

import (
	"encoding/json"
	"testing"

	"studyboard-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_TypedPayloads(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, data interface{})
	}{
		{
			name:  "join",
			frame: `{"type":"join_room","requestId":"1","data":{"boardId":"b1"}}`,
			check: func(t *testing.T, data interface{}) {
				assert.Equal(t, &BoardRef{BoardID: "b1"}, data)
			},
		},
		{
			name:  "create",
			frame: `{"type":"create_element","data":{"boardId":"b1","element":{"id":"s1","x":3}}}`,
			check: func(t *testing.T, data interface{}) {
				p := data.(*CreateElementPayload)
				assert.Equal(t, "s1", p.Element.ID())
				assert.Equal(t, 3.0, p.Element["x"])
			},
		},
		{
			name:  "update",
			frame: `{"type":"update_element","data":{"boardId":"b1","elementId":"s1","patch":{"x":4}}}`,
			check: func(t *testing.T, data interface{}) {
				p := data.(*UpdateElementPayload)
				assert.Equal(t, "s1", p.ElementID)
				assert.Equal(t, models.Element{"x": 4.0}, p.Patch)
			},
		},
		{
			name:  "cursor",
			frame: `{"type":"move_cursor","data":{"boardId":"b1","position":{"x":1.5,"y":2}}}`,
			check: func(t *testing.T, data interface{}) {
				assert.Equal(t, Position{X: 1.5, Y: 2}, data.(*MoveCursorPayload).Position)
			},
		},
		{
			name:  "doc update keeps raw bytes",
			frame: `{"type":"update","data":{"update":{"ops":[]}}}`,
			check: func(t *testing.T, data interface{}) {
				assert.JSONEq(t, `{"ops":[]}`, string(data.(*DocUpdate).Update))
			},
		},
		{
			name:  "unknown type stays generic",
			frame: `{"type":"sticker","data":{"a":1}}`,
			check: func(t *testing.T, data interface{}) {
				assert.Equal(t, map[string]interface{}{"a": 1.0}, data)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Parse([]byte(tt.frame))
			require.NoError(t, err)
			tt.check(t, msg.Data)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Parse([]byte(`{"type":"create_element","data":{"element":"nope"}}`))
	assert.ErrorContains(t, err, "create_element")
}

func TestParse_NoData(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, TypePing, msg.Type)
	assert.Nil(t, msg.Data)
}

func TestEncodeAck(t *testing.T) {
	b, err := EncodeAck("7", &CreateElementResult{Element: models.Element{"id": "s1"}})
	require.NoError(t, err)

	msg, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, "7", msg.RequestID)
	ack := msg.Data.(*Ack)
	assert.True(t, ack.OK)

	var res CreateElementResult
	require.NoError(t, json.Unmarshal(ack.Result, &res))
	assert.Equal(t, "s1", res.Element.ID())
}

func TestEncodeErrorAck(t *testing.T) {
	b, err := EncodeErrorAck("8", CodeAccessDenied, "no")
	require.NoError(t, err)

	msg, err := Parse(b)
	require.NoError(t, err)
	ack := msg.Data.(*Ack)
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, CodeAccessDenied, ack.Error.Code)
	assert.Equal(t, "access_denied: no", ack.Error.Error())
}

func TestEncodeRejectsUnmarshalablePayload(t *testing.T) {
	_, err := Encode(TypeError, "", make(chan int))
	assert.Error(t, err)
}
