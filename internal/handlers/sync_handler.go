package handlers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"studyboard-backend/internal/libraries"
	"studyboard-backend/internal/protocol"
	"studyboard-backend/internal/whiteboard"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const requestTimeout = 10 * time.Second

type session struct {
	joined map[uuid.UUID]struct{}
	cursor *rate.Limiter
}

// SyncHandler processes the room protocol of /ws connections.
type SyncHandler struct {
	rooms       *whiteboard.Rooms
	cursorRate  rate.Limit
	cursorBurst int

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSyncHandler limits each connection to cursorsPerSecond move_cursor
// frames; zero disables the limit.
func NewSyncHandler(rooms *whiteboard.Rooms, cursorsPerSecond float64) *SyncHandler {
	limit := rate.Inf
	burst := 1
	if cursorsPerSecond > 0 {
		limit = rate.Limit(cursorsPerSecond)
		burst = int(cursorsPerSecond/4) + 1
	}
	return &SyncHandler{
		rooms:       rooms,
		cursorRate:  limit,
		cursorBurst: burst,
		sessions:    make(map[string]*session),
	}
}

// session is only touched from the connection's own read loop once created
func (h *SyncHandler) session(client *libraries.Client) *session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[client.ID]
	if !ok {
		s = &session{
			joined: make(map[uuid.UUID]struct{}),
			cursor: rate.NewLimiter(h.cursorRate, h.cursorBurst),
		}
		h.sessions[client.ID] = s
	}
	return s
}

func (h *SyncHandler) ProcessMessage(hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch message.Type {
	case protocol.TypeJoinRoom:
		h.joinRoom(ctx, hub, client, message)
	case protocol.TypeLeaveRoom:
		h.leaveRoom(hub, client, message)
	case protocol.TypeCreateElement:
		h.createElement(ctx, hub, client, message)
	case protocol.TypeUpdateElement:
		h.updateElement(ctx, hub, client, message)
	case protocol.TypeDeleteElement:
		h.deleteElement(ctx, hub, client, message)
	case protocol.TypeMoveCursor:
		h.moveCursor(client, message)
	default:
		libraries.SendErrorMessage(hub, client, protocol.CodeBadRequest, "Type is invalid or not provided")
	}
}

func (h *SyncHandler) Disconnected(hub *libraries.Hub, client *libraries.Client) {
	h.mu.Lock()
	s, ok := h.sessions[client.ID]
	delete(h.sessions, client.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	for boardId := range s.joined {
		h.rooms.Leave(boardId, client.UserID, client.ID)
	}
}

func (h *SyncHandler) joinRoom(ctx context.Context, hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.BoardRef)
	boardId, err := parseBoardID(payload, ok)
	if err != nil {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, err.Error())
		return
	}

	// subscribe before reading the snapshot so no mutation persisted after
	// the read can be missed; the client applies those after the snapshot
	hub.JoinRoom(boardId, client)
	result, err := h.rooms.Join(ctx, boardId, client.UserID, client.ID)
	if err != nil {
		hub.LeaveRoom(boardId, client)
		h.replyError(hub, client, message.RequestID, err)
		return
	}
	h.session(client).joined[boardId] = struct{}{}
	log.Printf("user %s joined board %s", client.UserID, boardId)
	libraries.SendAck(hub, client, message.RequestID, result)
}

func (h *SyncHandler) leaveRoom(hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.BoardRef)
	boardId, err := parseBoardID(payload, ok)
	if err != nil {
		return
	}
	s := h.session(client)
	if _, joined := s.joined[boardId]; !joined {
		return
	}
	delete(s.joined, boardId)
	h.rooms.Leave(boardId, client.UserID, client.ID)
	hub.LeaveRoom(boardId, client)
}

func (h *SyncHandler) createElement(ctx context.Context, hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.CreateElementPayload)
	if !ok {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "element is required")
		return
	}
	boardId, err := uuid.Parse(payload.BoardID)
	if err != nil {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "Invalid board ID")
		return
	}
	created, err := h.rooms.CreateElement(ctx, boardId, client.UserID, client.ID, payload.Element)
	if err != nil {
		h.replyError(hub, client, message.RequestID, err)
		return
	}
	libraries.SendAck(hub, client, message.RequestID, &protocol.CreateElementResult{Element: created})
}

func (h *SyncHandler) updateElement(ctx context.Context, hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.UpdateElementPayload)
	if !ok {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "patch is required")
		return
	}
	boardId, err := uuid.Parse(payload.BoardID)
	if err != nil {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "Invalid board ID")
		return
	}
	if _, err := h.rooms.UpdateElement(ctx, boardId, client.UserID, client.ID, payload.ElementID, payload.Patch); err != nil {
		h.replyError(hub, client, message.RequestID, err)
		return
	}
	libraries.SendAck(hub, client, message.RequestID, nil)
}

func (h *SyncHandler) deleteElement(ctx context.Context, hub *libraries.Hub, client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.DeleteElementPayload)
	if !ok {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "elementId is required")
		return
	}
	boardId, err := uuid.Parse(payload.BoardID)
	if err != nil {
		libraries.SendErrorAck(hub, client, message.RequestID, protocol.CodeBadRequest, "Invalid board ID")
		return
	}
	if err := h.rooms.DeleteElement(ctx, boardId, client.UserID, client.ID, payload.ElementID); err != nil {
		h.replyError(hub, client, message.RequestID, err)
		return
	}
	libraries.SendAck(hub, client, message.RequestID, nil)
}

// moveCursor never answers; excess frames are dropped silently
func (h *SyncHandler) moveCursor(client *libraries.Client, message *protocol.Message) {
	payload, ok := message.Data.(*protocol.MoveCursorPayload)
	if !ok {
		return
	}
	boardId, err := uuid.Parse(payload.BoardID)
	if err != nil {
		return
	}
	if !h.session(client).cursor.Allow() {
		return
	}
	h.rooms.MoveCursor(boardId, client.UserID, client.ID, payload.Position)
}

func (h *SyncHandler) replyError(hub *libraries.Hub, client *libraries.Client, requestId string, err error) {
	code := whiteboard.CodeOf(err)
	msg := err.Error()
	if code == protocol.CodeStorageFailure {
		log.Println(err, "Error processing room request")
		msg = "Storage is unavailable, please retry"
	}
	libraries.SendErrorAck(hub, client, requestId, code, msg)
}

func parseBoardID(payload *protocol.BoardRef, ok bool) (uuid.UUID, error) {
	if !ok || payload == nil {
		return uuid.Nil, errors.New("boardId is required")
	}
	boardId, err := uuid.Parse(payload.BoardID)
	if err != nil {
		return uuid.Nil, errors.New("invalid board ID")
	}
	return boardId, nil
}
