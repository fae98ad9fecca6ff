package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"studyboard-backend/internal/models"
	"studyboard-backend/internal/protocol"
	"studyboard-backend/internal/repo"

	"github.com/google/uuid"
)

// ErrNotInRoom is returned for room traffic from a connection that never joined.
var ErrNotInRoom = errors.New("not in room")

// Broadcaster fans a frame out to every connection of a room except one.
type Broadcaster interface {
	BroadcastToRoom(boardId uuid.UUID, exceptConnectionId string, message []byte) error
}

type connKey struct {
	boardId      uuid.UUID
	connectionId string
}

// Rooms ties access control, presence and the element protocol together.
// A mutation is broadcast only after it was persisted, and a broadcast that
// could not be handed to the bus fails the request.
type Rooms struct {
	boards   repo.BoardRepoInterface
	elements *ElementService
	presence *Presence
	bus      Broadcaster

	mu       sync.Mutex
	readOnly map[connKey]struct{}
}

func NewRooms(boards repo.BoardRepoInterface, elements *ElementService, presence *Presence, bus Broadcaster) *Rooms {
	return &Rooms{
		boards:   boards,
		elements: elements,
		presence: presence,
		bus:      bus,
		readOnly: make(map[connKey]struct{}),
	}
}

// CanEdit reports whether the user may change the board's elements
func CanEdit(board *models.Board, userId string) bool {
	uid, err := uuid.Parse(userId)
	if err != nil {
		return false
	}
	return board.CanEdit(uid)
}

func (r *Rooms) Presence() *Presence {
	return r.presence
}

// Authorize loads the board and checks that the user may open it.
func (r *Rooms) Authorize(ctx context.Context, boardId uuid.UUID, userId string) (*models.Board, error) {
	board, err := r.boards.GetBoardByID(ctx, boardId)
	if errors.Is(err, repo.ErrBoardNotFound) {
		return nil, fmt.Errorf("board %s: %w", boardId, ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("load board", err)
	}
	uid, err := uuid.Parse(userId)
	if err != nil {
		uid = uuid.Nil
	}
	if !board.CanAccess(uid) {
		return nil, fmt.Errorf("board %s user %s: %w", boardId, userId, ErrAccessDenied)
	}
	return board, nil
}

// Join checks access, registers presence and returns the room state.
func (r *Rooms) Join(ctx context.Context, boardId uuid.UUID, userId, connectionId string) (*protocol.JoinRoomResult, error) {
	board, err := r.Authorize(ctx, boardId, userId)
	if err != nil {
		return nil, err
	}
	elements, err := r.elements.Snapshot(ctx, boardId)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if CanEdit(board, userId) {
		delete(r.readOnly, connKey{boardId, connectionId})
	} else {
		r.readOnly[connKey{boardId, connectionId}] = struct{}{}
	}
	r.mu.Unlock()

	joined := r.presence.Join(boardId, userId, connectionId)
	if joined.FirstConnection {
		r.announce(boardId, connectionId, protocol.TypeParticipantJoined, &protocol.ParticipantEvent{
			BoardID: boardId.String(),
			UserID:  userId,
			Color:   joined.Color,
		})
	}

	return &protocol.JoinRoomResult{
		BoardID:      boardId.String(),
		UserID:       userId,
		Color:        joined.Color,
		Elements:     elements,
		Participants: joined.Participants,
	}, nil
}

// Leave drops the connection and announces the user once they are gone.
func (r *Rooms) Leave(boardId uuid.UUID, userId, connectionId string) LeaveResult {
	left := r.presence.Leave(boardId, userId, connectionId)
	r.mu.Lock()
	delete(r.readOnly, connKey{boardId, connectionId})
	r.mu.Unlock()
	if left.Left {
		r.announce(boardId, connectionId, protocol.TypeParticipantLeft, &protocol.ParticipantEvent{
			BoardID: boardId.String(),
			UserID:  userId,
			Color:   left.Color,
		})
	}
	if left.RoomClosed {
		log.Printf("room %s closed", boardId)
	}
	return left
}

// MoveCursor is fire-and-forget; it never reports errors to the sender.
func (r *Rooms) MoveCursor(boardId uuid.UUID, userId, connectionId string, pos protocol.Position) {
	if !r.presence.InRoom(boardId, userId, connectionId) {
		return
	}
	if !r.presence.MoveCursor(boardId, userId, pos) {
		return
	}
	r.announce(boardId, connectionId, protocol.TypeCursorMoved, &protocol.CursorMovedEvent{
		BoardID:  boardId.String(),
		UserID:   userId,
		Position: pos,
	})
}

// requireEditor checks that the connection joined the room and may edit it
func (r *Rooms) requireEditor(boardId uuid.UUID, userId, connectionId string) error {
	if !r.presence.InRoom(boardId, userId, connectionId) {
		return fmt.Errorf("board %s: %w", boardId, ErrNotInRoom)
	}
	r.mu.Lock()
	_, viewer := r.readOnly[connKey{boardId, connectionId}]
	r.mu.Unlock()
	if viewer {
		return fmt.Errorf("board %s user %s is a viewer: %w", boardId, userId, ErrAccessDenied)
	}
	return nil
}

func (r *Rooms) CreateElement(ctx context.Context, boardId uuid.UUID, userId, connectionId string, element models.Element) (models.Element, error) {
	if err := r.requireEditor(boardId, userId, connectionId); err != nil {
		return nil, err
	}
	created, err := r.elements.Create(ctx, boardId, userId, element)
	if err != nil {
		return nil, err
	}
	if err := r.broadcast(boardId, connectionId, protocol.TypeElementCreated, &protocol.ElementCreatedEvent{
		BoardID: boardId.String(),
		Element: created,
		ByUser:  userId,
	}); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Rooms) UpdateElement(ctx context.Context, boardId uuid.UUID, userId, connectionId, elementId string, patch models.Element) (*UpdateResult, error) {
	if err := r.requireEditor(boardId, userId, connectionId); err != nil {
		return nil, err
	}
	res, err := r.elements.Update(ctx, boardId, userId, elementId, patch)
	if err != nil {
		return nil, err
	}
	event := &protocol.ElementUpdatedEvent{
		BoardID:   boardId.String(),
		ElementID: elementId,
		ByUser:    userId,
	}
	if res.Full {
		event.Full = true
		event.Element = res.Element
	} else {
		event.Patch = res.Patch
	}
	if err := r.broadcast(boardId, connectionId, protocol.TypeElementUpdated, event); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Rooms) DeleteElement(ctx context.Context, boardId uuid.UUID, userId, connectionId, elementId string) error {
	if err := r.requireEditor(boardId, userId, connectionId); err != nil {
		return err
	}
	if err := r.elements.Delete(ctx, boardId, elementId); err != nil {
		return err
	}
	return r.broadcast(boardId, connectionId, protocol.TypeElementDeleted, &protocol.ElementDeletedEvent{
		BoardID:   boardId.String(),
		ElementID: elementId,
		ByUser:    userId,
	})
}

// ClearBoard drops every element and tells the room about each removal. It
// is driven from the REST surface, so there is no sending connection.
func (r *Rooms) ClearBoard(ctx context.Context, boardId uuid.UUID, userId string) (int, error) {
	board, err := r.Authorize(ctx, boardId, userId)
	if err != nil {
		return 0, err
	}
	if !CanEdit(board, userId) {
		return 0, fmt.Errorf("board %s user %s is a viewer: %w", boardId, userId, ErrAccessDenied)
	}
	elements, err := r.elements.Snapshot(ctx, boardId)
	if err != nil {
		return 0, err
	}
	if err := r.elements.Clear(ctx, boardId); err != nil {
		return 0, err
	}
	var failed error
	for _, el := range elements {
		err := r.broadcast(boardId, "", protocol.TypeElementDeleted, &protocol.ElementDeletedEvent{
			BoardID:   boardId.String(),
			ElementID: el.ID(),
			ByUser:    userId,
		})
		if err != nil && failed == nil {
			failed = err
		}
	}
	if failed != nil {
		return 0, failed
	}
	return len(elements), nil
}

// broadcast hands a persisted mutation to the bus. The write stays in place
// when this fails; the sender sees a storage failure and may retry.
func (r *Rooms) broadcast(boardId uuid.UUID, exceptConnectionId string, t protocol.MessageType, data interface{}) error {
	if r.bus == nil {
		return nil
	}
	msg, err := protocol.Encode(t, "", data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	if err := r.bus.BroadcastToRoom(boardId, exceptConnectionId, msg); err != nil {
		return storageErr("broadcast "+string(t), err)
	}
	return nil
}

// announce broadcasts presence traffic, where a lost frame only costs a
// stale participant list
func (r *Rooms) announce(boardId uuid.UUID, exceptConnectionId string, t protocol.MessageType, data interface{}) {
	if err := r.broadcast(boardId, exceptConnectionId, t, data); err != nil {
		log.Printf("failed to broadcast %s on board %s: %v", t, boardId, err)
	}
}

// CodeOf maps service errors onto protocol error codes.
func CodeOf(err error) protocol.ErrorCode {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return protocol.CodeAccessDenied
	case errors.Is(err, ErrNotFound):
		return protocol.CodeNotFound
	case errors.Is(err, ErrMalformedElement):
		return protocol.CodeMalformedElement
	case errors.Is(err, ErrNotInRoom):
		return protocol.CodeNotInRoom
	default:
		return protocol.CodeStorageFailure
	}
}
