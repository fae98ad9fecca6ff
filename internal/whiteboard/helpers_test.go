package whiteboard

import (
	"context"
	"sync"
	"testing"

	"studyboard-backend/internal/models"
	"studyboard-backend/internal/protocol"
	"studyboard-backend/internal/repo"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	boardId uuid.UUID
	except  string
	msg     *protocol.Message
}

type fakeBus struct {
	mu     sync.Mutex
	frames []sentFrame
	// fail makes every broadcast return it
	fail error
}

func (b *fakeBus) BroadcastToRoom(boardId uuid.UUID, exceptConnectionId string, message []byte) error {
	msg, err := protocol.Parse(message)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	b.frames = append(b.frames, sentFrame{boardId: boardId, except: exceptConnectionId, msg: msg})
	return nil
}

func (b *fakeBus) failWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

func (b *fakeBus) ofType(t protocol.MessageType) []sentFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []sentFrame
	for _, f := range b.frames {
		if f.msg.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func (b *fakeBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = nil
}

type fixture struct {
	store    *repo.MemoryStore
	bus      *fakeBus
	elements *ElementService
	rooms    *Rooms
	board    *models.Board
	owner    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemoryStore()
	owner := uuid.New()
	board := &models.Board{Title: "Lecture 4", OwnerID: owner}
	_, err := store.CreateBoard(context.Background(), board)
	require.NoError(t, err)

	bus := &fakeBus{}
	elements := NewElementService(store, store)
	return &fixture{
		store:    store,
		bus:      bus,
		elements: elements,
		rooms:    NewRooms(store, elements, NewPresence(), bus),
		board:    board,
		owner:    owner.String(),
	}
}

func (f *fixture) addMember(t *testing.T) string {
	t.Helper()
	user := uuid.New()
	require.NoError(t, f.store.AddMember(context.Background(), f.board.UUID, user, models.MemberRoleEditor))
	return user.String()
}

func (f *fixture) addViewer(t *testing.T) string {
	t.Helper()
	user := uuid.New()
	require.NoError(t, f.store.AddMember(context.Background(), f.board.UUID, user, models.MemberRoleViewer))
	return user.String()
}
