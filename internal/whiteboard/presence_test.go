package whiteboard

import (
	"fmt"
	"sync"
	"testing"

	"studyboard-backend/internal/protocol"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorOf_Deterministic(t *testing.T) {
	user := uuid.NewString()
	assert.Equal(t, ColorOf(user), ColorOf(user))
	assert.Contains(t, Palette, ColorOf(user))
	assert.Contains(t, Palette, ColorOf(""))
}

func TestColorOf_SpreadsOverPalette(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		seen[ColorOf(fmt.Sprintf("user-%d", i))] = true
	}
	assert.Greater(t, len(seen), len(Palette)/2)
}

func TestPresence_OneParticipantPerUser(t *testing.T) {
	p := NewPresence()
	board := uuid.New()

	first := p.Join(board, "alice", "conn-1")
	second := p.Join(board, "alice", "conn-2")
	assert.True(t, first.FirstConnection)
	assert.False(t, second.FirstConnection)
	assert.Equal(t, first.Color, second.Color)
	assert.Len(t, p.Participants(board), 1)

	left := p.Leave(board, "alice", "conn-1")
	assert.False(t, left.Left, "the user still has a connection")
	assert.True(t, p.InRoom(board, "alice", "conn-2"))
	assert.False(t, p.InRoom(board, "alice", "conn-1"))

	left = p.Leave(board, "alice", "conn-2")
	assert.True(t, left.Left)
	assert.True(t, left.RoomClosed)
	assert.Equal(t, 0, p.Rooms())
}

func TestPresence_FiveParticipants(t *testing.T) {
	p := NewPresence()
	board := uuid.New()
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		p.Join(board, u, "conn-"+u)
	}

	for _, u := range users {
		res := p.Join(board, u, "conn-"+u)
		require.Len(t, res.Participants, 4)
		for _, other := range res.Participants {
			assert.NotEqual(t, u, other.UserID)
			assert.Equal(t, ColorOf(other.UserID), other.Color)
		}
		assert.Equal(t, ColorOf(u), res.Color)
	}
	assert.Len(t, p.Participants(board), 5)
}

func TestPresence_LeaveUnknownIsNoop(t *testing.T) {
	p := NewPresence()
	board := uuid.New()
	assert.Equal(t, LeaveResult{}, p.Leave(board, "ghost", "conn"))

	p.Join(board, "alice", "conn-1")
	assert.Equal(t, LeaveResult{}, p.Leave(board, "alice", "conn-9"))
	assert.Equal(t, LeaveResult{}, p.Leave(board, "bob", "conn-1"))
	assert.Equal(t, 1, p.Rooms())
}

func TestPresence_MoveCursor(t *testing.T) {
	p := NewPresence()
	board := uuid.New()
	assert.False(t, p.MoveCursor(board, "alice", protocol.Position{X: 1, Y: 1}))

	p.Join(board, "alice", "conn-1")
	require.True(t, p.MoveCursor(board, "alice", protocol.Position{X: 3, Y: 4}))

	participants := p.Participants(board)
	require.Len(t, participants, 1)
	assert.Equal(t, &protocol.Position{X: 3, Y: 4}, participants[0].Cursor)
}

func TestPresence_RoomsAreIndependent(t *testing.T) {
	p := NewPresence()
	boards := make([]uuid.UUID, 64)
	for i := range boards {
		boards[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for i, b := range boards {
		wg.Add(1)
		go func(i int, b uuid.UUID) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Join(b, fmt.Sprintf("user-%d", j), fmt.Sprintf("conn-%d-%d", i, j))
			}
		}(i, b)
	}
	wg.Wait()

	assert.Equal(t, len(boards), p.Rooms())
	for _, b := range boards {
		assert.Len(t, p.Participants(b), 10)
	}
}
