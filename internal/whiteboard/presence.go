package whiteboard

import (
	"sort"
	"sync"
	"time"

	"studyboard-backend/internal/protocol"

	"github.com/google/uuid"
)

const presenceShards = 32

type participant struct {
	protocol.Participant
	connections map[string]struct{}
}

type room struct {
	participants map[string]*participant
}

type presenceShard struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*room
}

// Presence tracks who is connected to which board room. Entries are keyed by
// user, so several connections of one user collapse to a single participant.
// Boards are spread over shards so rooms never contend on one lock.
type Presence struct {
	shards [presenceShards]presenceShard
}

func NewPresence() *Presence {
	p := &Presence{}
	for i := range p.shards {
		p.shards[i].rooms = make(map[uuid.UUID]*room)
	}
	return p
}

func (p *Presence) shard(boardId uuid.UUID) *presenceShard {
	return &p.shards[int(boardId[15])%presenceShards]
}

type JoinResult struct {
	// Participants excludes the caller.
	Participants []protocol.Participant
	Color        string
	// FirstConnection is true when the user was not in the room before.
	FirstConnection bool
}

// Join registers connectionId for the user and returns everybody else.
func (p *Presence) Join(boardId uuid.UUID, userId, connectionId string) JoinResult {
	s := p.shard(boardId)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[boardId]
	if !ok {
		r = &room{participants: make(map[string]*participant)}
		s.rooms[boardId] = r
	}

	pt, exists := r.participants[userId]
	if !exists {
		pt = &participant{
			Participant: protocol.Participant{
				UserID:   userId,
				Color:    ColorOf(userId),
				JoinedAt: time.Now().UnixMilli(),
			},
			connections: make(map[string]struct{}),
		}
		r.participants[userId] = pt
	}
	pt.connections[connectionId] = struct{}{}

	return JoinResult{
		Participants:    r.list(userId),
		Color:           pt.Color,
		FirstConnection: !exists,
	}
}

type LeaveResult struct {
	// Left is true when the user's last connection left the room.
	Left  bool
	Color string
	// RoomClosed is true when the room became empty and was discarded.
	RoomClosed bool
}

// Leave drops connectionId. Unknown rooms, users or connections are a no-op.
func (p *Presence) Leave(boardId uuid.UUID, userId, connectionId string) LeaveResult {
	s := p.shard(boardId)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[boardId]
	if !ok {
		return LeaveResult{}
	}
	pt, ok := r.participants[userId]
	if !ok {
		return LeaveResult{}
	}
	if _, ok := pt.connections[connectionId]; !ok {
		return LeaveResult{}
	}
	delete(pt.connections, connectionId)

	res := LeaveResult{Color: pt.Color}
	if len(pt.connections) == 0 {
		delete(r.participants, userId)
		res.Left = true
	}
	if len(r.participants) == 0 {
		delete(s.rooms, boardId)
		res.RoomClosed = true
	}
	return res
}

// MoveCursor records the cursor of a present user. It returns false when the
// user is not in the room.
func (p *Presence) MoveCursor(boardId uuid.UUID, userId string, pos protocol.Position) bool {
	s := p.shard(boardId)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[boardId]
	if !ok {
		return false
	}
	pt, ok := r.participants[userId]
	if !ok {
		return false
	}
	cursor := pos
	pt.Cursor = &cursor
	return true
}

// Participants lists everybody in the room.
func (p *Presence) Participants(boardId uuid.UUID) []protocol.Participant {
	s := p.shard(boardId)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[boardId]
	if !ok {
		return nil
	}
	return r.list("")
}

// InRoom reports whether the connection joined the room.
func (p *Presence) InRoom(boardId uuid.UUID, userId, connectionId string) bool {
	s := p.shard(boardId)
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[boardId]
	if !ok {
		return false
	}
	pt, ok := r.participants[userId]
	if !ok {
		return false
	}
	_, ok = pt.connections[connectionId]
	return ok
}

// Rooms returns the number of live rooms.
func (p *Presence) Rooms() int {
	n := 0
	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		n += len(s.rooms)
		s.mu.Unlock()
	}
	return n
}

func (r *room) list(exclude string) []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.participants))
	for id, pt := range r.participants {
		if id == exclude {
			continue
		}
		view := pt.Participant
		if pt.Cursor != nil {
			c := *pt.Cursor
			view.Cursor = &c
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt == out[j].JoinedAt {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt < out[j].JoinedAt
	})
	return out
}
