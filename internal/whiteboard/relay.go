package whiteboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"studyboard-backend/internal/crdt"
	"studyboard-backend/internal/protocol"
	"studyboard-backend/internal/repo"

	"github.com/google/uuid"
)

// Peer is one live connection to a board's replicated document.
type Peer interface {
	ID() string
	Send(message []byte)
}

type RelayConfig struct {
	// Debounce is the quiet period after the last update before a snapshot
	// is flushed.
	Debounce time.Duration
	// MaxWait bounds how long a continuously edited board stays unflushed.
	MaxWait time.Duration
	// FlushTimeout bounds one flush to every sink.
	FlushTimeout time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Debounce:     2 * time.Second,
		MaxWait:      10 * time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

type docRoom struct {
	mu         sync.Mutex
	boardId    uuid.UUID
	doc        *crdt.Doc
	awareness  *crdt.Awareness
	peers      map[string]Peer
	peerStates map[string]map[string]struct{}
	loaded     bool
	timer      *time.Timer
	dirtySince time.Time
	closed     bool

	// saveMu orders saves; taken before mu, never under it
	saveMu sync.Mutex
}

// DocRelay relays document and awareness updates between the peers of a
// board and keeps a server replica that is flushed to the snapshot sinks.
// Relaying never waits for persistence.
type DocRelay struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*docRoom
	sinks []repo.DocSnapshotRepoInterface
	cfg   RelayConfig
}

func NewDocRelay(cfg RelayConfig, sinks ...repo.DocSnapshotRepoInterface) *DocRelay {
	return &DocRelay{
		rooms: make(map[uuid.UUID]*docRoom),
		sinks: sinks,
		cfg:   cfg,
	}
}

// Open adds the peer to the board's room, loading the last snapshot when the
// room is first opened, then sends the peer the document state followed by
// the awareness states of the other peers. Both are sent under the room lock
// so no relayed update can overtake them. A room whose last peer is still
// being saved is reused as is.
func (r *DocRelay) Open(ctx context.Context, boardId uuid.UUID, peer Peer) error {
	for {
		room := r.acquire(boardId)
		room.mu.Lock()
		if room.closed {
			room.mu.Unlock()
			r.discard(room)
			continue
		}
		err := r.open(ctx, room, peer)
		if err != nil && !room.loaded && len(room.peers) == 0 {
			// replaced by the next Open
			room.closed = true
		}
		closed := room.closed
		room.mu.Unlock()
		if closed {
			r.discard(room)
		}
		return err
	}
}

// acquire returns the board's room, registering a new one if needed. The
// relay lock is never held together with a room lock by Open.
func (r *DocRelay) acquire(boardId uuid.UUID) *docRoom {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[boardId]
	if !ok {
		room = &docRoom{
			boardId:    boardId,
			doc:        crdt.NewDoc("server:" + boardId.String()),
			awareness:  crdt.NewAwareness("server:" + boardId.String()),
			peers:      make(map[string]Peer),
			peerStates: make(map[string]map[string]struct{}),
		}
		r.rooms[boardId] = room
	}
	return room
}

// discard unregisters a closed room unless it was already replaced.
func (r *DocRelay) discard(room *docRoom) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[room.boardId] == room {
		delete(r.rooms, room.boardId)
	}
}

// open must be called with room.mu held
func (r *DocRelay) open(ctx context.Context, room *docRoom, peer Peer) error {
	room.peers[peer.ID()] = peer
	if !room.loaded {
		if err := r.load(ctx, room); err != nil {
			delete(room.peers, peer.ID())
			return err
		}
		room.loaded = true
	}

	state, err := room.doc.EncodeState()
	if err != nil {
		delete(room.peers, peer.ID())
		return fmt.Errorf("encode state: %w", err)
	}
	frame, err := protocol.Encode(protocol.TypeSyncState, "", &protocol.SyncState{
		BoardID:  room.boardId.String(),
		ClientID: peer.ID(),
		State:    state,
	})
	if err != nil {
		delete(room.peers, peer.ID())
		return err
	}
	peer.Send(frame)

	if all, err := room.awareness.EncodeAll(); err == nil {
		if aw, err := protocol.Encode(protocol.TypeAwareness, "", &protocol.AwarenessFrame{Update: all}); err == nil {
			peer.Send(aw)
		}
	}
	return nil
}

func (r *DocRelay) load(ctx context.Context, room *docRoom) error {
	for _, sink := range r.sinks {
		state, err := sink.LoadSnapshot(ctx, room.boardId)
		if errors.Is(err, repo.ErrSnapshotNotFound) {
			continue
		}
		if err != nil {
			return storageErr("load snapshot", err)
		}
		if err := room.doc.ApplyUpdate(state, "snapshot"); err != nil {
			return storageErr("apply snapshot", err)
		}
		return nil
	}
	return nil
}

// Update merges a peer's transaction into the server replica and relays it to
// every other peer.
func (r *DocRelay) Update(boardId uuid.UUID, from Peer, update json.RawMessage) error {
	room, err := r.room(boardId, from)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	if err := room.doc.ApplyUpdate(update, from.ID()); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	frame, err := protocol.Encode(protocol.TypeDocUpdate, "", &protocol.DocUpdate{Update: update})
	if err != nil {
		return err
	}
	room.relay(from.ID(), frame)
	r.schedule(room)
	return nil
}

// Awareness merges and relays a peer's ephemeral state.
func (r *DocRelay) Awareness(boardId uuid.UUID, from Peer, update json.RawMessage) error {
	room, err := r.room(boardId, from)
	if err != nil {
		return err
	}
	defer room.mu.Unlock()

	var decoded crdt.AwarenessUpdate
	if err := json.Unmarshal(update, &decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	if _, err := room.awareness.ApplyUpdate(update); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedElement, err)
	}
	owned, ok := room.peerStates[from.ID()]
	if !ok {
		owned = make(map[string]struct{})
		room.peerStates[from.ID()] = owned
	}
	for _, c := range decoded.Clients {
		if c.State != nil {
			owned[c.ID] = struct{}{}
		}
	}

	frame, err := protocol.Encode(protocol.TypeAwareness, "", &protocol.AwarenessFrame{Update: update})
	if err != nil {
		return err
	}
	room.relay(from.ID(), frame)
	return nil
}

// Close removes the peer and drops its awareness states for everybody else.
// When it was the last peer the room is saved and then discarded; it stays
// registered until the save lands so a peer opening the board meanwhile
// continues from memory instead of an older snapshot.
func (r *DocRelay) Close(boardId uuid.UUID, peer Peer) {
	r.mu.Lock()
	room, ok := r.rooms[boardId]
	r.mu.Unlock()
	if !ok {
		return
	}
	room.mu.Lock()
	if _, ok := room.peers[peer.ID()]; !ok {
		room.mu.Unlock()
		return
	}
	delete(room.peers, peer.ID())
	last := len(room.peers) == 0
	if last && room.timer != nil {
		room.timer.Stop()
		room.timer = nil
	}

	owned := room.peerStates[peer.ID()]
	delete(room.peerStates, peer.ID())
	if len(owned) > 0 {
		ids := make([]string, 0, len(owned))
		for id := range owned {
			ids = append(ids, id)
		}
		if removal, err := room.awareness.Remove(ids...); err == nil {
			if frame, err := protocol.Encode(protocol.TypeAwareness, "", &protocol.AwarenessFrame{Update: removal}); err == nil {
				room.relay(peer.ID(), frame)
			}
		}
	}
	room.mu.Unlock()
	if !last {
		return
	}

	r.save(room)

	room.mu.Lock()
	// a peer that opened during the save keeps the room alive
	idle := len(room.peers) == 0 && room.dirtySince.IsZero()
	if idle {
		room.closed = true
	}
	room.mu.Unlock()
	if idle {
		r.discard(room)
	}
}

// Rooms returns the number of open document rooms.
func (r *DocRelay) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// room returns the locked room of a joined peer
func (r *DocRelay) room(boardId uuid.UUID, peer Peer) (*docRoom, error) {
	r.mu.Lock()
	room, ok := r.rooms[boardId]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("board %s: %w", boardId, ErrNotInRoom)
	}
	room.mu.Lock()
	if _, ok := room.peers[peer.ID()]; !ok || room.closed {
		room.mu.Unlock()
		return nil, fmt.Errorf("board %s: %w", boardId, ErrNotInRoom)
	}
	return room, nil
}

// relay must be called with room.mu held
func (room *docRoom) relay(except string, frame []byte) {
	for id, p := range room.peers {
		if id == except {
			continue
		}
		p.Send(frame)
	}
}

// schedule arms the trailing debounce; called with room.mu held
func (r *DocRelay) schedule(room *docRoom) {
	now := time.Now()
	if room.dirtySince.IsZero() {
		room.dirtySince = now
	}
	wait := r.cfg.Debounce
	if r.cfg.MaxWait > 0 {
		if left := room.dirtySince.Add(r.cfg.MaxWait).Sub(now); left < wait {
			wait = left
		}
	}
	if wait < 0 {
		wait = 0
	}
	if room.timer != nil {
		room.timer.Stop()
	}
	room.timer = time.AfterFunc(wait, func() { r.flush(room) })
}

func (r *DocRelay) flush(room *docRoom) {
	r.save(room)
}

// save writes the room's state when it is dirty. Saves of a room never
// overlap, so they land in the order their states were encoded.
func (r *DocRelay) save(room *docRoom) {
	room.saveMu.Lock()
	defer room.saveMu.Unlock()

	room.mu.Lock()
	if room.dirtySince.IsZero() {
		room.mu.Unlock()
		return
	}
	state, err := room.doc.EncodeState()
	room.dirtySince = time.Time{}
	room.mu.Unlock()
	if err != nil {
		log.Printf("failed to encode document %s: %v", room.boardId, err)
		return
	}
	r.persist(room.boardId, state)
}

func (r *DocRelay) persist(boardId uuid.UUID, state []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
	defer cancel()
	for _, sink := range r.sinks {
		if err := sink.SaveSnapshot(ctx, boardId, state); err != nil {
			log.Printf("failed to flush snapshot of board %s: %v", boardId, err)
		}
	}
}
