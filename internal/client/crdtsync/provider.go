package crdtsync

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"studyboard-backend/internal/client/store"
	"studyboard-backend/internal/crdt"
	"studyboard-backend/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Status struct {
	Connected bool
	Synced    bool
}

// Provider connects a store to the relay of one board through a local
// document replica and shares this client's awareness state.
type Provider struct {
	boardId   string
	conn      *websocket.Conn
	doc       *crdt.Doc
	awareness *crdt.Awareness
	binding   *Binding
	send      chan []byte

	mu       sync.Mutex
	status   Status
	onStatus []func(Status)
	synced   chan struct{}
	stops    []func()

	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials <baseURL>/ws/crdt/<boardId> and binds st to the board's
// document. baseURL uses the ws or wss scheme.
func Connect(ctx context.Context, baseURL, boardId, token string, st *store.Store) (*Provider, error) {
	url := strings.TrimRight(baseURL, "/") + "/ws/crdt/" + boardId
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	clientID := uuid.NewString()
	p := &Provider{
		boardId:   boardId,
		conn:      conn,
		doc:       crdt.NewDoc(clientID),
		awareness: crdt.NewAwareness(clientID),
		send:      make(chan []byte, 256),
		status:    Status{Connected: true},
		synced:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.binding = Bind(st, p.doc)
	p.stops = append(p.stops, p.doc.OnUpdate(func(update []byte, origin interface{}, local bool) {
		if !local {
			return
		}
		p.queue(protocol.TypeDocUpdate, &protocol.DocUpdate{Update: update})
	}))

	go p.writeLoop()
	go p.readLoop()
	return p, nil
}

func (p *Provider) Doc() *crdt.Doc { return p.doc }

func (p *Provider) Awareness() *crdt.Awareness { return p.awareness }

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// OnStatus registers fn for every status change
func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStatus = append(p.onStatus, fn)
}

// WaitSynced blocks until the initial state arrived
func (p *Provider) WaitSynced(ctx context.Context) error {
	select {
	case <-p.synced:
		return nil
	case <-p.done:
		return fmt.Errorf("board %s: connection closed before sync", p.boardId)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetLocalState publishes this client's name, colour and cursor to peers
func (p *Provider) SetLocalState(state *crdt.PeerState) error {
	update, err := p.awareness.SetLocalState(state)
	if err != nil {
		return err
	}
	p.queue(protocol.TypeAwareness, &protocol.AwarenessFrame{Update: update})
	return nil
}

// Peers returns the awareness states of everybody else
func (p *Provider) Peers() map[string]crdt.PeerState {
	states := p.awareness.States()
	delete(states, p.awareness.ClientID())
	return states
}

func (p *Provider) Close() error {
	p.shutdown()
	return nil
}

func (p *Provider) shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
		p.binding.Close()
		for _, stop := range p.stops {
			stop()
		}
		p.setStatus(func(s *Status) { *s = Status{} })
	})
}

func (p *Provider) queue(t protocol.MessageType, data interface{}) {
	frame, err := protocol.Encode(t, "", data)
	if err != nil {
		log.Printf("failed to encode %s: %v", t, err)
		return
	}
	select {
	case p.send <- frame:
	case <-p.done:
	}
}

func (p *Provider) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.send:
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Println("write error:", err)
				p.shutdown()
				return
			}
		}
	}
}

func (p *Provider) readLoop() {
	defer p.shutdown()
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Parse(raw)
		if err != nil {
			log.Println("failed to parse frame:", err)
			continue
		}
		p.handle(msg)
	}
}

func (p *Provider) handle(msg *protocol.Message) {
	switch data := msg.Data.(type) {
	case *protocol.SyncState:
		if err := p.doc.ApplyUpdate(data.State, originSync); err != nil {
			log.Println("failed to apply initial state:", err)
			return
		}
		p.binding.InitialSync()
		p.setStatus(func(s *Status) { s.Synced = true })
		p.mu.Lock()
		select {
		case <-p.synced:
		default:
			close(p.synced)
		}
		p.mu.Unlock()
	case *protocol.DocUpdate:
		if err := p.doc.ApplyUpdate(data.Update, originPeer); err != nil {
			log.Println("failed to apply update:", err)
		}
	case *protocol.AwarenessFrame:
		if _, err := p.awareness.ApplyUpdate(data.Update); err != nil {
			log.Println("failed to apply awareness:", err)
		}
	case *protocol.ErrorPayload:
		log.Printf("board %s: server error %s", p.boardId, data)
	}
}

func (p *Provider) setStatus(fn func(*Status)) {
	p.mu.Lock()
	before := p.status
	fn(&p.status)
	after := p.status
	handlers := append(([]func(Status))(nil), p.onStatus...)
	p.mu.Unlock()
	if before == after {
		return
	}
	for _, h := range handlers {
		h(after)
	}
}
