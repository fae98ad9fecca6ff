package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PeerState is the ephemeral state a peer shares with the room. It is never
// part of the document.
type PeerState struct {
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Cursor      *Point `json:"cursor,omitempty"`
}

type awarenessEntry struct {
	clock int64
	state *PeerState
}

type AwarenessClient struct {
	ID    string     `json:"id"`
	Clock int64      `json:"clock"`
	State *PeerState `json:"state"`
}

// AwarenessUpdate lists client states; a nil State removes that client
type AwarenessUpdate struct {
	Clients []AwarenessClient `json:"clients"`
}

// AwarenessChange lists the client ids touched by one update
type AwarenessChange struct {
	Added   []string
	Updated []string
	Removed []string
	Local   bool
}

// Awareness tracks the latest state of every connected peer. Each client
// owns a counter; a client's state is replaced only by a higher counter.
type Awareness struct {
	mu       sync.Mutex
	clientID string
	states   map[string]*awarenessEntry
	handlers map[int]func(AwarenessChange)
	nextID   int
}

func NewAwareness(clientID string) *Awareness {
	return &Awareness{
		clientID: clientID,
		states:   make(map[string]*awarenessEntry),
		handlers: make(map[int]func(AwarenessChange)),
	}
}

func (a *Awareness) ClientID() string {
	return a.clientID
}

// OnChange registers a handler. The returned func removes it.
func (a *Awareness) OnChange(fn func(AwarenessChange)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.handlers[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.handlers, id)
	}
}

// SetLocalState publishes this replica's state and returns the update to send.
func (a *Awareness) SetLocalState(state *PeerState) ([]byte, error) {
	a.mu.Lock()
	e, ok := a.states[a.clientID]
	if !ok {
		e = &awarenessEntry{}
		a.states[a.clientID] = e
	}
	wasPresent := e.state != nil
	e.clock++
	e.state = cloneState(state)
	client := AwarenessClient{ID: a.clientID, Clock: e.clock, State: cloneState(state)}
	handlers := a.listeners()
	a.mu.Unlock()

	change := AwarenessChange{Local: true}
	switch {
	case state == nil && wasPresent:
		change.Removed = []string{a.clientID}
	case state != nil && wasPresent:
		change.Updated = []string{a.clientID}
	case state != nil:
		change.Added = []string{a.clientID}
	}
	notify(handlers, change)
	return json.Marshal(&AwarenessUpdate{Clients: []AwarenessClient{client}})
}

// ApplyUpdate merges a remote awareness update
func (a *Awareness) ApplyUpdate(data []byte) (AwarenessChange, error) {
	var u AwarenessUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		return AwarenessChange{}, fmt.Errorf("decode awareness: %w", err)
	}
	return a.apply(u.Clients, false), nil
}

// Remove drops clients (a disconnected peer) and returns the update that
// tells everybody else to drop them too.
func (a *Awareness) Remove(clientIDs ...string) ([]byte, error) {
	a.mu.Lock()
	clients := make([]AwarenessClient, 0, len(clientIDs))
	for _, id := range clientIDs {
		clock := int64(0)
		if e, ok := a.states[id]; ok {
			clock = e.clock
		}
		clients = append(clients, AwarenessClient{ID: id, Clock: clock + 1})
	}
	a.mu.Unlock()

	a.apply(clients, true)
	return json.Marshal(&AwarenessUpdate{Clients: clients})
}

func (a *Awareness) apply(clients []AwarenessClient, local bool) AwarenessChange {
	a.mu.Lock()
	change := AwarenessChange{Local: local}
	for _, c := range clients {
		e, ok := a.states[c.ID]
		if ok && c.Clock <= e.clock {
			continue
		}
		if !ok {
			e = &awarenessEntry{}
			a.states[c.ID] = e
		}
		wasPresent := e.state != nil
		e.clock = c.Clock
		e.state = cloneState(c.State)
		switch {
		case c.State == nil && wasPresent:
			change.Removed = append(change.Removed, c.ID)
		case c.State != nil && wasPresent:
			change.Updated = append(change.Updated, c.ID)
		case c.State != nil:
			change.Added = append(change.Added, c.ID)
		}
	}
	handlers := a.listeners()
	a.mu.Unlock()

	notify(handlers, change)
	return change
}

// States returns the state of every present client, this one included
func (a *Awareness) States() map[string]PeerState {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]PeerState, len(a.states))
	for id, e := range a.states {
		if e.state != nil {
			out[id] = *cloneState(e.state)
		}
	}
	return out
}

// EncodeAll returns an update with every known client, used to bring a newly
// connected peer up to date.
func (a *Awareness) EncodeAll() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(a.states))
	for id := range a.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	u := AwarenessUpdate{Clients: make([]AwarenessClient, 0, len(ids))}
	for _, id := range ids {
		e := a.states[id]
		if e.state == nil {
			continue
		}
		u.Clients = append(u.Clients, AwarenessClient{ID: id, Clock: e.clock, State: cloneState(e.state)})
	}
	return json.Marshal(&u)
}

func (a *Awareness) listeners() []func(AwarenessChange) {
	out := make([]func(AwarenessChange), 0, len(a.handlers))
	for _, fn := range a.handlers {
		out = append(out, fn)
	}
	return out
}

func notify(handlers []func(AwarenessChange), change AwarenessChange) {
	if len(change.Added)+len(change.Updated)+len(change.Removed) == 0 {
		return
	}
	for _, fn := range handlers {
		fn(change)
	}
}

func cloneState(s *PeerState) *PeerState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Cursor != nil {
		c := *s.Cursor
		out.Cursor = &c
	}
	return &out
}
