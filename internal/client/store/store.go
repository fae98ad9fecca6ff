// Package store is the client side record store the canvas renders from.
// Every change batch is tagged with its origin so sync code can tell the
// user's own edits from edits applied on behalf of the network.
package store

import (
	"reflect"
	"sort"
	"sync"

	"studyboard-backend/internal/models"
)

type Origin string

const (
	// OriginLocal marks edits made by the user of this client.
	OriginLocal Origin = "local"
	// OriginRemote marks edits received from the server or peers.
	OriginRemote Origin = "remote"
)

type Update struct {
	From models.Element
	To   models.Element
}

// Change is one batch delivered to listeners.
type Change struct {
	Origin  Origin
	Added   map[string]models.Element
	Updated map[string]Update
	Removed map[string]models.Element
}

func (c Change) Empty() bool {
	return len(c.Added)+len(c.Updated)+len(c.Removed) == 0
}

type Store struct {
	mu        sync.Mutex
	records   map[string]models.Element
	listeners map[int]func(Change)
	nextID    int
}

func New() *Store {
	return &Store{
		records:   make(map[string]models.Element),
		listeners: make(map[int]func(Change)),
	}
}

// Get returns a copy of the record
func (s *Store) Get(id string) (models.Element, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return el.Clone(), true
}

// All returns copies of every record ordered by id
func (s *Store) All() []models.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Element, 0, len(s.records))
	for _, el := range s.records {
		out = append(out, el.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Put inserts or replaces records. Records identical to the stored value are
// skipped; records without an id are ignored.
func (s *Store) Put(records []models.Element, origin Origin) {
	change := Change{
		Origin:  origin,
		Added:   make(map[string]models.Element),
		Updated: make(map[string]Update),
		Removed: make(map[string]models.Element),
	}

	s.mu.Lock()
	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			continue
		}
		next := rec.Clone()
		prev, exists := s.records[id]
		switch {
		case !exists:
			change.Added[id] = next.Clone()
		case reflect.DeepEqual(prev, next):
			continue
		default:
			change.Updated[id] = Update{From: prev.Clone(), To: next.Clone()}
		}
		s.records[id] = next
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.emit(listeners, change)
}

// Remove deletes records; unknown ids are ignored
func (s *Store) Remove(ids []string, origin Origin) {
	change := Change{
		Origin:  origin,
		Added:   make(map[string]models.Element),
		Updated: make(map[string]Update),
		Removed: make(map[string]models.Element),
	}

	s.mu.Lock()
	for _, id := range ids {
		prev, ok := s.records[id]
		if !ok {
			continue
		}
		delete(s.records, id)
		change.Removed[id] = prev
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.emit(listeners, change)
}

// Listen registers fn for every non-empty change batch. Listeners run on the
// goroutine that made the change, after the store lock is released. The
// returned func unsubscribes.
func (s *Store) Listen(fn func(Change)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) snapshotListeners() []func(Change) {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}

func (s *Store) emit(listeners []func(Change), change Change) {
	if change.Empty() {
		return
	}
	for _, fn := range listeners {
		fn(change)
	}
}
