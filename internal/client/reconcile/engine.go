// Package reconcile keeps a client's local store and the server's element
// list in step over the room protocol.
package reconcile

import (
	"context"
	"log"
	"reflect"
	"sync"
	"time"

	"studyboard-backend/internal/client/store"
	"studyboard-backend/internal/models"
	"studyboard-backend/internal/protocol"
)

// Transport carries requests to the server and waits for their ack
type Transport interface {
	Join(ctx context.Context, boardId string) (*protocol.JoinRoomResult, error)
	Create(ctx context.Context, boardId string, element models.Element) error
	Update(ctx context.Context, boardId, elementId string, patch models.Element) error
	Delete(ctx context.Context, boardId, elementId string) error
}

type Config struct {
	// Throttle is the leading+trailing window for high frequency kinds.
	Throttle time.Duration
	// Debounce is the trailing quiet period for every other kind.
	Debounce time.Duration
	// RequestTimeout bounds one request to the server.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Throttle:       40 * time.Millisecond,
		Debounce:       150 * time.Millisecond,
		RequestTimeout: 10 * time.Second,
	}
}

type pendingPatch struct {
	patch models.Element
	timer *time.Timer
}

type throttleWindow struct {
	trailing bool
	timer    *time.Timer
}

// Engine mirrors local edits to the server and applies server events to the
// store. Local edits are recognized by their store origin, so applying a
// server event can never produce an outgoing request.
type Engine struct {
	store     *store.Store
	transport Transport
	boardId   string
	cfg       Config

	mu        sync.Mutex
	debounced map[string]*pendingPatch
	throttled map[string]*throttleWindow
	joining   bool
	buffered  []*protocol.Message
	drops     int
	closed    bool
	// creates queued or in flight; a join must not sweep them
	creating map[string]int

	outbox   chan func(context.Context)
	quit     chan struct{}
	done     chan struct{}
	unlisten func()
}

func NewEngine(st *store.Store, transport Transport, boardId string, cfg Config) *Engine {
	e := &Engine{
		store:     st,
		transport: transport,
		boardId:   boardId,
		cfg:       cfg,
		debounced: make(map[string]*pendingPatch),
		throttled: make(map[string]*throttleWindow),
		creating:  make(map[string]int),
		outbox:    make(chan func(context.Context), 256),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	e.unlisten = st.Listen(e.onChange)
	go e.sendLoop()
	return e
}

// sendLoop runs requests one at a time so the server sees them in the order
// they were made
func (e *Engine) sendLoop() {
	defer close(e.done)
	for {
		select {
		case req := <-e.outbox:
			e.run(req)
		case <-e.quit:
			// finish what was queued before Close
			for {
				select {
				case req := <-e.outbox:
					e.run(req)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) run(req func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.RequestTimeout)
	defer cancel()
	req(ctx)
}

// enqueue never blocks under e.mu: the transport's reader needs the lock to
// deliver events while the outbox is full.
func (e *Engine) enqueue(req func(context.Context)) bool {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return false
	}
	select {
	case e.outbox <- req:
		return true
	case <-e.quit:
		return false
	}
}

// Close stops listening, drops pending timers and waits for queued requests
func (e *Engine) Close() {
	e.unlisten()
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, p := range e.debounced {
		p.timer.Stop()
		delete(e.debounced, id)
	}
	for id, w := range e.throttled {
		w.timer.Stop()
		delete(e.throttled, id)
	}
	close(e.quit)
	e.mu.Unlock()
	<-e.done
}

// Join enters the room and replaces the store contents with the server's
// snapshot. Events arriving before the snapshot are applied after it.
func (e *Engine) Join(ctx context.Context) (*protocol.JoinRoomResult, error) {
	e.mu.Lock()
	e.joining = true
	e.mu.Unlock()

	res, err := e.transport.Join(ctx, e.boardId)
	if err != nil {
		e.mu.Lock()
		e.joining = false
		e.buffered = nil
		e.mu.Unlock()
		return nil, err
	}

	present := make(map[string]struct{}, len(res.Elements))
	for _, el := range res.Elements {
		present[el.ID()] = struct{}{}
	}
	var stale []string
	e.mu.Lock()
	for _, el := range e.store.All() {
		if _, ok := present[el.ID()]; ok {
			continue
		}
		if e.creating[el.ID()] > 0 {
			// not on the server yet
			continue
		}
		stale = append(stale, el.ID())
	}
	e.mu.Unlock()
	e.store.Put(res.Elements, store.OriginRemote)
	e.store.Remove(stale, store.OriginRemote)

	for {
		e.mu.Lock()
		queued := e.buffered
		e.buffered = nil
		if len(queued) == 0 {
			e.joining = false
			e.drops = 0
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()
		for _, msg := range queued {
			e.apply(msg)
		}
	}
	return res, nil
}

// Resync re-joins the room to recover from dropped updates
func (e *Engine) Resync(ctx context.Context) error {
	_, err := e.Join(ctx)
	return err
}

// Drops counts element_updated events for unknown elements since the last join
func (e *Engine) Drops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drops
}

// HandleMessage applies one server event to the store
func (e *Engine) HandleMessage(msg *protocol.Message) {
	e.mu.Lock()
	if e.joining {
		e.buffered = append(e.buffered, msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.apply(msg)
}

func (e *Engine) apply(msg *protocol.Message) {
	switch ev := msg.Data.(type) {
	case *protocol.ElementCreatedEvent:
		if ev.BoardID != e.boardId {
			return
		}
		if _, exists := e.store.Get(ev.Element.ID()); exists {
			return
		}
		e.store.Put([]models.Element{ev.Element}, store.OriginRemote)
	case *protocol.ElementUpdatedEvent:
		if ev.BoardID != e.boardId {
			return
		}
		current, exists := e.store.Get(ev.ElementID)
		if !exists {
			e.mu.Lock()
			e.drops++
			e.mu.Unlock()
			return
		}
		next := current.Merge(ev.Patch)
		if ev.Full {
			next = ev.Element.Clone()
			next[models.FieldID] = ev.ElementID
		}
		e.store.Put([]models.Element{next}, store.OriginRemote)
	case *protocol.ElementDeletedEvent:
		if ev.BoardID != e.boardId {
			return
		}
		e.store.Remove([]string{ev.ElementID}, store.OriginRemote)
	}
}

func (e *Engine) onChange(change store.Change) {
	if change.Origin != store.OriginLocal {
		return
	}
	for _, el := range change.Added {
		e.sendCreate(el)
	}
	for id, u := range change.Updated {
		patch := Diff(u.From, u.To)
		if len(patch) == 0 {
			continue
		}
		if u.To.Type().HighFrequency() {
			e.throttle(id)
		} else {
			e.debounce(id, patch)
		}
	}
	for id := range change.Removed {
		e.cancel(id)
		e.sendDelete(id)
	}
}

// Diff returns the tracked fields that differ between two revisions
func Diff(from, to models.Element) models.Element {
	patch := models.Element{}
	for _, f := range models.TrackedFields {
		a, aok := from[f]
		b, bok := to[f]
		if aok == bok && reflect.DeepEqual(a, b) {
			continue
		}
		patch[f] = b
	}
	return patch
}

func (e *Engine) debounce(id string, patch models.Element) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	p, ok := e.debounced[id]
	if !ok {
		p = &pendingPatch{patch: models.Element{}}
		e.debounced[id] = p
	} else {
		p.timer.Stop()
	}
	for k, v := range patch {
		p.patch[k] = v
	}
	p.timer = time.AfterFunc(e.cfg.Debounce, func() { e.flushDebounced(id, p) })
}

func (e *Engine) flushDebounced(id string, p *pendingPatch) {
	e.mu.Lock()
	if e.debounced[id] != p {
		e.mu.Unlock()
		return
	}
	delete(e.debounced, id)
	patch := p.patch
	e.mu.Unlock()
	e.sendUpdate(id, patch)
}

// throttle sends the full current element at the start of a window and once
// more at its end when further edits arrived meanwhile
func (e *Engine) throttle(id string) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if w, ok := e.throttled[id]; ok {
		w.trailing = true
		e.mu.Unlock()
		return
	}
	w := &throttleWindow{}
	e.throttled[id] = w
	w.timer = time.AfterFunc(e.cfg.Throttle, func() { e.closeWindow(id, w) })
	e.mu.Unlock()
	e.sendFull(id)
}

func (e *Engine) closeWindow(id string, w *throttleWindow) {
	e.mu.Lock()
	if e.throttled[id] != w {
		e.mu.Unlock()
		return
	}
	if !w.trailing {
		delete(e.throttled, id)
		e.mu.Unlock()
		return
	}
	w.trailing = false
	w.timer = time.AfterFunc(e.cfg.Throttle, func() { e.closeWindow(id, w) })
	e.mu.Unlock()
	e.sendFull(id)
}

func (e *Engine) cancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.debounced[id]; ok {
		p.timer.Stop()
		delete(e.debounced, id)
	}
	if w, ok := e.throttled[id]; ok {
		w.timer.Stop()
		delete(e.throttled, id)
	}
}

func (e *Engine) sendCreate(el models.Element) {
	id := el.ID()
	e.mu.Lock()
	e.creating[id]++
	e.mu.Unlock()

	queued := e.enqueue(func(ctx context.Context) {
		defer e.created(id)
		if err := e.transport.Create(ctx, e.boardId, el); err != nil {
			log.Printf("create %s failed: %v", id, err)
		}
	})
	if !queued {
		e.created(id)
	}
}

func (e *Engine) created(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.creating[id]--; e.creating[id] <= 0 {
		delete(e.creating, id)
	}
}

func (e *Engine) sendUpdate(id string, patch models.Element) {
	e.enqueue(func(ctx context.Context) {
		if err := e.transport.Update(ctx, e.boardId, id, patch); err != nil {
			log.Printf("update %s failed: %v", id, err)
		}
	})
}

// sendFull reads the element when the request leaves, not when it is queued
func (e *Engine) sendFull(id string) {
	e.enqueue(func(ctx context.Context) {
		el, ok := e.store.Get(id)
		if !ok {
			return
		}
		patch := el.Clone()
		delete(patch, models.FieldID)
		if err := e.transport.Update(ctx, e.boardId, id, patch); err != nil {
			log.Printf("update %s failed: %v", id, err)
		}
	})
}

func (e *Engine) sendDelete(id string) {
	e.enqueue(func(ctx context.Context) {
		if err := e.transport.Delete(ctx, e.boardId, id); err != nil {
			log.Printf("delete %s failed: %v", id, err)
		}
	})
}
