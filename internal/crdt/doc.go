package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Record is the plain JSON value stored under one key of the map.
type Record = map[string]interface{}

type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// KeyChange describes how one key's visible value changed in a transaction.
type KeyChange struct {
	Action Action
	Old    Record
	New    Record
}

// Event is delivered to observers once per transaction that changed
// something. Local is true for transactions made through Transact on this
// replica.
type Event struct {
	Origin  interface{}
	Local   bool
	Changes map[string]KeyChange
}

// Op is one register write. An op without Field writes the key's presence
// register (Deleted reports removal); an op with Field writes that field's
// register (Deleted clears the field).
type Op struct {
	Key     string          `json:"k"`
	Field   string          `json:"f,omitempty"`
	Value   json.RawMessage `json:"v,omitempty"`
	Deleted bool            `json:"d,omitempty"`
	Stamp   Stamp           `json:"s"`
}

// Update is the unit exchanged between replicas: all ops of one transaction,
// or the whole state.
type Update struct {
	Ops []Op `json:"ops"`
}

type register struct {
	value   json.RawMessage
	deleted bool
	stamp   Stamp
}

type entry struct {
	present register
	fields  map[string]*register
}

func (e *entry) visible() Record {
	if e == nil || e.present.deleted || e.present.stamp == (Stamp{}) {
		return nil
	}
	out := make(Record, len(e.fields))
	for name, reg := range e.fields {
		if reg.deleted {
			continue
		}
		var v interface{}
		if err := json.Unmarshal(reg.value, &v); err != nil {
			continue
		}
		out[name] = v
	}
	return out
}

// Doc is a replicated key -> record map. Each key has a last-writer-wins
// presence register and each field of a record is its own last-writer-wins
// register, so concurrent writes to different fields of one record both
// survive while writes to the same field converge on the newest stamp.
// Applying an update is commutative and idempotent.
type Doc struct {
	mu        sync.Mutex
	clock     *LamportClock
	entries   map[string]*entry
	observers map[int]func(Event)
	onUpdate  map[int]func(update []byte, origin interface{}, local bool)
	nextID    int
}

func NewDoc(clientID string) *Doc {
	return &Doc{
		clock:     NewLamportClockWithNodeID(clientID),
		entries:   make(map[string]*entry),
		observers: make(map[int]func(Event)),
		onUpdate:  make(map[int]func([]byte, interface{}, bool)),
	}
}

func (d *Doc) ClientID() string {
	return d.clock.NodeID()
}

// Observe registers a deep observer on the map. The returned func removes it.
func (d *Doc) Observe(fn func(Event)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// OnUpdate registers a handler receiving the encoded update of every
// transaction, local or remote.
func (d *Doc) OnUpdate(fn func(update []byte, origin interface{}, local bool)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.onUpdate[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.onUpdate, id)
	}
}

// Txn collects the writes of one transaction
type Txn struct {
	doc    *Doc
	ops    []Op
	before map[string]Record
}

// Get returns the visible record as seen inside the transaction
func (tx *Txn) Get(key string) Record {
	return tx.doc.entries[key].visible()
}

// Set writes the record under key. Only fields that differ from the current
// value produce ops; fields missing from record are cleared.
func (tx *Txn) Set(key string, record Record) error {
	e := tx.doc.entries[key]
	if e == nil || e.present.deleted || e.present.stamp == (Stamp{}) {
		tx.write(Op{Key: key, Stamp: tx.doc.clock.Tick()})
		e = tx.doc.entries[key]
	}

	names := make([]string, 0, len(record))
	for name := range record {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := json.Marshal(record[name])
		if err != nil {
			return fmt.Errorf("encode field %s of %s: %w", name, key, err)
		}
		if reg, ok := e.fields[name]; ok && !reg.deleted && bytes.Equal(reg.value, b) {
			continue
		}
		tx.write(Op{Key: key, Field: name, Value: b, Stamp: tx.doc.clock.Tick()})
	}
	for name, reg := range e.fields {
		if _, ok := record[name]; ok || reg.deleted {
			continue
		}
		tx.write(Op{Key: key, Field: name, Deleted: true, Stamp: tx.doc.clock.Tick()})
	}
	return nil
}

// Delete removes key. Deleting an absent key writes nothing.
func (tx *Txn) Delete(key string) {
	if tx.doc.entries[key].visible() == nil {
		return
	}
	tx.write(Op{Key: key, Deleted: true, Stamp: tx.doc.clock.Tick()})
}

func (tx *Txn) write(op Op) {
	if _, ok := tx.before[op.Key]; !ok {
		tx.before[op.Key] = tx.doc.entries[op.Key].visible()
	}
	tx.doc.apply(op)
	tx.ops = append(tx.ops, op)
}

// Transact runs fn as one atomic transaction. Observers see one event and
// peers receive one update for all writes made inside fn.
func (d *Doc) Transact(origin interface{}, fn func(tx *Txn) error) error {
	d.mu.Lock()
	tx := &Txn{doc: d, before: make(map[string]Record)}
	err := fn(tx)
	if len(tx.ops) == 0 {
		d.mu.Unlock()
		return err
	}
	changes := d.diff(tx.before)
	observers, handlers := d.listeners()
	d.mu.Unlock()

	encoded, encErr := json.Marshal(&Update{Ops: tx.ops})
	d.emit(observers, handlers, Event{Origin: origin, Local: true, Changes: changes}, encoded, encErr)
	return err
}

// ApplyUpdate merges a remote update. Ops already known are no-ops.
func (d *Doc) ApplyUpdate(data []byte, origin interface{}) error {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	d.mu.Lock()
	before := make(map[string]Record)
	for _, op := range u.Ops {
		if _, ok := before[op.Key]; !ok {
			before[op.Key] = d.entries[op.Key].visible()
		}
	}
	applied := make([]Op, 0, len(u.Ops))
	for _, op := range u.Ops {
		d.clock.Observe(op.Stamp.Clock)
		if d.apply(op) {
			applied = append(applied, op)
		}
	}
	if len(applied) == 0 {
		d.mu.Unlock()
		return nil
	}
	changes := d.diff(before)
	observers, handlers := d.listeners()
	d.mu.Unlock()

	encoded, encErr := json.Marshal(&Update{Ops: applied})
	d.emit(observers, handlers, Event{Origin: origin, Local: false, Changes: changes}, encoded, encErr)
	return nil
}

// apply merges one op and reports whether it won its register
func (d *Doc) apply(op Op) bool {
	e, ok := d.entries[op.Key]
	if !ok {
		e = &entry{fields: make(map[string]*register)}
		d.entries[op.Key] = e
	}
	if op.Field == "" {
		if !op.Stamp.After(e.present.stamp) {
			return false
		}
		e.present = register{deleted: op.Deleted, stamp: op.Stamp}
		return true
	}
	reg, ok := e.fields[op.Field]
	if ok && !op.Stamp.After(reg.stamp) {
		return false
	}
	e.fields[op.Field] = &register{value: op.Value, deleted: op.Deleted, stamp: op.Stamp}
	return true
}

// diff compares the visible value captured before a batch with the
// current one for every touched key.
func (d *Doc) diff(before map[string]Record) map[string]KeyChange {
	changes := make(map[string]KeyChange)
	for key, old := range before {
		cur := d.entries[key].visible()
		switch {
		case old == nil && cur == nil:
		case old == nil:
			changes[key] = KeyChange{Action: ActionAdd, New: cur}
		case cur == nil:
			changes[key] = KeyChange{Action: ActionDelete, Old: old}
		case !sameRecord(old, cur):
			changes[key] = KeyChange{Action: ActionUpdate, Old: old, New: cur}
		}
	}
	return changes
}

func sameRecord(a, b Record) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

func (d *Doc) listeners() ([]func(Event), []func([]byte, interface{}, bool)) {
	observers := make([]func(Event), 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	handlers := make([]func([]byte, interface{}, bool), 0, len(d.onUpdate))
	for _, fn := range d.onUpdate {
		handlers = append(handlers, fn)
	}
	return observers, handlers
}

func (d *Doc) emit(observers []func(Event), handlers []func([]byte, interface{}, bool), ev Event, encoded []byte, encErr error) {
	if len(ev.Changes) > 0 {
		for _, fn := range observers {
			fn(ev)
		}
	}
	if encErr != nil {
		return
	}
	for _, fn := range handlers {
		fn(encoded, ev.Origin, ev.Local)
	}
}

// Get returns the visible record under key, or nil
func (d *Doc) Get(key string) Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries[key].visible()
}

// All returns every visible record keyed by id
func (d *Doc) All() map[string]Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]Record, len(d.entries))
	for key, e := range d.entries {
		if v := e.visible(); v != nil {
			out[key] = v
		}
	}
	return out
}

// Len counts visible records
func (d *Doc) Len() int {
	return len(d.All())
}

// EncodeState returns every register, tombstones included, as one update.
// Applying it to any replica brings that replica up to date.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	keys := make([]string, 0, len(d.entries))
	for key := range d.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	u := Update{Ops: make([]Op, 0, len(keys))}
	for _, key := range keys {
		e := d.entries[key]
		if e.present.stamp != (Stamp{}) {
			u.Ops = append(u.Ops, Op{Key: key, Deleted: e.present.deleted, Stamp: e.present.stamp})
		}
		names := make([]string, 0, len(e.fields))
		for name := range e.fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			reg := e.fields[name]
			u.Ops = append(u.Ops, Op{Key: key, Field: name, Value: reg.value, Deleted: reg.deleted, Stamp: reg.stamp})
		}
	}
	return json.Marshal(&u)
}
