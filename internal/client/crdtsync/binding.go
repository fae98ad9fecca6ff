// Package crdtsync binds the local store to a replicated document and keeps
// the document connected to the board's relay.
package crdtsync

import (
	"log"
	"sort"

	"studyboard-backend/internal/client/store"
	"studyboard-backend/internal/crdt"
	"studyboard-backend/internal/models"
)

// transaction origins
const (
	originStore = "store"
	originSync  = "sync"
	originPeer  = "peer"
)

// Binding mirrors local store batches into the document and remote document
// transactions into the store.
type Binding struct {
	store     *store.Store
	doc       *crdt.Doc
	unlisten  func()
	unobserve func()
}

func Bind(st *store.Store, doc *crdt.Doc) *Binding {
	b := &Binding{store: st, doc: doc}
	b.unlisten = st.Listen(b.onStoreChange)
	b.unobserve = doc.Observe(b.onDocEvent)
	return b
}

func (b *Binding) Close() {
	b.unlisten()
	b.unobserve()
}

// onStoreChange writes one local batch as one transaction
func (b *Binding) onStoreChange(change store.Change) {
	if change.Origin != store.OriginLocal {
		return
	}
	err := b.doc.Transact(originStore, func(tx *crdt.Txn) error {
		for _, id := range sortedKeys(change.Added) {
			if err := tx.Set(id, crdt.Record(change.Added[id])); err != nil {
				return err
			}
		}
		for id, u := range change.Updated {
			if err := tx.Set(id, crdt.Record(u.To)); err != nil {
				return err
			}
		}
		for id := range change.Removed {
			tx.Delete(id)
		}
		return nil
	})
	if err != nil {
		log.Println("failed to write local change to document:", err)
	}
}

// onDocEvent applies transactions made by other replicas. The initial state
// is handled by InitialSync instead.
func (b *Binding) onDocEvent(ev crdt.Event) {
	if ev.Local || ev.Origin == originSync {
		return
	}
	var puts []models.Element
	var removes []string
	for id, ch := range ev.Changes {
		switch ch.Action {
		case crdt.ActionAdd, crdt.ActionUpdate:
			puts = append(puts, models.Element(ch.New))
		case crdt.ActionDelete:
			removes = append(removes, id)
		}
	}
	if len(puts) > 0 {
		b.store.Put(puts, store.OriginRemote)
	}
	if len(removes) > 0 {
		b.store.Remove(removes, store.OriginRemote)
	}
}

// InitialSync inserts the document records the store does not have yet.
// Records already present locally are left untouched.
func (b *Binding) InitialSync() int {
	var missing []models.Element
	for id, rec := range b.doc.All() {
		if _, ok := b.store.Get(id); ok {
			continue
		}
		el := models.Element(rec)
		if el.ID() == "" {
			el[models.FieldID] = id
		}
		missing = append(missing, el)
	}
	if len(missing) > 0 {
		b.store.Put(missing, store.OriginRemote)
	}
	return len(missing)
}

func sortedKeys(m map[string]models.Element) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
