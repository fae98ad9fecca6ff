package crdtsync

import (
	"sync"
	"testing"

	"studyboard-backend/internal/client/store"
	"studyboard-backend/internal/crdt"
	"studyboard-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replica struct {
	store   *store.Store
	doc     *crdt.Doc
	binding *Binding
}

func newReplica(t *testing.T, id string) *replica {
	t.Helper()
	r := &replica{store: store.New(), doc: crdt.NewDoc(id)}
	r.binding = Bind(r.store, r.doc)
	t.Cleanup(r.binding.Close)
	return r
}

// link forwards local transactions of each replica to the other one
func link(a, b *replica) {
	a.doc.OnUpdate(func(update []byte, _ interface{}, local bool) {
		if local {
			_ = b.doc.ApplyUpdate(update, originPeer)
		}
	})
	b.doc.OnUpdate(func(update []byte, _ interface{}, local bool) {
		if local {
			_ = a.doc.ApplyUpdate(update, originPeer)
		}
	})
}

func TestBinding_LocalBatchIsOneTransaction(t *testing.T) {
	r := newReplica(t, "a")
	var updates int
	r.doc.OnUpdate(func([]byte, interface{}, bool) { updates++ })

	r.store.Put([]models.Element{
		{"id": "s1", "type": "rect", "x": 1},
		{"id": "s2", "type": "text", "x": 2},
	}, store.OriginLocal)

	assert.Equal(t, 1, updates)
	assert.Equal(t, 2, r.doc.Len())
	assert.Equal(t, 1.0, r.doc.Get("s1")["x"])
}

func TestBinding_RemoteStoreChangesStayLocal(t *testing.T) {
	r := newReplica(t, "a")
	r.store.Put([]models.Element{{"id": "s1", "type": "rect"}}, store.OriginRemote)
	assert.Equal(t, 0, r.doc.Len())
}

func TestBinding_NoEcho(t *testing.T) {
	a := newReplica(t, "a")
	b := newReplica(t, "b")
	link(a, b)

	var mu sync.Mutex
	var origins []store.Origin
	a.store.Listen(func(c store.Change) {
		mu.Lock()
		defer mu.Unlock()
		origins = append(origins, c.Origin)
	})

	a.store.Put([]models.Element{{"id": "s1", "type": "rect", "x": 1}}, store.OriginLocal)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []store.Origin{store.OriginLocal}, origins, "own edits never come back")
}

func TestBinding_ReplicasConverge(t *testing.T) {
	a := newReplica(t, "a")
	b := newReplica(t, "b")
	link(a, b)

	a.store.Put([]models.Element{{"id": "s1", "type": "rect", "x": 1}}, store.OriginLocal)
	el, ok := b.store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, 1.0, el["x"])

	b.store.Put([]models.Element{{"id": "s1", "type": "rect", "x": 1.0, "y": 5.0}}, store.OriginLocal)
	el, _ = a.store.Get("s1")
	assert.Equal(t, 5.0, el["y"])

	a.store.Remove([]string{"s1"}, store.OriginLocal)
	_, ok = b.store.Get("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, b.doc.Len())
}

func TestBinding_InitialSyncOnlyInsertsMissing(t *testing.T) {
	source := crdt.NewDoc("server")
	require.NoError(t, source.Transact("seed", func(tx *crdt.Txn) error {
		if err := tx.Set("s1", crdt.Record{"id": "s1", "x": 1.0}); err != nil {
			return err
		}
		return tx.Set("s2", crdt.Record{"id": "s2", "x": 2.0})
	}))
	state, err := source.EncodeState()
	require.NoError(t, err)

	r := newReplica(t, "a")
	r.store.Put([]models.Element{{"id": "s1", "x": 99.0}}, store.OriginRemote)

	require.NoError(t, r.doc.ApplyUpdate(state, originSync))
	_, ok := r.store.Get("s2")
	require.False(t, ok, "initial state is not applied by the observer")

	assert.Equal(t, 1, r.binding.InitialSync())
	el, _ := r.store.Get("s1")
	assert.Equal(t, 99.0, el["x"], "local record kept")
	el, ok = r.store.Get("s2")
	require.True(t, ok)
	assert.Equal(t, 2.0, el["x"])
	assert.Equal(t, 0, r.binding.InitialSync())
}

func TestBinding_CloseStopsMirroring(t *testing.T) {
	r := newReplica(t, "a")
	r.binding.Close()

	r.store.Put([]models.Element{{"id": "s1"}}, store.OriginLocal)
	assert.Equal(t, 0, r.doc.Len())
}
