package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture records every update a doc emits
func capture(d *Doc) *[][]byte {
	var updates [][]byte
	d.OnUpdate(func(update []byte, origin interface{}, local bool) {
		if local {
			updates = append(updates, update)
		}
	})
	return &updates
}

func set(t *testing.T, d *Doc, key string, rec Record) {
	t.Helper()
	require.NoError(t, d.Transact("test", func(tx *Txn) error {
		return tx.Set(key, rec)
	}))
}

func TestStamp_After(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Stamp
		expected bool
	}{
		{"higher clock wins", Stamp{Clock: 2, Node: "a"}, Stamp{Clock: 1, Node: "z"}, true},
		{"lower clock loses", Stamp{Clock: 1, Node: "z"}, Stamp{Clock: 2, Node: "a"}, false},
		{"equal clock higher node wins", Stamp{Clock: 3, Node: "b"}, Stamp{Clock: 3, Node: "a"}, true},
		{"identical is not after", Stamp{Clock: 3, Node: "a"}, Stamp{Clock: 3, Node: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.a.After(tt.b))
		})
	}
}

func TestLamportClock_TickAndObserve(t *testing.T) {
	clock := NewLamportClockWithNodeID("node-1")

	assert.Equal(t, Stamp{Clock: 1, Node: "node-1"}, clock.Tick())
	clock.Observe(10)
	assert.Equal(t, int64(10), clock.Now())
	clock.Observe(3)
	assert.Equal(t, int64(10), clock.Now(), "Observe never moves the clock backwards")
	assert.Equal(t, int64(11), clock.Tick().Clock)
}

func TestDoc_TransactEmitsOneUpdate(t *testing.T) {
	d := NewDoc("a")
	updates := capture(d)

	var events []Event
	d.Observe(func(ev Event) { events = append(events, ev) })

	require.NoError(t, d.Transact("local", func(tx *Txn) error {
		if err := tx.Set("s1", Record{"type": "rect", "x": 1.0}); err != nil {
			return err
		}
		return tx.Set("s2", Record{"type": "text"})
	}))

	assert.Len(t, *updates, 1, "one transaction is one update")
	require.Len(t, events, 1)
	assert.True(t, events[0].Local)
	assert.Equal(t, "local", events[0].Origin)
	assert.Equal(t, ActionAdd, events[0].Changes["s1"].Action)
	assert.Equal(t, ActionAdd, events[0].Changes["s2"].Action)
	assert.Equal(t, 2, d.Len())
}

func TestDoc_SetOnlyWritesChangedFields(t *testing.T) {
	d := NewDoc("a")
	set(t, d, "s1", Record{"type": "rect", "x": 1.0, "y": 2.0})

	updates := capture(d)
	set(t, d, "s1", Record{"type": "rect", "x": 5.0, "y": 2.0})

	require.Len(t, *updates, 1)
	other := NewDoc("b")
	require.NoError(t, other.ApplyUpdate((*updates)[0], "remote"))
	// the update only carried x, so b sees a record without a presence op
	assert.Nil(t, other.Get("s1"))

	assert.Equal(t, Record{"type": "rect", "x": 5.0, "y": 2.0}, d.Get("s1"))
}

func TestDoc_SetClearsMissingFields(t *testing.T) {
	d := NewDoc("a")
	set(t, d, "s1", Record{"type": "rect", "x": 1.0, "label": "hi"})
	set(t, d, "s1", Record{"type": "rect", "x": 1.0})

	assert.Equal(t, Record{"type": "rect", "x": 1.0}, d.Get("s1"))
}

func TestDoc_DeleteAndIdempotentApply(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	updates := capture(a)

	set(t, a, "s1", Record{"type": "rect"})
	require.NoError(t, a.Transact("local", func(tx *Txn) error {
		tx.Delete("s1")
		tx.Delete("missing")
		return nil
	}))
	require.Len(t, *updates, 2)

	for i := 0; i < 2; i++ {
		for _, u := range *updates {
			require.NoError(t, b.ApplyUpdate(u, "remote"))
		}
	}
	assert.Nil(t, b.Get("s1"))
	assert.Equal(t, 0, b.Len())
}

func TestDoc_RemoteEventsAreNotLocal(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	updates := capture(a)
	set(t, a, "s1", Record{"type": "rect", "x": 0.0})

	var events []Event
	b.Observe(func(ev Event) { events = append(events, ev) })
	require.NoError(t, b.ApplyUpdate((*updates)[0], "peer"))
	require.NoError(t, b.ApplyUpdate((*updates)[0], "peer"))

	require.Len(t, events, 1, "a duplicate update changes nothing and emits nothing")
	assert.False(t, events[0].Local)
	assert.Equal(t, "peer", events[0].Origin)
	assert.Equal(t, ActionAdd, events[0].Changes["s1"].Action)
}

func TestDoc_ConvergesAcrossInterleavings(t *testing.T) {
	a := NewDoc("a")
	b := NewDoc("b")
	ua := capture(a)
	ub := capture(b)

	// concurrent edits: different fields of s1, the same field x, and a
	// delete racing an update on s2
	set(t, a, "s1", Record{"type": "rect", "x": 1.0, "y": 1.0})
	set(t, a, "s2", Record{"type": "note"})
	set(t, b, "s1", Record{"type": "rect", "x": 2.0, "rotation": 0.5})
	set(t, b, "s2", Record{"type": "note", "x": 9.0})
	require.NoError(t, a.Transact("local", func(tx *Txn) error {
		tx.Delete("s2")
		return nil
	}))
	set(t, b, "s3", Record{"type": "pencil", "props": map[string]interface{}{"points": []interface{}{1.0, 2.0}}})

	all := append(append([][]byte{}, *ua...), *ub...)
	orders := [][]int{
		{0, 1, 2, 3, 4, 5},
		{5, 4, 3, 2, 1, 0},
		{3, 0, 5, 2, 4, 1},
		{2, 5, 0, 4, 1, 3},
	}
	require.Len(t, all, 6)

	var reference map[string]Record
	for i, order := range orders {
		replica := NewDoc("r")
		for _, idx := range order {
			require.NoError(t, replica.ApplyUpdate(all[idx], "remote"))
		}
		// replaying everything again must not change the result
		for _, u := range all {
			require.NoError(t, replica.ApplyUpdate(u, "remote"))
		}
		state := replica.All()
		if i == 0 {
			reference = state
			continue
		}
		assert.Equal(t, reference, state, "order %v diverged", order)
	}

	require.Contains(t, reference, "s1")
	assert.Equal(t, 1.0, reference["s1"]["y"], "a's y survives b's concurrent write to other fields")
	assert.Equal(t, 0.5, reference["s1"]["rotation"])
	assert.Contains(t, []interface{}{1.0, 2.0}, reference["s1"]["x"])
	assert.Contains(t, reference, "s3")
}

func TestDoc_EncodeStateBringsReplicaUpToDate(t *testing.T) {
	a := NewDoc("a")
	set(t, a, "s1", Record{"type": "rect", "x": 3.0})
	set(t, a, "s2", Record{"type": "text"})
	require.NoError(t, a.Transact(nil, func(tx *Txn) error {
		tx.Delete("s2")
		return nil
	}))

	state, err := a.EncodeState()
	require.NoError(t, err)

	b := NewDoc("b")
	require.NoError(t, b.ApplyUpdate(state, "sync"))
	assert.Equal(t, a.All(), b.All())

	// b's next write must win over a's older ones
	set(t, b, "s1", Record{"type": "rect", "x": 4.0})
	bs, err := b.EncodeState()
	require.NoError(t, err)
	require.NoError(t, a.ApplyUpdate(bs, "sync"))
	assert.Equal(t, 4.0, a.Get("s1")["x"])
}

func TestDoc_ApplyUpdateRejectsGarbage(t *testing.T) {
	d := NewDoc("a")
	assert.Error(t, d.ApplyUpdate([]byte("not json"), nil))
}
