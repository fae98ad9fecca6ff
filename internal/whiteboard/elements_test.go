package whiteboard

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"studyboard-backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElementService_CreateSanitizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{
		"id": "s1", "type": "rect", "x": 0, "y": 0,
	})
	require.NoError(t, err)

	assert.Equal(t, "s1", created.ID())
	assert.Equal(t, models.Rect, created.Type())
	assert.Equal(t, f.owner, created[models.FieldCreatedBy])
	assert.Equal(t, models.DefaultTypeName, created[models.FieldTypeName])
	assert.Equal(t, models.DefaultOpacity, created[models.FieldOpacity])
	assert.Equal(t, models.DefaultParentID, created[models.FieldParentID])
	assert.Equal(t, models.DefaultIndex, created[models.FieldIndex])
	for _, k := range []string{models.FieldVersion, models.FieldUpdatedBy, models.FieldCreatedAt, models.FieldUpdatedAt} {
		assert.NotContains(t, created, k)
	}
}

func TestElementService_CreateRejectsMalformed(t *testing.T) {
	tests := []struct {
		name    string
		element models.Element
	}{
		{"missing id", models.Element{"type": "rect"}},
		{"missing type", models.Element{"id": "s1"}},
		{"unknown type", models.Element{"id": "s1", "type": "hexagon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.elements.Create(context.Background(), f.board.UUID, f.owner, tt.element)
			assert.ErrorIs(t, err, ErrMalformedElement)

			elements, err := f.elements.Snapshot(context.Background(), f.board.UUID)
			require.NoError(t, err)
			assert.Empty(t, elements)
		})
	}
}

func TestElementService_DuplicateCreateKeepsStoredFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": "s1", "type": "rect", "x": 1, "y": 2})
	require.NoError(t, err)
	second, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": "s1", "type": "rect", "x": 7, "stroke": "#000"})
	require.NoError(t, err)

	elements, err := f.elements.Snapshot(ctx, f.board.UUID)
	require.NoError(t, err)
	require.Len(t, elements, 1)
	assert.Equal(t, 1.0, second[models.FieldX])
	assert.Equal(t, 2.0, elements[0][models.FieldY])
	assert.Equal(t, "#000", elements[0]["stroke"], "missing fields come from the retry")
}

func TestElementService_CreateOnMissingBoard(t *testing.T) {
	f := newFixture(t)
	_, err := f.elements.Create(context.Background(), uuid.New(), f.owner, models.Element{"id": "s1", "type": "rect"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestElementService_UpdateImplicitlyCreates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.elements.Update(ctx, f.board.UUID, f.owner, "s1", models.Element{"x": 10})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Full)

	el, err := f.store.GetElement(ctx, f.board.UUID, "s1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, el[models.FieldX])
	assert.NotContains(t, el, models.FieldType, "an implicit create carries only the patch fields")
}

// A creates s1 while B, who has not seen the create yet, updates it. Both
// orders end in one element holding the merge of the accepted writes.
func TestElementService_CreateUpdateRace(t *testing.T) {
	tests := []struct {
		name        string
		updateFirst bool
	}{
		{"create then update", false},
		{"update then create", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			b := f.addMember(t)

			create := func() {
				_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": "s1", "type": "rect", "x": 0, "y": 0})
				require.NoError(t, err)
			}
			update := func() {
				_, err := f.elements.Update(ctx, f.board.UUID, b, "s1", models.Element{"x": 10})
				require.NoError(t, err)
			}
			if tt.updateFirst {
				update()
				create()
			} else {
				create()
				update()
			}

			elements, err := f.elements.Snapshot(ctx, f.board.UUID)
			require.NoError(t, err)
			require.Len(t, elements, 1)
			el := elements[0]
			assert.Equal(t, "s1", el.ID())
			assert.Equal(t, models.Rect, el.Type())
			assert.Equal(t, 0.0, el[models.FieldY])
			assert.Equal(t, 10.0, el[models.FieldX])
		})
	}
}

func TestElementService_ConcurrentCreateAndUpdateConverge(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		ctx := context.Background()
		b := f.addMember(t)
		id := fmt.Sprintf("s%d", i)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": id, "type": "rect", "x": 0, "y": 0})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.elements.Update(ctx, f.board.UUID, b, id, models.Element{"x": 10})
			assert.NoError(t, err)
		}()
		wg.Wait()

		el, err := f.store.GetElement(ctx, f.board.UUID, id)
		require.NoError(t, err)
		assert.Equal(t, models.Rect, el.Type(), id)
		assert.Equal(t, 10.0, el[models.FieldX], id)
		assert.Equal(t, 0.0, el[models.FieldY], id)
	}
}

func TestElementService_ConcurrentUpdatesOfAbsentElement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.elements.Update(ctx, f.board.UUID, f.owner, "s1", models.Element{fmt.Sprintf("f%d", i): i})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res.Created {
				created++
			}
		}(i)
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, created, "exactly one writer materializes the element")

	el, err := f.store.GetElement(ctx, f.board.UUID, "s1")
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		assert.Equal(t, float64(i), el[fmt.Sprintf("f%d", i)])
	}
}

func TestElementService_UpdateOnMissingBoard(t *testing.T) {
	f := newFixture(t)
	_, err := f.elements.Update(context.Background(), uuid.New(), f.owner, "s1", models.Element{"x": 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestElementService_UpdateBroadcastMode(t *testing.T) {
	tests := []struct {
		kind     models.ElementType
		wantFull bool
	}{
		{models.Rect, false},
		{models.Text, false},
		{models.Pencil, true},
		{models.Highlighter, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{
				"id": "e1", "type": string(tt.kind), "x": 1,
				"props": map[string]any{"points": []any{0, 0}},
			})
			require.NoError(t, err)

			res, err := f.elements.Update(ctx, f.board.UUID, f.owner, "e1", models.Element{
				"props": map[string]any{"points": []any{0, 0, 4, 4}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantFull, res.Full)
			if tt.wantFull {
				assert.Equal(t, 1.0, res.Element[models.FieldX])
				assert.Equal(t, models.DefaultIndex, res.Element[models.FieldIndex])
			} else {
				assert.Nil(t, res.Element)
				assert.Contains(t, res.Patch, models.FieldProps)
			}
		})
	}
}

func TestElementService_UpdateStripsServerFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": "s1", "type": "rect"})
	require.NoError(t, err)

	res, err := f.elements.Update(ctx, f.board.UUID, f.owner, "s1", models.Element{
		"x": 3, "version": 99, "createdBy": "mallory", "id": "other",
	})
	require.NoError(t, err)
	assert.Equal(t, models.Element{"x": 3.0}, res.Patch)

	el, err := f.store.GetElement(ctx, f.board.UUID, "s1")
	require.NoError(t, err)
	assert.Equal(t, f.owner, el[models.FieldCreatedBy])
	assert.Equal(t, f.owner, el[models.FieldUpdatedBy])
	assert.Equal(t, int64(2), el[models.FieldVersion])
}

func TestElementService_UpdateRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.elements.Update(ctx, f.board.UUID, f.owner, "", models.Element{"x": 1})
	assert.ErrorIs(t, err, ErrMalformedElement)
	_, err = f.elements.Update(ctx, f.board.UUID, f.owner, "s1", models.Element{})
	assert.ErrorIs(t, err, ErrMalformedElement)
	_, err = f.elements.Update(ctx, f.board.UUID, f.owner, "s1", models.Element{"type": "blob"})
	assert.ErrorIs(t, err, ErrMalformedElement)
}

func TestElementService_DeleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.elements.Create(ctx, f.board.UUID, f.owner, models.Element{"id": "s1", "type": "note"})
	require.NoError(t, err)

	require.NoError(t, f.elements.Delete(ctx, f.board.UUID, "s1"))
	require.NoError(t, f.elements.Delete(ctx, f.board.UUID, "s1"))
	require.NoError(t, f.elements.Delete(ctx, f.board.UUID, "never-existed"))

	_, err = f.store.GetElement(ctx, f.board.UUID, "s1")
	assert.Error(t, err)
}

func TestElementService_SnapshotOrderAndClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, el := range []models.Element{
		{"id": "c", "type": "rect", "index": "a3"},
		{"id": "a", "type": "rect", "index": "a1"},
		{"id": "b", "type": "rect", "index": "a2"},
	} {
		_, err := f.elements.Create(ctx, f.board.UUID, f.owner, el)
		require.NoError(t, err)
	}

	elements, err := f.elements.Snapshot(ctx, f.board.UUID)
	require.NoError(t, err)
	require.Len(t, elements, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{elements[0].ID(), elements[1].ID(), elements[2].ID()})

	require.NoError(t, f.elements.Clear(ctx, f.board.UUID))
	elements, err = f.elements.Snapshot(ctx, f.board.UUID)
	require.NoError(t, err)
	assert.Empty(t, elements)
}
