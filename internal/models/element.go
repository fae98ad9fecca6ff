package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ElementType string

const (
	Rect        ElementType = "rect"
	Circle      ElementType = "circle"
	Line        ElementType = "line"
	Arrow       ElementType = "arrow"
	Text        ElementType = "text"
	Note        ElementType = "note"
	Image       ElementType = "image"
	Frame       ElementType = "frame"
	Pencil      ElementType = "pencil"
	Highlighter ElementType = "highlighter"
)

// BroadcastMode tells the room how an update to an element is fanned out.
type BroadcastMode int

const (
	// BroadcastPatch sends only the fields that changed.
	BroadcastPatch BroadcastMode = iota
	// BroadcastFull sends the complete element after every update. Used for
	// kinds whose edits accumulate (stroke points) so receivers never rebuild
	// a partial path from patches.
	BroadcastFull
)

var elementTypes = map[ElementType]BroadcastMode{
	Rect:        BroadcastPatch,
	Circle:      BroadcastPatch,
	Line:        BroadcastPatch,
	Arrow:       BroadcastPatch,
	Text:        BroadcastPatch,
	Note:        BroadcastPatch,
	Image:       BroadcastPatch,
	Frame:       BroadcastPatch,
	Pencil:      BroadcastFull,
	Highlighter: BroadcastFull,
}

// Valid reports whether t is one of the known element kinds.
func (t ElementType) Valid() bool {
	_, ok := elementTypes[t]
	return ok
}

// BroadcastMode returns the fan-out policy for updates of this kind. Unknown
// kinds, including the empty kind of an implicitly created element, use patches.
func (t ElementType) BroadcastMode() BroadcastMode {
	return elementTypes[t]
}

// HighFrequency reports whether edits of this kind arrive per pointer move.
func (t ElementType) HighFrequency() bool {
	return t.BroadcastMode() == BroadcastFull
}

// Element field names shared by the server, the protocol and the clients.
const (
	FieldID        = "id"
	FieldType      = "type"
	FieldTypeName  = "typeName"
	FieldX         = "x"
	FieldY         = "y"
	FieldRotation  = "rotation"
	FieldOpacity   = "opacity"
	FieldIsLocked  = "isLocked"
	FieldProps     = "props"
	FieldMeta      = "meta"
	FieldIndex     = "index"
	FieldParentID  = "parentId"
	FieldCreatedBy = "createdBy"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldUpdatedBy = "updatedBy"
	FieldVersion   = "version"
)

// Display defaults applied when an element crosses the wire.
const (
	DefaultTypeName = "shape"
	DefaultOpacity  = 1.0
	DefaultParentID = "page:page"
	DefaultIndex    = "a1"
)

// storageOnlyFields never leave the server.
var storageOnlyFields = []string{FieldVersion, FieldUpdatedBy, FieldCreatedAt, FieldUpdatedAt}

// TrackedFields is the field set compared when diffing element revisions.
var TrackedFields = []string{
	FieldType, FieldX, FieldY, FieldRotation, FieldOpacity, FieldIsLocked,
	FieldProps, FieldMeta, FieldIndex, FieldParentID,
}

// Element is a visual object on a board. It is kept as a free-form field bag
// so that shallow patches can be merged without knowing every variant.
type Element map[string]any

// ID returns the element id or "" when missing.
func (e Element) ID() string {
	id, _ := e[FieldID].(string)
	return id
}

// Type returns the element kind or "" when missing.
func (e Element) Type() ElementType {
	switch t := e[FieldType].(type) {
	case string:
		return ElementType(t)
	case ElementType:
		return t
	}
	return ""
}

// Clone returns a deep copy through a JSON round trip so nested props and
// meta bags never alias between callers.
func (e Element) Clone() Element {
	if e == nil {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		out := make(Element, len(e))
		for k, v := range e {
			out[k] = v
		}
		return out
	}
	var out Element
	_ = json.Unmarshal(b, &out)
	return out
}

// Merge applies a shallow field patch and returns the result as a new element.
func (e Element) Merge(patch Element) Element {
	out := e.Clone()
	if out == nil {
		out = Element{}
	}
	for k, v := range patch.Clone() {
		out[k] = v
	}
	return out
}

// Sanitized strips storage-only fields and defaults the display fields a
// receiver's local store expects to be present.
func (e Element) Sanitized() Element {
	out := e.Clone()
	if out == nil {
		out = Element{}
	}
	for _, k := range storageOnlyFields {
		delete(out, k)
	}
	if _, ok := out[FieldTypeName]; !ok {
		out[FieldTypeName] = DefaultTypeName
	}
	if _, ok := out[FieldOpacity]; !ok {
		out[FieldOpacity] = DefaultOpacity
	}
	if p, _ := out[FieldParentID].(string); p == "" {
		out[FieldParentID] = DefaultParentID
	}
	if i, _ := out[FieldIndex].(string); i == "" {
		out[FieldIndex] = DefaultIndex
	}
	return out
}

// BoardElement is the persisted row of one element. Data holds the element
// document; patches are merged into it at the top level.
type BoardElement struct {
	BoardID   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"board_id"`
	ElementID string         `gorm:"primaryKey" json:"element_id"`
	Type      ElementType    `json:"type"`
	Data      datatypes.JSON `gorm:"type:jsonb;not null" json:"data"`
	Version   int64          `gorm:"not null;default:1" json:"version"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Element decodes the row into an element document with the audit columns
// folded back in.
func (r *BoardElement) Element() (Element, error) {
	var el Element
	if err := json.Unmarshal(r.Data, &el); err != nil {
		return nil, err
	}
	if el == nil {
		el = Element{}
	}
	el[FieldID] = r.ElementID
	el[FieldVersion] = r.Version
	el[FieldCreatedAt] = r.CreatedAt
	el[FieldUpdatedAt] = r.UpdatedAt
	if r.CreatedBy != "" {
		el[FieldCreatedBy] = r.CreatedBy
	}
	return el, nil
}
