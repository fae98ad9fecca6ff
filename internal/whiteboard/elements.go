package whiteboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"studyboard-backend/internal/models"
	"studyboard-backend/internal/repo"

	"github.com/google/uuid"
)

// ElementService owns the mutation protocol against a board's element list.
type ElementService struct {
	boards   repo.BoardRepoInterface
	elements repo.BoardElementRepoInterface
}

func NewElementService(boards repo.BoardRepoInterface, elements repo.BoardElementRepoInterface) *ElementService {
	return &ElementService{boards: boards, elements: elements}
}

// UpdateResult describes an accepted update and what to broadcast for it.
type UpdateResult struct {
	ElementID string
	// Patch is the sanitized patch that was applied.
	Patch models.Element
	// Element is the complete current element, set when Full is true.
	Element models.Element
	Full    bool
	// Created is true when this update materialized the element.
	Created bool
}

func validateElement(el models.Element) error {
	if el.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedElement)
	}
	if !el.Type().Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedElement, el[models.FieldType])
	}
	return nil
}

func validatePatch(elementId string, patch models.Element) error {
	if elementId == "" {
		return fmt.Errorf("%w: missing element id", ErrMalformedElement)
	}
	if len(patch) == 0 {
		return fmt.Errorf("%w: empty patch", ErrMalformedElement)
	}
	if _, ok := patch[models.FieldType]; ok && !patch.Type().Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedElement, patch[models.FieldType])
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorage, err)
}

// Create inserts the element. A second create with the same id (a retried
// request, or an element already materialized by an update) only fills in
// the fields the stored element lacks, so the element is never duplicated
// and an update that arrived first is kept.
func (s *ElementService) Create(ctx context.Context, boardId uuid.UUID, userId string, element models.Element) (models.Element, error) {
	if err := validateElement(element); err != nil {
		return nil, err
	}
	el := element.Clone()
	now := time.Now().UTC()
	el[models.FieldCreatedBy] = userId
	el[models.FieldCreatedAt] = now
	el[models.FieldUpdatedAt] = now

	inserted, err := s.elements.InsertIfAbsent(ctx, boardId, el, userId)
	if err != nil {
		return nil, storageErr("create element", err)
	}
	if !inserted {
		// fields already stored (from a retry or an earlier update) win
		filled, err := s.elements.FillIfExists(ctx, boardId, el.ID(), el)
		if err != nil {
			return nil, storageErr("create element", err)
		}
		if !filled {
			return nil, fmt.Errorf("create element %s: board %s: %w", el.ID(), boardId, ErrNotFound)
		}
		log.Printf("create of existing element %s on board %s filled missing fields", el.ID(), boardId)
	}
	s.touch(ctx, boardId)

	current, err := s.elements.GetElement(ctx, boardId, el.ID())
	if err != nil {
		// the write is in; fall back to what the caller sent
		log.Println(err, "Error reading back created element")
		return el.Sanitized(), nil
	}
	return current.Sanitized(), nil
}

// Update applies a field patch with the three-step conditional protocol:
// patch if present, else insert from the patch if absent, else (a concurrent
// caller inserted first) patch once more. Only a miss on the last step means
// the board itself is gone.
func (s *ElementService) Update(ctx context.Context, boardId uuid.UUID, userId string, elementId string, patch models.Element) (*UpdateResult, error) {
	if err := validatePatch(elementId, patch); err != nil {
		return nil, err
	}
	clean := patch.Clone()
	delete(clean, models.FieldID)
	for _, k := range []string{models.FieldVersion, models.FieldCreatedAt, models.FieldUpdatedAt, models.FieldCreatedBy, models.FieldUpdatedBy} {
		delete(clean, k)
	}

	result := &UpdateResult{ElementID: elementId, Patch: clean}

	patched, err := s.elements.PatchIfExists(ctx, boardId, elementId, clean, userId)
	if err != nil {
		return nil, storageErr("update element", err)
	}
	if !patched {
		implicit := clean.Clone()
		implicit[models.FieldID] = elementId
		inserted, err := s.elements.InsertIfAbsent(ctx, boardId, implicit, userId)
		if err != nil {
			return nil, storageErr("update element", err)
		}
		if inserted {
			result.Created = true
		} else {
			patched, err = s.elements.PatchIfExists(ctx, boardId, elementId, clean, userId)
			if err != nil {
				return nil, storageErr("update element", err)
			}
			if !patched {
				return nil, fmt.Errorf("update element %s: board %s: %w", elementId, boardId, ErrNotFound)
			}
		}
	}
	s.touch(ctx, boardId)

	current, err := s.elements.GetElement(ctx, boardId, elementId)
	if err != nil {
		if errors.Is(err, repo.ErrElementNotFound) {
			// deleted right after our write; broadcast the patch alone
			return result, nil
		}
		log.Println(err, "Error reading back updated element")
		return result, nil
	}
	if current.Type().BroadcastMode() == models.BroadcastFull {
		result.Full = true
		result.Element = current.Sanitized()
	}
	return result, nil
}

// Delete removes the element. Deleting an absent element succeeds.
func (s *ElementService) Delete(ctx context.Context, boardId uuid.UUID, elementId string) error {
	if elementId == "" {
		return fmt.Errorf("%w: missing element id", ErrMalformedElement)
	}
	if err := s.elements.DeleteElement(ctx, boardId, elementId); err != nil {
		return storageErr("delete element", err)
	}
	s.touch(ctx, boardId)
	return nil
}

// Snapshot returns the sanitized element list of a board.
func (s *ElementService) Snapshot(ctx context.Context, boardId uuid.UUID) ([]models.Element, error) {
	elements, err := s.elements.GetElements(ctx, boardId)
	if err != nil {
		return nil, storageErr("load elements", err)
	}
	out := make([]models.Element, 0, len(elements))
	for _, el := range elements {
		out = append(out, el.Sanitized())
	}
	return out, nil
}

// Clear drops every element of a board.
func (s *ElementService) Clear(ctx context.Context, boardId uuid.UUID) error {
	if err := s.elements.ClearElements(ctx, boardId); err != nil {
		return storageErr("clear elements", err)
	}
	s.touch(ctx, boardId)
	return nil
}

func (s *ElementService) touch(ctx context.Context, boardId uuid.UUID) {
	if s.boards == nil {
		return
	}
	if err := s.boards.TouchBoard(ctx, boardId); err != nil {
		log.Println(err, "Error touching board")
	}
}
