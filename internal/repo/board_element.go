package repo

import (
	"context"
	"encoding/json"
	"errors"
	"studyboard-backend/internal/models"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BoardElementRepoInterface exposes only single-statement conditional writes.
// Each call reports whether its condition matched so callers can build
// race-free protocols on top without multi-statement transactions.
type BoardElementRepoInterface interface {
	// PatchIfExists merges patch into the element when board AND element match.
	PatchIfExists(ctx context.Context, boardId uuid.UUID, elementId string, patch models.Element, userId string) (bool, error)
	// FillIfExists adds the fields of defaults the stored element lacks. Stored fields win.
	FillIfExists(ctx context.Context, boardId uuid.UUID, elementId string, defaults models.Element) (bool, error)
	// InsertIfAbsent inserts the element when the board exists AND the id is free.
	InsertIfAbsent(ctx context.Context, boardId uuid.UUID, element models.Element, userId string) (bool, error)
	// DeleteElement removes the element; absent is not an error.
	DeleteElement(ctx context.Context, boardId uuid.UUID, elementId string) error
	GetElement(ctx context.Context, boardId uuid.UUID, elementId string) (models.Element, error)
	GetElements(ctx context.Context, boardId uuid.UUID) ([]models.Element, error)
	ClearElements(ctx context.Context, boardId uuid.UUID) error
}

type BoardElementRepo struct {
	db *gorm.DB
}

// NewBoardElementRepository returns a new instance of BoardElementRepo
func NewBoardElementRepository(db *gorm.DB) BoardElementRepoInterface {
	return &BoardElementRepo{db: db}
}

// documentFields drops the keys that live in their own columns.
func documentFields(el models.Element) models.Element {
	doc := el.Clone()
	for _, k := range []string{models.FieldVersion, models.FieldCreatedAt, models.FieldUpdatedAt, models.FieldCreatedBy, models.FieldUpdatedBy} {
		delete(doc, k)
	}
	return doc
}

func (r *BoardElementRepo) PatchIfExists(ctx context.Context, boardId uuid.UUID, elementId string, patch models.Element, userId string) (bool, error) {
	doc := documentFields(patch)
	delete(doc, models.FieldID)
	if userId != "" {
		doc[models.FieldUpdatedBy] = userId
	}
	bytes, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		// jsonb || jsonb is a top level merge, which is exactly a field patch
		"data":       gorm.Expr("data || ?::jsonb", string(bytes)),
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if t := patch.Type(); t != "" {
		updates["type"] = t
	}

	result := r.db.WithContext(ctx).Model(&models.BoardElement{}).
		Where("board_id = ? AND element_id = ?", boardId, elementId).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *BoardElementRepo) FillIfExists(ctx context.Context, boardId uuid.UUID, elementId string, defaults models.Element) (bool, error) {
	doc := documentFields(defaults)
	delete(doc, models.FieldID)
	bytes, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}

	updates := map[string]interface{}{
		// right operand wins, so the stored document overrides the defaults
		"data":       gorm.Expr("?::jsonb || data", string(bytes)),
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now(),
	}
	if t := defaults.Type(); t != "" {
		updates["type"] = gorm.Expr("COALESCE(NULLIF(type, ''), ?)", string(t))
	}

	result := r.db.WithContext(ctx).Model(&models.BoardElement{}).
		Where("board_id = ? AND element_id = ?", boardId, elementId).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *BoardElementRepo) InsertIfAbsent(ctx context.Context, boardId uuid.UUID, element models.Element, userId string) (bool, error) {
	doc := documentFields(element)
	bytes, err := json.Marshal(doc)
	if err != nil {
		return false, err
	}
	now := time.Now()

	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO board_elements (board_id, element_id, type, data, version, created_by, created_at, updated_at)
		SELECT ?, ?, ?, ?::jsonb, 1, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM boards WHERE uuid = ?)
		ON CONFLICT (board_id, element_id) DO NOTHING`,
		boardId, element.ID(), string(element.Type()), string(bytes), userId, now, now, boardId,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *BoardElementRepo) DeleteElement(ctx context.Context, boardId uuid.UUID, elementId string) error {
	return r.db.WithContext(ctx).
		Where("board_id = ? AND element_id = ?", boardId, elementId).
		Delete(&models.BoardElement{}).Error
}

func (r *BoardElementRepo) GetElement(ctx context.Context, boardId uuid.UUID, elementId string) (models.Element, error) {
	var row models.BoardElement
	err := r.db.WithContext(ctx).
		Where("board_id = ? AND element_id = ?", boardId, elementId).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrElementNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Element()
}

// GetElements returns the board's elements in fractional index order
func (r *BoardElementRepo) GetElements(ctx context.Context, boardId uuid.UUID) ([]models.Element, error) {
	var rows []models.BoardElement
	err := r.db.WithContext(ctx).
		Where("board_id = ?", boardId).
		Order("data->>'index' asc").
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	elements := make([]models.Element, 0, len(rows))
	for i := range rows {
		el, err := rows[i].Element()
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func (r *BoardElementRepo) ClearElements(ctx context.Context, boardId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("board_id = ?", boardId).Delete(&models.BoardElement{}).Error
}

func encodeDocument(doc models.Element) ([]byte, error) {
	return json.Marshal(doc)
}
