package repo

import (
	"context"
	"errors"
	"studyboard-backend/internal/models"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocSnapshotRepoInterface persists encoded replicated documents
type DocSnapshotRepoInterface interface {
	SaveSnapshot(ctx context.Context, boardId uuid.UUID, state []byte) error
	// LoadSnapshot returns ErrSnapshotNotFound when nothing was flushed yet
	LoadSnapshot(ctx context.Context, boardId uuid.UUID) ([]byte, error)
}

type DocSnapshotRepo struct {
	db *gorm.DB
}

func NewDocSnapshotRepository(db *gorm.DB) DocSnapshotRepoInterface {
	return &DocSnapshotRepo{db: db}
}

func (r *DocSnapshotRepo) SaveSnapshot(ctx context.Context, boardId uuid.UUID, state []byte) error {
	snapshot := &models.DocSnapshot{
		BoardID:   boardId,
		State:     state,
		Size:      len(state),
		UpdatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"state", "size", "updated_at"}),
	}).Create(snapshot).Error
}

func (r *DocSnapshotRepo) LoadSnapshot(ctx context.Context, boardId uuid.UUID) ([]byte, error) {
	var snapshot models.DocSnapshot
	err := r.db.WithContext(ctx).Where("board_id = ?", boardId).First(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return snapshot.State, nil
}
