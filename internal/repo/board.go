package repo

import (
	"context"
	"errors"
	"studyboard-backend/internal/models"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/google/uuid"
)

// BoardRepo represents the repository for the board model
type BoardRepo struct {
	db *gorm.DB
}

type BoardRepoInterface interface {
	CreateBoard(ctx context.Context, board *models.Board) (uuid.UUID, error)
	GetAllBoards(ctx context.Context) ([]models.Board, error)
	GetBoardByID(ctx context.Context, boardId uuid.UUID) (*models.Board, error)
	AddMember(ctx context.Context, boardId uuid.UUID, userId uuid.UUID, role models.MemberRole) error
	TouchBoard(ctx context.Context, boardId uuid.UUID) error
}

func NewBoardRepository(db *gorm.DB) BoardRepoInterface {
	return &BoardRepo{db: db}
}

// CreateBoard creates a new board in the database
func (r *BoardRepo) CreateBoard(ctx context.Context, board *models.Board) (uuid.UUID, error) {
	if board.UUID == uuid.Nil {
		board.UUID = uuid.New()
	}
	board.CreatedAt = time.Now()
	board.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Create(board).Error
	return board.UUID, err
}

// GetAllBoards returns all boards in the database
func (r *BoardRepo) GetAllBoards(ctx context.Context) ([]models.Board, error) {
	var boards []models.Board
	err := r.db.WithContext(ctx).Preload("Members").Order("updated_at desc").Find(&boards).Error
	return boards, err
}

// GetBoardByID returns the board with its members loaded
func (r *BoardRepo) GetBoardByID(ctx context.Context, boardId uuid.UUID) (*models.Board, error) {
	var board models.Board
	err := r.db.WithContext(ctx).Preload("Members").Where("uuid = ?", boardId).First(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBoardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &board, nil
}

// AddMember grants access to a board, updating the role if already a member
func (r *BoardRepo) AddMember(ctx context.Context, boardId uuid.UUID, userId uuid.UUID, role models.MemberRole) error {
	if _, err := r.GetBoardByID(ctx, boardId); err != nil {
		return err
	}
	member := &models.BoardMember{
		BoardID:   boardId,
		UserID:    userId,
		Role:      role,
		CreatedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(member).Error
}

// TouchBoard bumps updated_at after an accepted element mutation
func (r *BoardRepo) TouchBoard(ctx context.Context, boardId uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Board{}).
		Where("uuid = ?", boardId).
		Update("updated_at", time.Now()).Error
}
