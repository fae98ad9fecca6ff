package repo

import (
	"context"
	"sort"
	"studyboard-backend/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps boards, elements and snapshots in process memory. Every
// method holds the store lock for its whole duration, giving the same
// single-statement atomicity as the SQL repositories.
type MemoryStore struct {
	mu        sync.Mutex
	boards    map[uuid.UUID]*models.Board
	elements  map[uuid.UUID]map[string]*models.BoardElement
	snapshots map[uuid.UUID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		boards:    make(map[uuid.UUID]*models.Board),
		elements:  make(map[uuid.UUID]map[string]*models.BoardElement),
		snapshots: make(map[uuid.UUID][]byte),
	}
}

var (
	_ BoardRepoInterface        = (*MemoryStore)(nil)
	_ BoardElementRepoInterface = (*MemoryStore)(nil)
	_ DocSnapshotRepoInterface  = (*MemoryStore)(nil)
)

func (s *MemoryStore) CreateBoard(ctx context.Context, board *models.Board) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if board.UUID == uuid.Nil {
		board.UUID = uuid.New()
	}
	board.CreatedAt = time.Now()
	board.UpdatedAt = board.CreatedAt
	stored := *board
	stored.Members = append([]models.BoardMember(nil), board.Members...)
	s.boards[board.UUID] = &stored
	return board.UUID, nil
}

func (s *MemoryStore) GetAllBoards(ctx context.Context) ([]models.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	boards := make([]models.Board, 0, len(s.boards))
	for _, b := range s.boards {
		boards = append(boards, *b)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].UpdatedAt.After(boards[j].UpdatedAt) })
	return boards, nil
}

func (s *MemoryStore) GetBoardByID(ctx context.Context, boardId uuid.UUID) (*models.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardId]
	if !ok {
		return nil, ErrBoardNotFound
	}
	out := *b
	out.Members = append([]models.BoardMember(nil), b.Members...)
	return &out, nil
}

func (s *MemoryStore) AddMember(ctx context.Context, boardId uuid.UUID, userId uuid.UUID, role models.MemberRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.boards[boardId]
	if !ok {
		return ErrBoardNotFound
	}
	for i := range b.Members {
		if b.Members[i].UserID == userId {
			b.Members[i].Role = role
			return nil
		}
	}
	b.Members = append(b.Members, models.BoardMember{
		BoardID:   boardId,
		UserID:    userId,
		Role:      role,
		CreatedAt: time.Now(),
	})
	return nil
}

func (s *MemoryStore) TouchBoard(ctx context.Context, boardId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.boards[boardId]; ok {
		b.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) PatchIfExists(ctx context.Context, boardId uuid.UUID, elementId string, patch models.Element, userId string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.elements[boardId][elementId]
	if !ok {
		return false, nil
	}
	current, err := row.Element()
	if err != nil {
		return false, err
	}
	doc := documentFields(patch)
	delete(doc, models.FieldID)
	if userId != "" {
		doc[models.FieldUpdatedBy] = userId
	}
	merged := documentFields(current).Merge(doc)
	data, err := encodeDocument(merged)
	if err != nil {
		return false, err
	}
	row.Data = data
	if t := patch.Type(); t != "" {
		row.Type = t
	}
	row.Version++
	row.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) FillIfExists(ctx context.Context, boardId uuid.UUID, elementId string, defaults models.Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.elements[boardId][elementId]
	if !ok {
		return false, nil
	}
	current, err := row.Element()
	if err != nil {
		return false, err
	}
	stored := documentFields(current)
	if by, ok := current[models.FieldUpdatedBy]; ok {
		stored[models.FieldUpdatedBy] = by
	}
	doc := documentFields(defaults)
	delete(doc, models.FieldID)
	data, err := encodeDocument(doc.Merge(stored))
	if err != nil {
		return false, err
	}
	row.Data = data
	if t := defaults.Type(); t != "" && row.Type == "" {
		row.Type = t
	}
	row.Version++
	row.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) InsertIfAbsent(ctx context.Context, boardId uuid.UUID, element models.Element, userId string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boards[boardId]; !ok {
		return false, nil
	}
	rows, ok := s.elements[boardId]
	if !ok {
		rows = make(map[string]*models.BoardElement)
		s.elements[boardId] = rows
	}
	if _, exists := rows[element.ID()]; exists {
		return false, nil
	}
	data, err := encodeDocument(documentFields(element))
	if err != nil {
		return false, err
	}
	now := time.Now()
	rows[element.ID()] = &models.BoardElement{
		BoardID:   boardId,
		ElementID: element.ID(),
		Type:      element.Type(),
		Data:      data,
		Version:   1,
		CreatedBy: userId,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (s *MemoryStore) DeleteElement(ctx context.Context, boardId uuid.UUID, elementId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.elements[boardId], elementId)
	return nil
}

func (s *MemoryStore) GetElement(ctx context.Context, boardId uuid.UUID, elementId string) (models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.elements[boardId][elementId]
	if !ok {
		return nil, ErrElementNotFound
	}
	return row.Element()
}

func (s *MemoryStore) GetElements(ctx context.Context, boardId uuid.UUID) ([]models.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*models.BoardElement, 0, len(s.elements[boardId]))
	for _, row := range s.elements[boardId] {
		rows = append(rows, row)
	}
	elements := make([]models.Element, 0, len(rows))
	for _, row := range rows {
		el, err := row.Element()
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	sort.SliceStable(elements, func(i, j int) bool {
		ii, _ := elements[i][models.FieldIndex].(string)
		ij, _ := elements[j][models.FieldIndex].(string)
		if ii != ij {
			return ii < ij
		}
		return elements[i].ID() < elements[j].ID()
	})
	return elements, nil
}

func (s *MemoryStore) ClearElements(ctx context.Context, boardId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.elements, boardId)
	return nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, boardId uuid.UUID, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[boardId] = append([]byte(nil), state...)
	return nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, boardId uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.snapshots[boardId]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), state...), nil
}
