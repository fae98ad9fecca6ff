package models

import (
	"time"

	"github.com/google/uuid"
)

// DocSnapshot is the last flushed state of a board's replicated document.
type DocSnapshot struct {
	BoardID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"board_id"`
	State     []byte    `gorm:"type:bytea;not null" json:"-"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DocSnapshot) TableName() string {
	return "board_doc_snapshots"
}
