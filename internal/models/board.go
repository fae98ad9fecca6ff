package models

import (
	"time"

	"github.com/google/uuid"
)

type MemberRole string

const (
	MemberRoleEditor MemberRole = "editor"
	MemberRoleViewer MemberRole = "viewer"
)

// Board represents the database model
type Board struct {
	UUID      uuid.UUID     `gorm:"type:uuid;primarykey" json:"uuid"`
	Title     string        `gorm:"not null" json:"title"`
	OwnerID   uuid.UUID     `gorm:"type:uuid;not null;index" json:"owner_id"`
	IsPublic  bool          `gorm:"not null;default:false" json:"is_public"`
	Members   []BoardMember `gorm:"foreignKey:BoardID;references:UUID" json:"members,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Thumbnail string        `json:"thumbnail"`
}

// BoardMember grants a non-owner access to a board
type BoardMember struct {
	BoardID   uuid.UUID  `gorm:"type:uuid;primaryKey" json:"board_id"`
	UserID    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	Role      MemberRole `gorm:"not null;default:'editor'" json:"role"`
	CreatedAt time.Time  `json:"created_at"`
}

// CanAccess reports whether userID may join the board's room.
func (b *Board) CanAccess(userID uuid.UUID) bool {
	if b.IsPublic || b.OwnerID == userID {
		return true
	}
	for _, m := range b.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// CanEdit reports whether userID may change the board's elements. A member
// with the viewer role only watches, even on a public board.
func (b *Board) CanEdit(userID uuid.UUID) bool {
	if b.OwnerID == userID {
		return true
	}
	for _, m := range b.Members {
		if m.UserID == userID {
			return m.Role != MemberRoleViewer
		}
	}
	return b.IsPublic
}
