package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatSession aggregates chat spend for one user and book.
type ChatSession struct {
	ID                uuid.UUID  `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID            string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_sessions_user_book,priority:1" json:"user_id"`
	BookID            string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_sessions_user_book,priority:2" json:"book_id"`
	MessageCount      int64      `gorm:"not null;default:0" json:"message_count"`
	TotalCreditsSpent int64      `gorm:"not null;default:0" json:"total_credits_spent"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

func (s *ChatSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
