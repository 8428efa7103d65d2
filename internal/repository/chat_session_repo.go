package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrChatSessionNotFound = errors.New("chat session not found")

type ChatSessionRepository struct {
	db *gorm.DB
}

func NewChatSessionRepository(db *gorm.DB) *ChatSessionRepository {
	return &ChatSessionRepository{db: db}
}

func (r *ChatSessionRepository) GetByUserAndBook(ctx context.Context, userID, bookID string) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *ChatSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ChatSession, error) {
	var session model.ChatSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// GetOrCreate inserts the (user, book) session unless it exists and returns
// the stored row. A concurrent insert loses on the unique index and falls
// through to the fetch.
func (r *ChatSessionRepository) GetOrCreate(ctx context.Context, userID, bookID string) (*model.ChatSession, error) {
	session, err := r.GetByUserAndBook(ctx, userID, bookID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrChatSessionNotFound) {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
			DoNothing: true,
		}).
		Create(&model.ChatSession{UserID: userID, BookID: bookID}).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserAndBook(ctx, userID, bookID)
}

// IncrementUsage records one message costing credits in a single UPDATE.
func (r *ChatSessionRepository) IncrementUsage(ctx context.Context, id uuid.UUID, credits int64, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.ChatSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"message_count":       gorm.Expr("message_count + 1"),
			"total_credits_spent": gorm.Expr("total_credits_spent + ?", credits),
			"last_message_at":     at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatSessionNotFound
	}
	return nil
}
