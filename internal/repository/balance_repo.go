package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound     = errors.New("credit balance not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Create provisions an empty balance row. It reports false when the row
// already existed.
func (r *BalanceRepository) Create(ctx context.Context, tx *gorm.DB, userID, email string) (bool, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(&model.CreditBalance{UserID: userID, Email: email})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FillEmail records email for a row created without one. A stored email is
// never overwritten.
func (r *BalanceRepository) FillEmail(ctx context.Context, tx *gorm.DB, userID, email string) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND email = ''", userID).
		Update("email", email).Error
}

func (r *BalanceRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditBalance, error) {
	if tx == nil {
		tx = r.db
	}
	var balance model.CreditBalance
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return &balance, nil
}

// debit subtracts amount only if the balance covers it. The WHERE clause
// makes check and write a single statement.
func (r *BalanceRepository) debit(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ? AND current_balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("current_balance - ?", amount),
			"lifetime_spent":  gorm.Expr("lifetime_spent + ?", amount),
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrInsufficientCredits
	}
	return nil
}

func (r *BalanceRepository) credit(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	result := tx.WithContext(ctx).
		Model(&model.CreditBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"current_balance": gorm.Expr("current_balance + ?", amount),
			"lifetime_earned": gorm.Expr("lifetime_earned + ?", amount),
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}
	return nil
}

// ListUpdatedSince returns a page of balances that moved at or after since,
// ordered by id. Pass the last id of the previous page as afterID.
func (r *BalanceRepository) ListUpdatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]*model.CreditBalance, error) {
	var balances []*model.CreditBalance
	err := r.db.WithContext(ctx).
		Select("id", "user_id").
		Where("updated_at >= ? AND id > ?", since, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&balances).Error
	return balances, err
}
