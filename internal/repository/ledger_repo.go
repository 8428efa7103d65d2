package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"
	"creditledger/pkg/idgen"

	"gorm.io/gorm"
)

var (
	ErrZeroAmount          = errors.New("ledger amount must not be zero")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// LedgerRepository owns the credit_transactions table and is the only writer
// of credit_balances after provisioning.
type LedgerRepository struct {
	db       *gorm.DB
	balances *BalanceRepository
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{
		db:       db,
		balances: NewBalanceRepository(db),
	}
}

// Append moves the balance by entry.Amount and inserts entry with its
// before/after snapshot. Both happen in tx (or a new transaction when tx is
// nil), so a failed insert never leaves a moved balance behind.
//
// The guarded UPDATE runs first: it takes the row lock, so the balance read
// that follows sees exactly this movement.
func (r *LedgerRepository) Append(ctx context.Context, tx *gorm.DB, entry *model.CreditTransaction) error {
	if entry.Amount == 0 {
		return ErrZeroAmount
	}
	if tx == nil {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return r.append(ctx, tx, entry)
		})
	}
	return r.append(ctx, tx, entry)
}

func (r *LedgerRepository) append(ctx context.Context, tx *gorm.DB, entry *model.CreditTransaction) error {
	var err error
	if entry.Amount < 0 {
		err = r.balances.debit(ctx, tx, entry.UserID, -entry.Amount)
	} else {
		err = r.balances.credit(ctx, tx, entry.UserID, entry.Amount)
	}
	if err != nil {
		return err
	}

	balance, err := r.balances.GetByUserID(ctx, tx, entry.UserID)
	if err != nil {
		return err
	}

	entry.BalanceAfter = balance.CurrentBalance
	entry.BalanceBefore = balance.CurrentBalance - entry.Amount
	if entry.TransactionNo == "" {
		entry.TransactionNo = idgen.GenerateTransactionNo()
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// ListRecent returns at most limit transactions, newest first.
func (r *LedgerRepository) ListRecent(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	var transactions []*model.CreditTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListInOrder returns every transaction of the user in creation order.
func (r *LedgerRepository) ListInOrder(ctx context.Context, tx *gorm.DB, userID string) ([]*model.CreditTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var transactions []*model.CreditTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

func (r *LedgerRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// HasSpent reports whether the user ever paid for a summary or a chat
// message.
func (r *LedgerRepository) HasSpent(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Where("user_id = ? AND transaction_type IN ?", userID, []model.TransactionType{
			model.TransactionTypeSummaryGeneration,
			model.TransactionTypeChatMessage,
		}).
		Count(&count).Error
	return count > 0, err
}
