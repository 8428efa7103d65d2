package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrReferralCodeNotFound = errors.New("referral code not found")
	ErrReferralCodeTaken    = errors.New("referral code already exists")
)

type ReferralCodeRepository struct {
	db *gorm.DB
}

func NewReferralCodeRepository(db *gorm.DB) *ReferralCodeRepository {
	return &ReferralCodeRepository{db: db}
}

// Create inserts code. ErrReferralCodeTaken means either the code value or
// the user already has a row; callers tell them apart with GetByUserID.
func (r *ReferralCodeRepository) Create(ctx context.Context, code *model.ReferralCode) error {
	err := r.db.WithContext(ctx).Create(code).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrReferralCodeTaken
	}
	return err
}

func (r *ReferralCodeRepository) GetByUserID(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return r.first(ctx, "user_id = ?", userID)
}

func (r *ReferralCodeRepository) GetByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	return r.first(ctx, "code = ?", code)
}

func (r *ReferralCodeRepository) first(ctx context.Context, query string, arg interface{}) (*model.ReferralCode, error) {
	var code model.ReferralCode
	err := r.db.WithContext(ctx).Where(query, arg).First(&code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralCodeNotFound
		}
		return nil, err
	}
	return &code, nil
}

func (r *ReferralCodeRepository) IncrementTotalReferrals(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.ReferralCode{}).
		Where("id = ?", id).
		UpdateColumn("total_referrals", gorm.Expr("total_referrals + 1")).Error
}
