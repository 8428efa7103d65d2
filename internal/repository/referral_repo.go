package repository

import (
	"context"
	"errors"
	"time"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrReferralNotFound   = errors.New("referral not found")
	ErrAlreadyReferred    = errors.New("user has already been referred")
	ErrReferralNotPending = errors.New("referral is not pending")
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Create inserts a referral. The unique index on referred_id turns a second
// referral for the same user into ErrAlreadyReferred, even under a race.
func (r *ReferralRepository) Create(ctx context.Context, referral *model.Referral) error {
	err := r.db.WithContext(ctx).Create(referral).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyReferred
	}
	return err
}

func (r *ReferralRepository) GetByReferredID(ctx context.Context, tx *gorm.DB, referredID string) (*model.Referral, error) {
	if tx == nil {
		tx = r.db
	}
	var referral model.Referral
	err := tx.WithContext(ctx).Where("referred_id = ?", referredID).First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &referral, nil
}

func (r *ReferralRepository) GetPendingByReferredID(ctx context.Context, referredID string) (*model.Referral, error) {
	var referral model.Referral
	err := r.db.WithContext(ctx).
		Where("referred_id = ? AND status = ?", referredID, model.ReferralStatusPending).
		First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReferralNotFound
		}
		return nil, err
	}
	return &referral, nil
}

// Complete moves the referred user's pending referral to completed. It is a
// compare-and-swap on status: exactly one caller gets the row back, every
// other caller gets ErrReferralNotPending.
func (r *ReferralRepository) Complete(ctx context.Context, tx *gorm.DB, referredID string, activation model.ActivationType, referrerReward, referredReward int64, at time.Time) (*model.Referral, error) {
	if !model.CanTransitionReferral(model.ReferralStatusPending, model.ReferralStatusCompleted) {
		return nil, ErrReferralNotPending
	}

	result := tx.WithContext(ctx).
		Model(&model.Referral{}).
		Where("referred_id = ? AND status = ?", referredID, model.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":          model.ReferralStatusCompleted,
			"activation_type": activation,
			"referrer_reward": referrerReward,
			"referred_reward": referredReward,
			"completed_at":    at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrReferralNotPending
	}

	return r.GetByReferredID(ctx, tx, referredID)
}

type ReferralCounts struct {
	Pending   int64
	Completed int64
}

func (r *ReferralRepository) CountByReferrer(ctx context.Context, referrerID string) (*ReferralCounts, error) {
	var rows []struct {
		Status model.ReferralStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&model.Referral{}).
		Select("status, COUNT(*) AS count").
		Where("referrer_id = ?", referrerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := &ReferralCounts{}
	for _, row := range rows {
		switch row.Status {
		case model.ReferralStatusPending:
			counts.Pending = row.Count
		case model.ReferralStatusCompleted:
			counts.Completed = row.Count
		}
	}
	return counts, nil
}

func (r *ReferralRepository) ListByReferrer(ctx context.Context, referrerID string, limit int) ([]*model.Referral, error) {
	var referrals []*model.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&referrals).Error
	return referrals, err
}
