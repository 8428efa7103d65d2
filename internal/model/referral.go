package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
)

// completed is terminal
var validReferralTransitions = map[ReferralStatus][]ReferralStatus{
	ReferralStatusPending: {ReferralStatusCompleted},
}

func CanTransitionReferral(current, target ReferralStatus) bool {
	for _, s := range validReferralTransitions[current] {
		if s == target {
			return true
		}
	}
	return false
}

type ActivationType string

const (
	ActivationTypeChatMessage      ActivationType = "chat_message"
	ActivationTypeSummaryGenerated ActivationType = "summary_generated"
)

func (a ActivationType) Valid() bool {
	return a == ActivationTypeChatMessage || a == ActivationTypeSummaryGenerated
}

// ReferralCode is the shareable code owned by a single user.
type ReferralCode struct {
	ID             uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Code           string    `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"`
	TotalReferrals int64     `gorm:"not null;default:0" json:"total_referrals"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ReferralCode) TableName() string {
	return "referral_codes"
}

func (c *ReferralCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Referral links a referred signup to its referrer. A user can be the
// referred party of at most one row, enforced by the unique index.
type Referral struct {
	ID             uuid.UUID       `gorm:"type:varchar(36);primaryKey" json:"id"`
	ReferrerID     string          `gorm:"type:varchar(64);index;not null" json:"referrer_id"`
	ReferredID     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"referred_id"`
	ReferralCodeID uuid.UUID       `gorm:"type:varchar(36);index;not null" json:"referral_code_id"`
	Status         ReferralStatus  `gorm:"type:varchar(20);index;not null" json:"status"`
	ActivationType *ActivationType `gorm:"type:varchar(32)" json:"activation_type,omitempty"`
	ReferrerReward int64           `gorm:"not null;default:0" json:"referrer_reward"`
	ReferredReward int64           `gorm:"not null;default:0" json:"referred_reward"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Referral) TableName() string {
	return "referrals"
}

func (r *Referral) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type ReferralStats struct {
	Code                string `json:"code"`
	ReferralLink        string `json:"referral_link"`
	TotalReferrals      int64  `json:"total_referrals"`
	PendingReferrals    int64  `json:"pending_referrals"`
	SuccessfulReferrals int64  `json:"successful_referrals"`
	TotalEarned         int64  `json:"total_earned"`
	ReferrerBonus       int64  `json:"referrer_bonus"`
	ReferredBonus       int64  `json:"referred_bonus"`
}
