package model

import (
	"time"

	"gorm.io/datatypes"
)

// ============================================================================
// Transaction types
// ============================================================================

type TransactionType string

const (
	TransactionTypeSummaryGeneration      TransactionType = "summary_generation"
	TransactionTypeChatMessage            TransactionType = "chat_message"
	TransactionTypeReferralRewardReferrer TransactionType = "referral_reward_referrer"
	TransactionTypeReferralRewardReferred TransactionType = "referral_reward_referred"
	TransactionTypeSignupBonus            TransactionType = "signup_bonus"
)

const (
	ReferenceTypeSummary     = "summary"
	ReferenceTypeChatSession = "chat_session"
	ReferenceTypeReferral    = "referral"
)

// ============================================================================
// Credit transaction
// ============================================================================

// CreditTransaction is one immutable row of the credit ledger.
//
// Rows are append-only. Replaying a user's rows in id order from zero must
// reproduce the balance row exactly, and every row satisfies
// balance_after = balance_before + amount.
type CreditTransaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID          string          `gorm:"type:varchar(64);index;not null" json:"user_id"`
	Amount          int64           `gorm:"not null" json:"amount"` // negative = debit
	TransactionType TransactionType `gorm:"type:varchar(40);not null" json:"transaction_type"`
	ReferenceID     *string         `gorm:"type:varchar(64);index" json:"reference_id,omitempty"`
	ReferenceType   *string         `gorm:"type:varchar(32)" json:"reference_type,omitempty"`
	Description     string          `gorm:"type:varchar(256)" json:"description,omitempty"`
	BalanceBefore   int64           `gorm:"not null" json:"balance_before"`
	BalanceAfter    int64           `gorm:"not null" json:"balance_after"`
	Metadata        datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

func (t *CreditTransaction) IsDebit() bool {
	return t.Amount < 0
}
