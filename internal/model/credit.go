package model

import (
	"time"
)

// CreditBalance is the per-user materialized view of the credit ledger.
// It is only ever mutated together with an appended CreditTransaction.
type CreditBalance struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID         string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Email          string    `gorm:"type:varchar(320);not null;default:''" json:"-"`
	CurrentBalance int64     `gorm:"not null;default:0;check:chk_credit_balances_non_negative,current_balance >= 0" json:"current_balance"`
	LifetimeEarned int64     `gorm:"not null;default:0" json:"lifetime_earned"`
	LifetimeSpent  int64     `gorm:"not null;default:0" json:"lifetime_spent"`
	Version        int       `gorm:"not null;default:0" json:"-"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditBalance) TableName() string {
	return "credit_balances"
}

// Consistent reports whether current = earned - spent.
func (b *CreditBalance) Consistent() bool {
	return b.CurrentBalance == b.LifetimeEarned-b.LifetimeSpent
}
