package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"creditledger/internal/model"
	"creditledger/internal/repository"

	"gorm.io/gorm"
)

// CreditsChangedEvent is published after every ledger movement so clients
// can refresh the displayed balance.
type CreditsChangedEvent struct {
	UserID          string                `json:"user_id"`
	TransactionNo   string                `json:"transaction_no"`
	TransactionType model.TransactionType `json:"transaction_type"`
	Amount          int64                 `json:"amount"`
	Balance         int64                 `json:"balance"`
	OccurredAt      string                `json:"occurred_at"`
}

type ReferralCompletedEvent struct {
	ReferralID     string               `json:"referral_id"`
	ReferrerID     string               `json:"referrer_id"`
	ReferredID     string               `json:"referred_id"`
	ActivationType model.ActivationType `json:"activation_type"`
	ReferrerReward int64                `json:"referrer_reward"`
	ReferredReward int64                `json:"referred_reward"`
	CompletedAt    string               `json:"completed_at"`
}

func newOutboxMessage(topic, eventType, key string, payload interface{}) (*model.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}, nil
}

// ledgerWriter appends a ledger entry and its credits.changed event in the
// caller's transaction.
type ledgerWriter struct {
	ledger *repository.LedgerRepository
	outbox *repository.OutboxRepository
	topic  string
}

func (w *ledgerWriter) append(ctx context.Context, tx *gorm.DB, entry *model.CreditTransaction) error {
	if err := w.ledger.Append(ctx, tx, entry); err != nil {
		return err
	}

	msg, err := newOutboxMessage(w.topic, model.EventCreditsChanged, entry.UserID, CreditsChangedEvent{
		UserID:          entry.UserID,
		TransactionNo:   entry.TransactionNo,
		TransactionType: entry.TransactionType,
		Amount:          entry.Amount,
		Balance:         entry.BalanceAfter,
		OccurredAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := w.outbox.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox message: %w", err)
	}
	return nil
}
