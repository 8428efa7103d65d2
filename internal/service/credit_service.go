package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrLedgerBusy means the balance kept moving while its ledger was read.
	ErrLedgerBusy    = errors.New("ledger changed during replay")
)

const replayAttempts = 3

// SpendLocker serializes spends of one user across instances. It only
// shortens the contention window; the conditional UPDATE in the ledger
// repository is what keeps balances non-negative.
type SpendLocker interface {
	Acquire(ctx context.Context, userID string) (release func(), err error)
}

type CreditService struct {
	db          *gorm.DB
	locker      SpendLocker
	balanceRepo *repository.BalanceRepository
	ledgerRepo  *repository.LedgerRepository
	sessionRepo *repository.ChatSessionRepository
	writer      *ledgerWriter

	// afterReplayRead runs between the ledger read and the balance re-read.
	afterReplayRead func(tx *gorm.DB)
}

// NewCreditService wires the credit service. locker may be nil.
func NewCreditService(db *gorm.DB, cfg *config.Config, locker SpendLocker) *CreditService {
	ledgerRepo := repository.NewLedgerRepository(db)
	return &CreditService{
		db:          db,
		locker:      locker,
		balanceRepo: repository.NewBalanceRepository(db),
		ledgerRepo:  ledgerRepo,
		sessionRepo: repository.NewChatSessionRepository(db),
		writer: &ledgerWriter{
			ledger: ledgerRepo,
			outbox: repository.NewOutboxRepository(db),
			topic:  cfg.Kafka.Topic.CreditEvents,
		},
	}
}

// ============================================================
// Balance
// ============================================================

func (s *CreditService) GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error) {
	return s.balanceRepo.GetByUserID(ctx, nil, userID)
}

type BalanceCheck struct {
	HasSufficientCredits bool  `json:"has_sufficient_credits"`
	CurrentBalance       int64 `json:"current_balance"`
	RequiredCredits      int64 `json:"required_credits"`
	RemainingAfter       int64 `json:"remaining_after"`
}

// CheckBalance compares the balance with required. An unprovisioned user
// counts as a zero balance here.
func (s *CreditService) CheckBalance(ctx context.Context, userID string, required int64) (*BalanceCheck, error) {
	var current int64
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	switch {
	case err == nil:
		current = balance.CurrentBalance
	case errors.Is(err, repository.ErrBalanceNotFound):
	default:
		return nil, err
	}

	return &BalanceCheck{
		HasSufficientCredits: balance != nil && current >= required,
		CurrentBalance:       current,
		RequiredCredits:      required,
		RemainingAfter:       current - required,
	}, nil
}

func (s *CreditService) GetSummaryCreditCost(style model.SummaryStyle, length model.SummaryLength) (int64, error) {
	return model.SummaryCreditCost(style, length)
}

func (s *CreditService) GetChatMessageCreditCost() int64 {
	return model.ChatMessageCreditCost()
}

func (s *CreditService) CostTable() model.CostTable {
	return model.Costs()
}

// ============================================================
// Ledger writes
// ============================================================

type DeductRequest struct {
	UserID          string
	Amount          int64
	TransactionType model.TransactionType
	ReferenceID     string
	ReferenceType   string
	Description     string
	Metadata        map[string]interface{}
}

type AddRequest = DeductRequest

// DeductCredits debits req.Amount. It returns repository.ErrBalanceNotFound
// or repository.ErrInsufficientCredits without touching the ledger when the
// user cannot pay.
func (s *CreditService) DeductCredits(ctx context.Context, req *DeductRequest) (*model.CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	balance, err := s.balanceRepo.GetByUserID(ctx, nil, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance.CurrentBalance < req.Amount {
		return nil, repository.ErrInsufficientCredits
	}

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, req.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Msg("spend lock unavailable, relying on conditional update")
		} else {
			defer release()
		}
	}

	entry, err := newEntry(req, -req.Amount)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writer.append(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientCredits) || errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("deduct credits: %w", err)
	}

	log.Info().
		Str("user_id", entry.UserID).
		Str("transaction_no", entry.TransactionNo).
		Str("type", string(entry.TransactionType)).
		Int64("amount", entry.Amount).
		Int64("balance_after", entry.BalanceAfter).
		Msg("credits deducted")
	return entry, nil
}

// AddCredits credits req.Amount with no floor check.
func (s *CreditService) AddCredits(ctx context.Context, req *AddRequest) (*model.CreditTransaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	entry, err := newEntry(req, req.Amount)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writer.append(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("add credits: %w", err)
	}

	log.Info().
		Str("user_id", entry.UserID).
		Str("transaction_no", entry.TransactionNo).
		Str("type", string(entry.TransactionType)).
		Int64("amount", entry.Amount).
		Msg("credits added")
	return entry, nil
}

func (s *CreditService) DeductForSummary(ctx context.Context, userID, summaryID, bookID string, style model.SummaryStyle, length model.SummaryLength) (*model.CreditTransaction, error) {
	cost, err := model.SummaryCreditCost(style, length)
	if err != nil {
		return nil, err
	}
	return s.DeductCredits(ctx, &DeductRequest{
		UserID:          userID,
		Amount:          cost,
		TransactionType: model.TransactionTypeSummaryGeneration,
		ReferenceID:     summaryID,
		ReferenceType:   model.ReferenceTypeSummary,
		Description:     fmt.Sprintf("Summary generation (%s, %s)", style, length),
		Metadata: map[string]interface{}{
			"book_id": bookID,
			"style":   style,
			"length":  length,
		},
	})
}

func (s *CreditService) DeductForChat(ctx context.Context, userID string, sessionID uuid.UUID, bookID string) (*model.CreditTransaction, error) {
	return s.DeductCredits(ctx, &DeductRequest{
		UserID:          userID,
		Amount:          model.ChatMessageCreditCost(),
		TransactionType: model.TransactionTypeChatMessage,
		ReferenceID:     sessionID.String(),
		ReferenceType:   model.ReferenceTypeChatSession,
		Description:     "Chat message",
		Metadata: map[string]interface{}{
			"book_id": bookID,
		},
	})
}

func newEntry(req *DeductRequest, signed int64) (*model.CreditTransaction, error) {
	entry := &model.CreditTransaction{
		UserID:          req.UserID,
		Amount:          signed,
		TransactionType: req.TransactionType,
		ReferenceID:     optional(req.ReferenceID),
		ReferenceType:   optional(req.ReferenceType),
		Description:     req.Description,
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		entry.Metadata = datatypes.JSON(raw)
	}
	return entry, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ============================================================
// History
// ============================================================

func (s *CreditService) GetRecentTransactions(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.ledgerRepo.ListRecent(ctx, userID, limit)
}

func (s *CreditService) ListTransactions(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// GetTransaction looks up one of the user's transactions. Another user's
// transaction number reads as repository.ErrTransactionNotFound.
func (s *CreditService) GetTransaction(ctx context.Context, userID, transactionNo string) (*model.CreditTransaction, error) {
	trans, err := s.ledgerRepo.GetByTransactionNo(ctx, transactionNo)
	if err != nil {
		return nil, err
	}
	if trans.UserID != userID {
		return nil, repository.ErrTransactionNotFound
	}
	return trans, nil
}

// LedgerReplay compares the balance row with the sum of the user's ledger.
type LedgerReplay struct {
	UserID          string `json:"user_id"`
	Transactions    int    `json:"transactions"`
	ReplayedBalance int64  `json:"replayed_balance"`
	ReplayedEarned  int64  `json:"replayed_earned"`
	ReplayedSpent   int64  `json:"replayed_spent"`
	StoredBalance   int64  `json:"stored_balance"`
	StoredEarned    int64  `json:"stored_earned"`
	StoredSpent     int64  `json:"stored_spent"`
	// BrokenLinks counts rows whose balance_before differs from the previous
	// row's balance_after.
	BrokenLinks int  `json:"broken_links"`
	Consistent  bool `json:"consistent"`
}

// ReplayLedger reads the balance row and its ledger rows in one transaction.
// Under read committed an append can still land between the reads, so the
// balance version is re-read and the replay retried when it moved.
func (s *CreditService) ReplayLedger(ctx context.Context, userID string) (*LedgerReplay, error) {
	for attempt := 0; attempt < replayAttempts; attempt++ {
		var (
			balance *model.CreditBalance
			rows    []*model.CreditTransaction
			stable  bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			balance, err = s.balanceRepo.GetByUserID(ctx, tx, userID)
			if err != nil {
				return err
			}
			if rows, err = s.ledgerRepo.ListInOrder(ctx, tx, userID); err != nil {
				return err
			}
			if s.afterReplayRead != nil {
				s.afterReplayRead(tx)
			}
			after, err := s.balanceRepo.GetByUserID(ctx, tx, userID)
			if err != nil {
				return err
			}
			stable = after.Version == balance.Version
			return nil
		})
		if err != nil {
			return nil, err
		}
		if stable {
			return replayRows(userID, balance, rows), nil
		}
	}
	return nil, ErrLedgerBusy
}

func replayRows(userID string, balance *model.CreditBalance, rows []*model.CreditTransaction) *LedgerReplay {
	replay := &LedgerReplay{
		UserID:        userID,
		Transactions:  len(rows),
		StoredBalance: balance.CurrentBalance,
		StoredEarned:  balance.LifetimeEarned,
		StoredSpent:   balance.LifetimeSpent,
	}
	for _, row := range rows {
		if row.BalanceBefore != replay.ReplayedBalance || row.BalanceAfter != row.BalanceBefore+row.Amount {
			replay.BrokenLinks++
		}
		replay.ReplayedBalance += row.Amount
		if row.IsDebit() {
			replay.ReplayedSpent -= row.Amount
		} else {
			replay.ReplayedEarned += row.Amount
		}
	}

	replay.Consistent = replay.BrokenLinks == 0 &&
		replay.ReplayedBalance == replay.StoredBalance &&
		replay.ReplayedEarned == replay.StoredEarned &&
		replay.ReplayedSpent == replay.StoredSpent
	return replay
}

// ============================================================
// Chat sessions
// ============================================================

func (s *CreditService) GetOrCreateChatSession(ctx context.Context, userID, bookID string) (*model.ChatSession, error) {
	return s.sessionRepo.GetOrCreate(ctx, userID, bookID)
}

func (s *CreditService) UpdateChatSession(ctx context.Context, sessionID uuid.UUID, creditsSpent int64) error {
	return s.sessionRepo.IncrementUsage(ctx, sessionID, creditsSpent, time.Now())
}
