package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrInvalidReferralCode     = errors.New("invalid referral code")
	ErrSelfReferral            = errors.New("cannot use your own referral code")
	ErrInvalidActivationType   = errors.New("invalid activation type")
	ErrCodeGenerationExhausted = errors.New("could not allocate a unique referral code")
	ErrReferralWindowClosed    = errors.New("referral codes can only be applied by new accounts")
)

// InvalidCodeMessage is the only message shown for a code that cannot be
// used, whatever the reason.
const InvalidCodeMessage = "Invalid referral code"

const (
	codeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts = 5
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// NormalizeReferralCode trims and upper-cases user input.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidCodeFormat(code string) bool {
	return codePattern.MatchString(code)
}

type ReferralService struct {
	db           *gorm.DB
	cfg          *config.Config
	codeRepo     *repository.ReferralCodeRepository
	referralRepo *repository.ReferralRepository
	balanceRepo  *repository.BalanceRepository
	ledgerRepo   *repository.LedgerRepository
	outboxRepo   *repository.OutboxRepository
	writer       *ledgerWriter
}

func NewReferralService(db *gorm.DB, cfg *config.Config) *ReferralService {
	outboxRepo := repository.NewOutboxRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	return &ReferralService{
		db:           db,
		cfg:          cfg,
		codeRepo:     repository.NewReferralCodeRepository(db),
		referralRepo: repository.NewReferralRepository(db),
		balanceRepo:  repository.NewBalanceRepository(db),
		ledgerRepo:   ledgerRepo,
		outboxRepo:   outboxRepo,
		writer: &ledgerWriter{
			ledger: ledgerRepo,
			outbox: outboxRepo,
			topic:  cfg.Kafka.Topic.CreditEvents,
		},
	}
}

// ============================================================
// Codes
// ============================================================

func (s *ReferralService) GetReferralCode(ctx context.Context, userID string) (*model.ReferralCode, error) {
	return s.codeRepo.GetByUserID(ctx, userID)
}

// EnsureReferralCode returns the user's code, allocating a random one on
// first use.
func (s *ReferralService) EnsureReferralCode(ctx context.Context, userID string) (*model.ReferralCode, error) {
	code, err := s.codeRepo.GetByUserID(ctx, userID)
	if err == nil {
		return code, nil
	}
	if !errors.Is(err, repository.ErrReferralCodeNotFound) {
		return nil, err
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		value, err := generateCode()
		if err != nil {
			return nil, err
		}
		code = &model.ReferralCode{UserID: userID, Code: value}
		err = s.codeRepo.Create(ctx, code)
		if err == nil {
			log.Info().Str("user_id", userID).Str("code", value).Msg("referral code created")
			return code, nil
		}
		if !errors.Is(err, repository.ErrReferralCodeTaken) {
			return nil, fmt.Errorf("create referral code: %w", err)
		}
		// a concurrent call may have created the user's code
		if existing, err := s.codeRepo.GetByUserID(ctx, userID); err == nil {
			return existing, nil
		}
	}
	return nil, ErrCodeGenerationExhausted
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

type CodeValidation struct {
	Valid   bool   `json:"valid"`
	Code    string `json:"code"`
	OwnerID string `json:"owner_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GetCodeByValue resolves a user-supplied code. Malformed and unknown codes
// produce the same result.
func (s *ReferralService) GetCodeByValue(ctx context.Context, raw string) (*CodeValidation, error) {
	code := NormalizeReferralCode(raw)
	invalid := &CodeValidation{Valid: false, Code: code, Error: InvalidCodeMessage}

	if !ValidCodeFormat(code) {
		return invalid, nil
	}

	owner, err := s.codeRepo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrReferralCodeNotFound) {
			return invalid, nil
		}
		return nil, err
	}
	return &CodeValidation{Valid: true, Code: owner.Code, OwnerID: owner.UserID}, nil
}

// ============================================================
// Stats
// ============================================================

func ReferralLink(baseURL, code string) string {
	return fmt.Sprintf("%s/sign-up?ref=%s", strings.TrimRight(baseURL, "/"), code)
}

func (s *ReferralService) GetReferralStats(ctx context.Context, userID, baseURL string) (*model.ReferralStats, error) {
	code, err := s.codeRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.referralRepo.CountByReferrer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count referrals: %w", err)
	}

	return &model.ReferralStats{
		Code:                code.Code,
		ReferralLink:        ReferralLink(baseURL, code.Code),
		TotalReferrals:      code.TotalReferrals,
		PendingReferrals:    counts.Pending,
		SuccessfulReferrals: counts.Completed,
		TotalEarned:         counts.Completed * s.cfg.Referral.ReferrerBonus,
		ReferrerBonus:       s.cfg.Referral.ReferrerBonus,
		ReferredBonus:       s.cfg.Referral.ReferredBonus,
	}, nil
}

func (s *ReferralService) ListReferrals(ctx context.Context, referrerID string) ([]*model.Referral, error) {
	return s.referralRepo.ListByReferrer(ctx, referrerID, 100)
}

// ============================================================
// Referral lifecycle
// ============================================================

// CreatePendingReferral records that referredUserID signed up with code.
// It awards nothing; ActivateReferral pays out later.
func (s *ReferralService) CreatePendingReferral(ctx context.Context, referredUserID, code string) (*model.Referral, error) {
	validation, err := s.GetCodeByValue(ctx, code)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, ErrInvalidReferralCode
	}
	if validation.OwnerID == referredUserID {
		return nil, ErrSelfReferral
	}

	_, err = s.referralRepo.GetByReferredID(ctx, nil, referredUserID)
	if err == nil {
		return nil, repository.ErrAlreadyReferred
	}
	if !errors.Is(err, repository.ErrReferralNotFound) {
		return nil, err
	}

	owner, err := s.codeRepo.GetByCode(ctx, validation.Code)
	if err != nil {
		return nil, err
	}

	referral := &model.Referral{
		ReferrerID:     owner.UserID,
		ReferredID:     referredUserID,
		ReferralCodeID: owner.ID,
		Status:         model.ReferralStatusPending,
	}
	if err := s.referralRepo.Create(ctx, referral); err != nil {
		if errors.Is(err, repository.ErrAlreadyReferred) {
			return nil, err
		}
		return nil, fmt.Errorf("create referral: %w", err)
	}

	// display counter only
	if err := s.codeRepo.IncrementTotalReferrals(ctx, owner.ID); err != nil {
		log.Warn().Err(err).Str("code", owner.Code).Msg("increment total_referrals failed")
	}

	log.Info().
		Str("referrer_id", referral.ReferrerID).
		Str("referred_id", referral.ReferredID).
		Msg("pending referral created")
	return referral, nil
}

// ApplyReferral attaches a code to a user who signed up without one. The
// account must be provisioned, younger than the configured apply window and
// without any summary or chat spend, otherwise ErrReferralWindowClosed.
func (s *ReferralService) ApplyReferral(ctx context.Context, userID, code string) (*model.Referral, error) {
	balance, err := s.balanceRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}

	_, err = s.referralRepo.GetByReferredID(ctx, nil, userID)
	if err == nil {
		return nil, repository.ErrAlreadyReferred
	}
	if !errors.Is(err, repository.ErrReferralNotFound) {
		return nil, err
	}

	if window := s.cfg.Referral.ApplyWindow; window > 0 && time.Since(balance.CreatedAt) > window {
		return nil, ErrReferralWindowClosed
	}
	spent, err := s.ledgerRepo.HasSpent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if spent {
		return nil, ErrReferralWindowClosed
	}

	return s.CreatePendingReferral(ctx, userID, code)
}

func (s *ReferralService) GetPendingReferral(ctx context.Context, userID string) (*model.Referral, error) {
	return s.referralRepo.GetPendingByReferredID(ctx, userID)
}

// ActivateReferral completes userID's pending referral and pays both
// parties. The status transition, both ledger entries and the outbox event
// commit together. credited is false when there was nothing to complete,
// including when another caller completed it first.
func (s *ReferralService) ActivateReferral(ctx context.Context, userID string, activation model.ActivationType) (credited bool, err error) {
	if !activation.Valid() {
		return false, ErrInvalidActivationType
	}

	if _, err := s.referralRepo.GetPendingByReferredID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrReferralNotFound) {
			return false, nil
		}
		return false, err
	}

	referrerBonus := s.cfg.Referral.ReferrerBonus
	referredBonus := s.cfg.Referral.ReferredBonus
	now := time.Now()

	var referral *model.Referral
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		referral, err = s.referralRepo.Complete(ctx, tx, userID, activation, referrerBonus, referredBonus, now)
		if err != nil {
			return err
		}

		refID := referral.ID.String()
		rewards := []*model.CreditTransaction{
			{
				UserID:          referral.ReferrerID,
				Amount:          referrerBonus,
				TransactionType: model.TransactionTypeReferralRewardReferrer,
				ReferenceID:     &refID,
				ReferenceType:   optional(model.ReferenceTypeReferral),
				Description:     "Referral reward",
			},
			{
				UserID:          referral.ReferredID,
				Amount:          referredBonus,
				TransactionType: model.TransactionTypeReferralRewardReferred,
				ReferenceID:     &refID,
				ReferenceType:   optional(model.ReferenceTypeReferral),
				Description:     "Welcome bonus for joining with a referral",
			},
		}
		for _, entry := range rewards {
			if entry.Amount <= 0 {
				continue
			}
			if err := s.writer.append(ctx, tx, entry); err != nil {
				return fmt.Errorf("credit %s: %w", entry.TransactionType, err)
			}
		}

		msg, err := newOutboxMessage(s.cfg.Kafka.Topic.ReferralEvents, model.EventReferralCompleted, refID, ReferralCompletedEvent{
			ReferralID:     refID,
			ReferrerID:     referral.ReferrerID,
			ReferredID:     referral.ReferredID,
			ActivationType: activation,
			ReferrerReward: referrerBonus,
			ReferredReward: referredBonus,
			CompletedAt:    now.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, msg)
	})
	if err != nil {
		if errors.Is(err, repository.ErrReferralNotPending) {
			return false, nil
		}
		return false, fmt.Errorf("activate referral: %w", err)
	}

	log.Info().
		Str("referral_id", referral.ID.String()).
		Str("referrer_id", referral.ReferrerID).
		Str("referred_id", referral.ReferredID).
		Str("activation", string(activation)).
		Msg("referral completed")
	return true, nil
}
