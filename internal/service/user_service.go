package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"creditledger/internal/config"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// UserService provisions credit state for users created by the auth provider.
type UserService struct {
	db          *gorm.DB
	cfg         *config.Config
	balanceRepo *repository.BalanceRepository
	writer      *ledgerWriter
	referrals   *ReferralService
}

func NewUserService(db *gorm.DB, cfg *config.Config, referrals *ReferralService) *UserService {
	return &UserService{
		db:          db,
		cfg:         cfg,
		balanceRepo: repository.NewBalanceRepository(db),
		writer: &ledgerWriter{
			ledger: repository.NewLedgerRepository(db),
			outbox: repository.NewOutboxRepository(db),
			topic:  cfg.Kafka.Topic.CreditEvents,
		},
		referrals: referrals,
	}
}

type ProvisionRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	Email        string `json:"email"`
	ReferralCode string `json:"referral_code"`
}

type ProvisionResult struct {
	UserID          string `json:"user_id"`
	Created         bool   `json:"created"`
	SignupBonus     int64  `json:"signup_bonus"`
	ReferralCode    string `json:"referral_code"`
	ReferralApplied bool   `json:"referral_applied"`
	ReferralError   string `json:"referral_error,omitempty"`
}

// Provision is safe to call repeatedly for the same user: the balance row
// and signup bonus are only written the first time.
func (s *UserService) Provision(ctx context.Context, req *ProvisionRequest) (*ProvisionResult, error) {
	result := &ProvisionResult{UserID: req.UserID}
	bonus := s.cfg.Credits.SignupBonus
	emailAddr := strings.TrimSpace(req.Email)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.balanceRepo.Create(ctx, tx, req.UserID, emailAddr)
		if err != nil {
			return fmt.Errorf("create balance: %w", err)
		}
		result.Created = created
		if !created {
			if emailAddr == "" {
				return nil
			}
			return s.balanceRepo.FillEmail(ctx, tx, req.UserID, emailAddr)
		}
		if bonus <= 0 {
			return nil
		}

		if err := s.writer.append(ctx, tx, &model.CreditTransaction{
			UserID:          req.UserID,
			Amount:          bonus,
			TransactionType: model.TransactionTypeSignupBonus,
			Description:     "Welcome bonus",
		}); err != nil {
			return fmt.Errorf("grant signup bonus: %w", err)
		}
		result.SignupBonus = bonus
		return nil
	})
	if err != nil {
		return nil, err
	}

	code, err := s.referrals.EnsureReferralCode(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	result.ReferralCode = code.Code

	if req.ReferralCode != "" {
		_, err := s.referrals.CreatePendingReferral(ctx, req.UserID, req.ReferralCode)
		switch {
		case err == nil:
			result.ReferralApplied = true
		case isReferralRejection(err):
			result.ReferralError = err.Error()
		default:
			return nil, err
		}
	}

	log.Info().
		Str("user_id", req.UserID).
		Bool("created", result.Created).
		Bool("referral_applied", result.ReferralApplied).
		Msg("user provisioned")
	return result, nil
}

func isReferralRejection(err error) bool {
	return errors.Is(err, ErrInvalidReferralCode) ||
		errors.Is(err, ErrSelfReferral) ||
		errors.Is(err, repository.ErrAlreadyReferred)
}
