package service

import (
	"context"
	"testing"
	"time"

	"creditledger/internal/config"
	"creditledger/internal/infrastructure/database/dbtest"
	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db        *gorm.DB
	cfg       *config.Config
	credits   *CreditService
	referrals *ReferralService
	users     *UserService
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.BaseURL = "https://app.example.com"
	cfg.Kafka.Topic.CreditEvents = "credit-events"
	cfg.Kafka.Topic.ReferralEvents = "referral-events"
	cfg.Email.AppName = "BookDigest"
	cfg.Credits.SignupBonus = 100
	cfg.Referral.ReferrerBonus = 100
	cfg.Referral.ReferredBonus = 50
	cfg.Referral.InviteLimitPerHour = 20
	cfg.Referral.ApplyWindow = 72 * time.Hour
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := dbtest.Open(t)
	cfg := testConfig()
	referrals := NewReferralService(db, cfg)
	return &testEnv{
		db:        db,
		cfg:       cfg,
		credits:   NewCreditService(db, cfg, nil),
		referrals: referrals,
		users:     NewUserService(db, cfg, referrals),
	}
}

// fund provisions userID with an exact starting balance and no signup bonus.
func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := repository.NewBalanceRepository(e.db).Create(ctx, nil, userID, "")
	require.NoError(t, err)
	if amount > 0 {
		_, err = e.credits.AddCredits(ctx, &AddRequest{UserID: userID, Amount: amount, TransactionType: model.TransactionTypeSignupBonus})
		require.NoError(t, err)
	}
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := e.credits.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b.CurrentBalance
}
