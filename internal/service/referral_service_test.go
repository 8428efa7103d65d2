package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"creditledger/internal/model"
	"creditledger/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferralCodeNormalization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)
	require.True(t, ValidCodeFormat(code.Code))

	again, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, code.Code, again.Code)

	lower := "  " + strings.ToLower(code.Code) + " "
	got, err := env.referrals.GetCodeByValue(ctx, lower)
	require.NoError(t, err)
	assert.True(t, got.Valid)
	assert.Equal(t, code.Code, got.Code)
	assert.Equal(t, "referrer", got.OwnerID)

	unknown, err := env.referrals.GetCodeByValue(ctx, "ZZZZZZZZ")
	require.NoError(t, err)
	malformed, err := env.referrals.GetCodeByValue(ctx, "bad-code!")
	require.NoError(t, err)
	assert.False(t, unknown.Valid)
	assert.False(t, malformed.Valid)
	assert.Equal(t, unknown.Error, malformed.Error)
	assert.Equal(t, InvalidCodeMessage, malformed.Error)
}

func TestCreatePendingReferralRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)

	_, err = env.referrals.CreatePendingReferral(ctx, "referrer", code.Code)
	require.ErrorIs(t, err, ErrSelfReferral)

	_, err = env.referrals.CreatePendingReferral(ctx, "newbie", "NOPE1234")
	require.ErrorIs(t, err, ErrInvalidReferralCode)

	referral, err := env.referrals.CreatePendingReferral(ctx, "newbie", code.Code)
	require.NoError(t, err)
	assert.Equal(t, model.ReferralStatusPending, referral.Status)
	assert.Equal(t, "referrer", referral.ReferrerID)

	other, err := env.referrals.EnsureReferralCode(ctx, "someone_else")
	require.NoError(t, err)
	_, err = env.referrals.CreatePendingReferral(ctx, "newbie", other.Code)
	require.ErrorIs(t, err, repository.ErrAlreadyReferred)

	pending, err := env.referrals.GetPendingReferral(ctx, "newbie")
	require.NoError(t, err)
	assert.Equal(t, referral.ID, pending.ID)

	stored, err := env.referrals.GetReferralCode(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TotalReferrals)
}

func TestApplyReferralOnlyForNewAccounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "referrer", 0)
	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)

	env.fund(t, "veteran", 10)
	for i := 0; i < 3; i++ {
		_, err := env.credits.DeductForChat(ctx, "veteran", uuid.New(), "b1")
		require.NoError(t, err)
	}
	_, err = env.referrals.ApplyReferral(ctx, "veteran", code.Code)
	require.ErrorIs(t, err, ErrReferralWindowClosed)

	env.fund(t, "dormant", 0)
	require.NoError(t, env.db.Exec("UPDATE credit_balances SET created_at = ? WHERE user_id = ?",
		time.Now().Add(-env.cfg.Referral.ApplyWindow-time.Hour), "dormant").Error)
	_, err = env.referrals.ApplyReferral(ctx, "dormant", code.Code)
	require.ErrorIs(t, err, ErrReferralWindowClosed)

	_, err = env.referrals.ApplyReferral(ctx, "ghost", code.Code)
	require.ErrorIs(t, err, repository.ErrBalanceNotFound)

	env.fund(t, "fresh", 0)
	referral, err := env.referrals.ApplyReferral(ctx, "fresh", " "+strings.ToLower(code.Code))
	require.NoError(t, err)
	assert.Equal(t, "referrer", referral.ReferrerID)
	_, err = env.referrals.ApplyReferral(ctx, "fresh", code.Code)
	require.ErrorIs(t, err, repository.ErrAlreadyReferred)

	for _, id := range []string{"veteran", "dormant"} {
		_, err := env.referrals.GetPendingReferral(ctx, id)
		require.ErrorIs(t, err, repository.ErrReferralNotFound)
	}
	credited, err := env.referrals.ActivateReferral(ctx, "veteran", model.ActivationTypeChatMessage)
	require.NoError(t, err)
	assert.False(t, credited)
}

func TestActivateReferralPaysExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "referrer", 0)
	env.fund(t, "newbie", 0)

	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)
	_, err = env.referrals.CreatePendingReferral(ctx, "newbie", code.Code)
	require.NoError(t, err)

	credited, err := env.referrals.ActivateReferral(ctx, "newbie", model.ActivationTypeChatMessage)
	require.NoError(t, err)
	assert.True(t, credited)

	for i := 0; i < 3; i++ {
		credited, err = env.referrals.ActivateReferral(ctx, "newbie", model.ActivationTypeSummaryGenerated)
		require.NoError(t, err)
		assert.False(t, credited)
	}

	assert.Equal(t, int64(100), env.balance(t, "referrer"))
	assert.Equal(t, int64(50), env.balance(t, "newbie"))

	_, err = env.referrals.GetPendingReferral(ctx, "newbie")
	require.ErrorIs(t, err, repository.ErrReferralNotFound)

	stats, err := env.referrals.GetReferralStats(ctx, "referrer", "https://app.example.com/")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SuccessfulReferrals)
	assert.Equal(t, int64(0), stats.PendingReferrals)
	assert.Equal(t, int64(100), stats.TotalEarned)
	assert.Equal(t, "https://app.example.com/sign-up?ref="+code.Code, stats.ReferralLink)

	list, err := env.referrals.ListReferrals(ctx, "referrer")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].ActivationType)
	assert.Equal(t, model.ActivationTypeChatMessage, *list[0].ActivationType)
}

func TestConcurrentActivationPaysOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "referrer", 0)
	env.fund(t, "newbie", 0)

	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)
	_, err = env.referrals.CreatePendingReferral(ctx, "newbie", code.Code)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.referrals.ActivateReferral(ctx, "newbie", model.ActivationTypeChatMessage)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, credited)
	assert.Equal(t, int64(100), env.balance(t, "referrer"))
	assert.Equal(t, int64(50), env.balance(t, "newbie"))

	events, err := repository.NewOutboxRepository(env.db).ListByStatus(ctx, model.OutboxStatusPending, 100)
	require.NoError(t, err)
	var completed int
	for _, e := range events {
		if e.EventType == model.EventReferralCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
}

func TestActivateWithoutReferralIsNoop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "loner", 5)

	credited, err := env.referrals.ActivateReferral(ctx, "loner", model.ActivationTypeSummaryGenerated)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.Equal(t, int64(5), env.balance(t, "loner"))

	_, err = env.referrals.ActivateReferral(ctx, "loner", "signup")
	require.ErrorIs(t, err, ErrInvalidActivationType)
}

func TestActivationRollsBackWhenRewardFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	// the referrer has no balance row, so the referrer reward cannot be written
	env.fund(t, "newbie", 0)

	code, err := env.referrals.EnsureReferralCode(ctx, "referrer")
	require.NoError(t, err)
	_, err = env.referrals.CreatePendingReferral(ctx, "newbie", code.Code)
	require.NoError(t, err)

	credited, err := env.referrals.ActivateReferral(ctx, "newbie", model.ActivationTypeChatMessage)
	require.ErrorIs(t, err, repository.ErrBalanceNotFound)
	assert.False(t, credited)

	_, err = env.referrals.GetPendingReferral(ctx, "newbie")
	require.NoError(t, err)
	assert.Equal(t, int64(0), env.balance(t, "newbie"))
}

func TestReferralStatsRequireCode(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.referrals.GetReferralStats(context.Background(), "nobody", "https://app.example.com")
	require.ErrorIs(t, err, repository.ErrReferralCodeNotFound)
}
