package service

import (
	"context"
	"testing"

	"creditledger/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.users.Provision(ctx, &ProvisionRequest{UserID: "user_a", Email: "a@example.com"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, int64(100), first.SignupBonus)
	assert.True(t, ValidCodeFormat(first.ReferralCode))

	second, err := env.users.Provision(ctx, &ProvisionRequest{UserID: "user_a", Email: "a@example.com"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Zero(t, second.SignupBonus)
	assert.Equal(t, first.ReferralCode, second.ReferralCode)

	assert.Equal(t, int64(100), env.balance(t, "user_a"))
}

func TestProvisionWithReferralThenActivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	referrer, err := env.users.Provision(ctx, &ProvisionRequest{UserID: "referrer"})
	require.NoError(t, err)

	newbie, err := env.users.Provision(ctx, &ProvisionRequest{UserID: "newbie", ReferralCode: referrer.ReferralCode})
	require.NoError(t, err)
	assert.True(t, newbie.ReferralApplied)
	assert.Empty(t, newbie.ReferralError)

	// signing up awards only the signup bonus
	assert.Equal(t, int64(100), env.balance(t, "referrer"))
	assert.Equal(t, int64(100), env.balance(t, "newbie"))

	_, err = env.credits.DeductForChat(ctx, "newbie", uuid.New(), "book_1")
	require.NoError(t, err)
	credited, err := env.referrals.ActivateReferral(ctx, "newbie", model.ActivationTypeChatMessage)
	require.NoError(t, err)
	assert.True(t, credited)

	assert.Equal(t, int64(200), env.balance(t, "referrer"))
	assert.Equal(t, int64(148), env.balance(t, "newbie"))

	replay, err := env.credits.ReplayLedger(ctx, "newbie")
	require.NoError(t, err)
	assert.True(t, replay.Consistent)
}

func TestProvisionReportsRejectedReferral(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.users.Provision(ctx, &ProvisionRequest{UserID: "newbie", ReferralCode: "nope"})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.False(t, result.ReferralApplied)
	assert.Equal(t, ErrInvalidReferralCode.Error(), result.ReferralError)
}
