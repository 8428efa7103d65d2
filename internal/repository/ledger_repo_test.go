package repository

import (
	"context"
	"testing"

	"creditledger/internal/infrastructure/database/dbtest"
	"creditledger/internal/model"

	"github.com/stretchr/testify/require"
)

func TestBalanceCreateIsIdempotent(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewBalanceRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, nil, "user_a", "")
	require.NoError(t, err)
	require.True(t, created)

	created, err = repo.Create(ctx, nil, "user_a", "")
	require.NoError(t, err)
	require.False(t, created)

	balance, err := repo.GetByUserID(ctx, nil, "user_a")
	require.NoError(t, err)
	require.Zero(t, balance.CurrentBalance)
	require.Empty(t, balance.Email)

	require.NoError(t, repo.FillEmail(ctx, nil, "user_a", "a@example.com"))
	require.NoError(t, repo.FillEmail(ctx, nil, "user_a", "other@example.com"))
	balance, err = repo.GetByUserID(ctx, nil, "user_a")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", balance.Email)

	_, err = repo.GetByUserID(ctx, nil, "missing")
	require.ErrorIs(t, err, ErrBalanceNotFound)
}

func TestLedgerAppendSnapshotsBalance(t *testing.T) {
	db := dbtest.Open(t)
	balances := NewBalanceRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()

	_, err := balances.Create(ctx, nil, "user_a", "")
	require.NoError(t, err)

	credit := &model.CreditTransaction{UserID: "user_a", Amount: 100, TransactionType: model.TransactionTypeSignupBonus}
	require.NoError(t, ledger.Append(ctx, nil, credit))
	require.Equal(t, int64(0), credit.BalanceBefore)
	require.Equal(t, int64(100), credit.BalanceAfter)
	require.NotEmpty(t, credit.TransactionNo)

	debit := &model.CreditTransaction{UserID: "user_a", Amount: -35, TransactionType: model.TransactionTypeSummaryGeneration}
	require.NoError(t, ledger.Append(ctx, nil, debit))
	require.Equal(t, int64(100), debit.BalanceBefore)
	require.Equal(t, int64(65), debit.BalanceAfter)

	balance, err := balances.GetByUserID(ctx, nil, "user_a")
	require.NoError(t, err)
	require.Equal(t, int64(65), balance.CurrentBalance)
	require.Equal(t, int64(100), balance.LifetimeEarned)
	require.Equal(t, int64(35), balance.LifetimeSpent)
	require.True(t, balance.Consistent())

	rows, err := ledger.ListInOrder(ctx, nil, "user_a")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, credit.TransactionNo, rows[0].TransactionNo)

	recent, err := ledger.ListRecent(ctx, "user_a", 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, debit.TransactionNo, recent[0].TransactionNo)
}

func TestLedgerAppendRejectsOverdraft(t *testing.T) {
	db := dbtest.Open(t)
	balances := NewBalanceRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()

	_, err := balances.Create(ctx, nil, "user_a", "")
	require.NoError(t, err)
	require.NoError(t, ledger.Append(ctx, nil, &model.CreditTransaction{UserID: "user_a", Amount: 10, TransactionType: model.TransactionTypeSignupBonus}))

	err = ledger.Append(ctx, nil, &model.CreditTransaction{UserID: "user_a", Amount: -11, TransactionType: model.TransactionTypeChatMessage})
	require.ErrorIs(t, err, ErrInsufficientCredits)

	err = ledger.Append(ctx, nil, &model.CreditTransaction{UserID: "nobody", Amount: -1, TransactionType: model.TransactionTypeChatMessage})
	require.ErrorIs(t, err, ErrBalanceNotFound)

	err = ledger.Append(ctx, nil, &model.CreditTransaction{UserID: "user_a", Amount: 0})
	require.ErrorIs(t, err, ErrZeroAmount)

	rows, total, err := ledger.ListByUserID(ctx, "user_a", 1, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Len(t, rows, 1)

	balance, err := balances.GetByUserID(ctx, nil, "user_a")
	require.NoError(t, err)
	require.Equal(t, int64(10), balance.CurrentBalance)
}

func TestLedgerLookupAndSpendHistory(t *testing.T) {
	db := dbtest.Open(t)
	balances := NewBalanceRepository(db)
	ledger := NewLedgerRepository(db)
	ctx := context.Background()

	_, err := balances.Create(ctx, nil, "user_a", "")
	require.NoError(t, err)
	bonus := &model.CreditTransaction{UserID: "user_a", Amount: 50, TransactionType: model.TransactionTypeSignupBonus}
	require.NoError(t, ledger.Append(ctx, nil, bonus))

	found, err := ledger.GetByTransactionNo(ctx, bonus.TransactionNo)
	require.NoError(t, err)
	require.Equal(t, bonus.ID, found.ID)
	require.False(t, found.IsDebit())

	_, err = ledger.GetByTransactionNo(ctx, "TXN-missing")
	require.ErrorIs(t, err, ErrTransactionNotFound)

	spent, err := ledger.HasSpent(ctx, "user_a")
	require.NoError(t, err)
	require.False(t, spent, "bonuses are not spends")

	require.NoError(t, ledger.Append(ctx, nil, &model.CreditTransaction{UserID: "user_a", Amount: -2, TransactionType: model.TransactionTypeChatMessage}))
	spent, err = ledger.HasSpent(ctx, "user_a")
	require.NoError(t, err)
	require.True(t, spent)
}
