package repository

import (
	"context"
	"testing"

	"creditledger/internal/infrastructure/database/dbtest"
	"creditledger/internal/model"

	"github.com/stretchr/testify/require"
)

func TestOutboxDeliverableRespectsRetryLimit(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	newMsg := func(key string) *model.OutboxMessage {
		return &model.OutboxMessage{MessageKey: key, Topic: "credit-events", EventType: model.EventCreditsChanged, Payload: "{}"}
	}
	a, b := newMsg("a"), newMsg("b")
	require.NoError(t, repo.Create(ctx, nil, a))
	require.NoError(t, repo.Create(ctx, nil, b))
	require.Equal(t, model.OutboxStatusPending, a.Status)

	require.NoError(t, repo.MarkSent(ctx, a.ID))
	require.NoError(t, repo.MarkFailed(ctx, b.ID))

	msgs, err := repo.ListDeliverable(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, b.ID, msgs[0].ID)

	require.NoError(t, repo.MarkFailed(ctx, b.ID))
	msgs, err = repo.ListDeliverable(ctx, 2, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)

	sent, err := repo.ListByStatus(ctx, model.OutboxStatusSent, 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
}
