package postgres

import (
	"context"
	"testing"

	"github.com/cassiomorais/fiscalbridge/internal/domain/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openTx struct{ pgx.Tx }

func TestWithTransaction_JoinsOuterTransaction(t *testing.T) {
	outer := openTx{}
	ctx := context.WithValue(context.Background(), txKey, pgx.Tx(outer))
	m := NewTxManager(nil)

	called := false
	err := m.WithTransaction(ctx, func(txCtx context.Context) error {
		called = true
		assert.Equal(t, DBTX(outer), ConnFromCtx(txCtx, nil))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestConnFromCtx_FallsBackToPool(t *testing.T) {
	var pool *pgxpool.Pool
	assert.Equal(t, DBTX(pool), ConnFromCtx(context.Background(), pool))
}

func TestOutboxRepository_RejectsForeignAggregate(t *testing.T) {
	repo := NewOutboxRepository(nil)
	entry := outbox.NewEntry("payment", uuid.New(), outbox.EventReceiptPrinted, nil)

	err := repo.Insert(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `aggregate type "payment"`)
}
