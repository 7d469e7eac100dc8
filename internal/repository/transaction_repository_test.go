package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

func TestTransactionRepository_Errors(t *testing.T) {
	assert.Equal(t, "chain transaction not found", ErrTransactionNotFound.Error())
	assert.Equal(t, "chain transaction already recorded", ErrDuplicateTransaction.Error())
}

func TestChainTransaction_Fields(t *testing.T) {
	tx := &model.ChainTransaction{
		ID:        "rec-1",
		TxHash:    "0xabc123",
		Type:      model.OperationEscrowFunding,
		UserID:    "user-1",
		ProjectID: "proj-1",
		Amount:    decimal.NewFromFloat(0.5),
		Status:    model.MirrorTxStatusPending,
	}

	assert.Equal(t, "0xabc123", tx.TxHash)
	assert.Equal(t, model.OperationEscrowFunding, tx.Type)
	assert.True(t, tx.Amount.Equal(decimal.NewFromFloat(0.5)))
	assert.Equal(t, model.MirrorTxStatusPending, tx.Status)
}

func TestChainTransaction_MetadataRoundTrip(t *testing.T) {
	tx := &model.ChainTransaction{}
	in := &model.TransactionMetadata{
		Operation: model.OperationScriptNFTMint,
		UserID:    "user-1",
		ProjectID: "proj-1",
		TokenID:   "42",
	}
	require.NoError(t, tx.SetMetadata(in))

	out, err := tx.GetMetadata()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCompleteTransitionGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("pending row completes", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewTransactionRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_transactions"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.Complete(ctx, "0xabc")
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("terminal row is left alone", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewTransactionRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_transactions"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "chain_transactions"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.Complete(ctx, "0xabc")
		assert.NoError(t, err)
	})

	t.Run("missing row errors", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewTransactionRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_transactions"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "chain_transactions"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := repo.Fail(ctx, "0xmissing", "reverted")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}
