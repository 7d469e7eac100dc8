package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open gorm db: %v", err)
	}

	cleanup := func() {
		db.Close()
	}

	return gormDB, mock, cleanup
}

func TestProjectRepository_Errors(t *testing.T) {
	assert.Equal(t, "project not found", ErrProjectNotFound.Error())
	assert.Equal(t, "project already marked on-chain", ErrAlreadyOnChain.Error())
}

func TestProject_TableName(t *testing.T) {
	assert.Equal(t, "chain_projects", model.Project{}.TableName())
	assert.Equal(t, "chain_transactions", model.ChainTransaction{}.TableName())
}

func TestProjectStatus_Rank(t *testing.T) {
	assert.Equal(t, 0, model.ProjectStatusDraft.Rank())
	assert.Equal(t, 1, model.ProjectStatusPublished.Rank())
	assert.Equal(t, 2, model.ProjectStatusInProduction.Rank())
	assert.Equal(t, 3, model.ProjectStatusCompleted.Rank())
	assert.Equal(t, -1, model.ProjectStatus("bogus").Rank())
}

func TestMarkOnChain(t *testing.T) {
	ctx := context.Background()
	data := &model.BlockchainData{TxHash: "0xabc", Confirmations: 3, Confirmed: true}

	t.Run("first flip succeeds", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.MarkOnChain(ctx, "proj-1", data)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("flip persists the contract address", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects" SET .*"contract_address"=\$2`).
			WithArgs(sqlmock.AnyArg(), "0x00000000000000000000000000000000000000aa",
				sqlmock.AnyArg(), sqlmock.AnyArg(), "proj-1", false).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.MarkOnChain(ctx, "proj-1", &model.BlockchainData{
			TxHash:          "0xabc",
			ContractAddress: "0x00000000000000000000000000000000000000aa",
			Confirmed:       true,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second flip reports already on-chain", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "chain_projects"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.MarkOnChain(ctx, "proj-1", data)
		assert.ErrorIs(t, err, ErrAlreadyOnChain)
	})

	t.Run("missing project", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "chain_projects"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

		err := repo.MarkOnChain(ctx, "proj-gone", data)
		assert.ErrorIs(t, err, ErrProjectNotFound)
	})
}

func TestPromoteStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("promotion runs the guarded update", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects"`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.PromoteStatus(ctx, "proj-1", model.ProjectStatusPublished)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already at target is a no-op", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "chain_projects"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()
		mock.ExpectQuery(`SELECT count\(\*\) FROM "chain_projects"`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		err := repo.PromoteStatus(ctx, "proj-1", model.ProjectStatusPublished)
		assert.NoError(t, err)
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		gormDB, _, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewProjectRepository(gormDB)

		err := repo.PromoteStatus(ctx, "proj-1", "bogus")
		assert.ErrorIs(t, err, ErrStatusNotForward)
	})
}

func TestBlockchainDataRoundTrip(t *testing.T) {
	p := &model.Project{}
	in := &model.BlockchainData{
		ChainProjectID: "7",
		TxHash:         "0xabc",
		Confirmations:  3,
		Confirmed:      true,
		Timestamp:      1234567890000,
	}
	require.NoError(t, p.SetBlockchainData(in))

	out, err := p.GetBlockchainData()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	empty := &model.Project{}
	out, err = empty.GetBlockchainData()
	require.NoError(t, err)
	assert.False(t, out.Confirmed)
}
