package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/abdul-abdi/blockcreative-sub000/internal/model"
)

var (
	ErrTransactionNotFound  = errors.New("chain transaction not found")
	ErrDuplicateTransaction = errors.New("chain transaction already recorded")
)

const pgErrUniqueViolation = "23505"

// TransactionRepository persists the chain transaction mirror.
type TransactionRepository interface {
	Create(ctx context.Context, tx *model.ChainTransaction) error
	GetByTxHash(ctx context.Context, txHash string) (*model.ChainTransaction, error)

	// Complete moves a pending row to completed.
	Complete(ctx context.Context, txHash string) error
	// Fail moves a pending row to failed with a reason.
	Fail(ctx context.Context, txHash string, errMsg string) error

	ListByProject(ctx context.Context, projectID string, page *Pagination) ([]*model.ChainTransaction, error)
	ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.ChainTransaction, error)
	ListPending(ctx context.Context, limit int) ([]*model.ChainTransaction, error)
	CountByStatus(ctx context.Context, status model.MirrorTxStatus) (int64, error)
}

type transactionRepository struct {
	*Repository
}

// NewTransactionRepository creates the transaction mirror repository.
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{Repository: NewRepository(db)}
}

func (r *transactionRepository) Create(ctx context.Context, tx *model.ChainTransaction) error {
	now := time.Now().UnixMilli()
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if tx.Status == "" {
		tx.Status = model.MirrorTxStatusPending
	}

	err := r.DB(ctx).Create(tx).Error
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return ErrDuplicateTransaction
	}
	return err
}

func (r *transactionRepository) GetByTxHash(ctx context.Context, txHash string) (*model.ChainTransaction, error) {
	var tx model.ChainTransaction
	err := r.DB(ctx).Where("tx_hash = ?", txHash).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Complete(ctx context.Context, txHash string) error {
	return r.updateStatus(ctx, txHash, model.MirrorTxStatusCompleted, "")
}

func (r *transactionRepository) Fail(ctx context.Context, txHash string, errMsg string) error {
	if len(errMsg) > 500 {
		errMsg = errMsg[:500]
	}
	return r.updateStatus(ctx, txHash, model.MirrorTxStatusFailed, errMsg)
}

func (r *transactionRepository) updateStatus(ctx context.Context, txHash string, status model.MirrorTxStatus, errMsg string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UnixMilli(),
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}

	// terminal rows stay terminal; only pending rows move
	result := r.DB(ctx).Model(&model.ChainTransaction{}).
		Where("tx_hash = ? AND status = ?", txHash, model.MirrorTxStatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.DB(ctx).Model(&model.ChainTransaction{}).Where("tx_hash = ?", txHash).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrTransactionNotFound
		}
		return nil
	}
	return nil
}

func (r *transactionRepository) ListByProject(ctx context.Context, projectID string, page *Pagination) ([]*model.ChainTransaction, error) {
	return r.list(ctx, "project_id = ?", projectID, page)
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID string, page *Pagination) ([]*model.ChainTransaction, error) {
	return r.list(ctx, "user_id = ?", userID, page)
}

func (r *transactionRepository) list(ctx context.Context, cond string, arg string, page *Pagination) ([]*model.ChainTransaction, error) {
	var txs []*model.ChainTransaction

	query := r.DB(ctx).Model(&model.ChainTransaction{}).Where(cond, arg)
	if page != nil {
		if err := query.Count(&page.Total).Error; err != nil {
			return nil, err
		}
		query = query.Offset(page.Offset()).Limit(page.Limit())
	}

	err := query.Order("created_at DESC").Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) ListPending(ctx context.Context, limit int) ([]*model.ChainTransaction, error) {
	var txs []*model.ChainTransaction
	err := r.DB(ctx).
		Where("status = ?", model.MirrorTxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) CountByStatus(ctx context.Context, status model.MirrorTxStatus) (int64, error) {
	var count int64
	err := r.DB(ctx).Model(&model.ChainTransaction{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
