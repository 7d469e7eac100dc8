// Package repository implements PostgreSQL persistence for the
// marketplace mirror.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Retryable PostgreSQL error codes.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	// Class 40: Transaction Rollback
	pgErrSerializationFailure = "40001"
	pgErrDeadlockDetected     = "40P01"

	// Class 08: Connection Exception
	pgErrConnectionFailure    = "08006"
	pgErrConnectionException  = "08000"
	pgErrSQLClientCantConnect = "08001"

	// Class 53: Insufficient Resources
	pgErrInsufficientResources = "53000"
	pgErrDiskFull              = "53100"
	pgErrOutOfMemory           = "53200"
	pgErrTooManyConnections    = "53300"

	// Class 57: Operator Intervention
	pgErrQueryCanceled    = "57014"
	pgErrAdminShutdown    = "57P01"
	pgErrCrashShutdown    = "57P02"
	pgErrCannotConnectNow = "57P03"
	pgErrDatabaseDropped  = "57P04"
)

// Repository is the shared persistence base.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates the base repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type txKey struct{}

// DB returns the connection, honoring an ambient transaction.
func (r *Repository) DB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Transaction runs fn inside one database transaction.
func (r *Repository) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

// TransactionWithRetry reruns fn on transient failures with
// exponential backoff.
func (r *Repository) TransactionWithRetry(ctx context.Context, maxRetries int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = r.Transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableError(err) {
			return err
		}
		time.Sleep(time.Duration(1<<uint(i)) * 100 * time.Millisecond)
	}
	return err
}

// isRetryableError classifies deadlocks, serialization failures,
// connection drops and transient resource exhaustion as retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected:
			return true
		case pgErrConnectionFailure, pgErrConnectionException, pgErrSQLClientCantConnect:
			return true
		case pgErrInsufficientResources, pgErrTooManyConnections:
			return true
		case pgErrQueryCanceled, pgErrCannotConnectNow:
			return true
		// disk full, OOM, shutdowns need intervention, not retries
		case pgErrDiskFull, pgErrOutOfMemory,
			pgErrAdminShutdown, pgErrCrashShutdown, pgErrDatabaseDropped:
			return false
		}
	}

	return false
}

// Pagination carries list query paging state.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// Offset computes the row offset.
func (p *Pagination) Offset() int {
	if p.Page <= 0 {
		p.Page = 1
	}
	return (p.Page - 1) * p.PageSize
}

// Limit returns the clamped page size.
func (p *Pagination) Limit() int {
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p.PageSize
}

// QueryOptions carries row locking options.
type QueryOptions struct {
	ForUpdate bool
	NoWait    bool
}

// ApplyLock applies SELECT ... FOR UPDATE when requested.
func (o *QueryOptions) ApplyLock(db *gorm.DB) *gorm.DB {
	if o == nil || !o.ForUpdate {
		return db
	}
	if o.NoWait {
		return db.Clauses(clause.Locking{
			Strength: "UPDATE",
			Options:  "NOWAIT",
		})
	}
	return db.Clauses(clause.Locking{
		Strength: "UPDATE",
	})
}
