package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Postgres SQLSTATE codes the write paths care about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
)

// TxObserver is notified whenever a transaction is replayed and once the
// unit of work settles, retries included.
type TxObserver interface {
	ObserveTxRetry(label string)
	ObserveDBQuery(label string, duration time.Duration)
}

// TxRunnerConfig tunes retry behaviour.
type TxRunnerConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     *zap.Logger
	Observer   TxObserver
}

// TxRunner executes units of work inside database transactions, replaying them
// when Postgres aborts a serializable transaction.
type TxRunner struct {
	db         *sqlx.DB
	maxRetries uint64
	baseDelay  time.Duration
	logger     *zap.Logger
	observer   TxObserver
}

// NewTxRunner constructs a runner bound to db.
func NewTxRunner(db *sqlx.DB, cfg TxRunnerConfig) *TxRunner {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 20 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TxRunner{
		db:         db,
		maxRetries: uint64(cfg.MaxRetries),
		baseDelay:  cfg.BaseDelay,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
	}
}

// Serializable runs fn in a SERIALIZABLE transaction.
func (r *TxRunner) Serializable(ctx context.Context, label string, fn func(tx *sqlx.Tx) error) error {
	return r.run(ctx, label, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// ReadCommitted runs fn in a default-isolation transaction; row locks taken by fn
// provide the ordering.
func (r *TxRunner) ReadCommitted(ctx context.Context, label string, fn func(tx *sqlx.Tx) error) error {
	return r.run(ctx, label, nil, fn)
}

func (r *TxRunner) run(ctx context.Context, label string, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(r.baseDelay)))
	attempt := 0
	start := time.Now()
	if r.observer != nil {
		defer func() { r.observer.ObserveDBQuery(label, time.Since(start)) }()
	}
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := r.once(ctx, opts, fn)
		if err != nil && IsRetryable(err) {
			r.logger.Debug("transaction aborted, retrying",
				zap.String("tx", label),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if r.observer != nil {
				r.observer.ObserveTxRetry(label)
			}
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *TxRunner) once(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// IsRetryable reports whether err is a serialization failure or deadlock.
func IsRetryable(err error) bool {
	code := sqlState(err)
	return code == codeSerializationFailure || code == codeDeadlockDetected
}

// IsExclusionViolation reports whether err came from an exclusion constraint.
func IsExclusionViolation(err error) bool {
	return sqlState(err) == codeExclusionViolation
}

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}

// ConstraintName returns the violated constraint, if any.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
