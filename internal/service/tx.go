package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// runInTx runs fn in a transaction, committing when it returns nil and rolling
// back otherwise. Errors from fn are returned untouched.
func runInTx(ctx context.Context, db txProvider, fn func(tx *sqlx.Tx) error) (err error) {
	if db == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transaction")
	}
	return nil
}

// asAppError passes typed application errors through and wraps anything else
// as an internal error carrying message.
func asAppError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, message)
}

// isRejection reports whether err is a caller-facing rejection rather than an
// infrastructure failure.
func isRejection(err error) bool {
	var appErr *appErrors.Error
	return errors.As(err, &appErr) && appErr.Code != appErrors.ErrInternal.Code
}
