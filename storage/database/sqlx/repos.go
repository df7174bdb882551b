package sqlxrepos

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/gruppenschlau/gruppenschlau/core"
)

// pq error codes
const (
	uniqueViolation = "23505"
)

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// connectionLost reports whether `err` means the database is gone: the pool gave up on a bad connection
// or could not dial a new one.
func connectionLost(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

// wrapErr wraps `err` with `msg`. A lost database connection becomes a shutdown error.
func wrapErr(err error, msg string) error {
	if connectionLost(err) {
		return core.NewShutdownError(fmt.Sprintf("%s: database connection lost: %v", msg, err))
	}
	return errors.Wrap(err, msg)
}

// trapNoRowsErr maps the "no rows" error to `notFound`.
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return notFound
	}
	return wrapErr(err, msg)
}

// withTx runs `fn` in a transaction, committed if `fn` succeeds.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return wrapErr(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err = tx.Commit(); err != nil {
		return wrapErr(err, "committing transaction")
	}
	return nil
}
