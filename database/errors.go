package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

var (
	ErrUsernameTaken       = errors.New("username already taken")
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientShares  = errors.New("selling more shares than shares owned")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrConcurrencyConflict = errors.New("concurrent update conflict")
)

var ledgerErrors = []error{
	ErrUsernameTaken,
	ErrAccountNotFound,
	ErrInsufficientFunds,
	ErrInsufficientShares,
	ErrInvalidArgument,
	ErrStorageUnavailable,
	ErrConcurrencyConflict,
}

// IsRetryable reports whether the caller may resubmit the same request after
// a backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConcurrencyConflict)
}

// classify maps driver errors onto the ledger's error taxonomy. Errors that
// already carry a ledger sentinel, and errors it does not recognise, are
// returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range ledgerErrors {
		if errors.Is(err, known) {
			return err
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "55P03": // lock_not_available
			return wrap(ErrConcurrencyConflict, err)
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08", // connection_exception
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return wrap(ErrStorageUnavailable, err)
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return wrap(ErrConcurrencyConflict, err)
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return wrap(ErrStorageUnavailable, err)
		}
		return err
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connErr),
		errors.As(err, &netErr),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, context.DeadlineExceeded):
		return wrap(ErrStorageUnavailable, err)
	}
	return err
}

func wrap(kind, cause error) error {
	return fmt.Errorf("%w: %w", kind, cause)
}

// isUniqueViolation recognises a unique-index violation whether or not the
// dialect translated it to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
