package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error kinds. Every error below unwraps to exactly one of these.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

var (
	ErrKeyNotFound         = kindErr(ErrNotFound, "key not found")
	ErrTeacherNotFound     = kindErr(ErrNotFound, "teacher not found")
	ErrTransactionNotFound = kindErr(ErrNotFound, "transaction not found")
	ErrOperatorNotFound    = kindErr(ErrNotFound, "operator not found")

	ErrKeyUnavailable      = kindErr(ErrConflict, "key already borrowed")
	ErrNotBorrowedByCaller = kindErr(ErrConflict, "key not borrowed by this teacher")
	ErrKeyCheckedOut       = kindErr(ErrConflict, "key checked out")
	ErrActiveTransactions  = kindErr(ErrConflict, "teacher has active transactions")
	ErrDuplicate           = kindErr(ErrConflict, "already exists")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func kindErr(kind error, msg string) error { return &kindError{kind: kind, msg: msg} }

// Postgres SQLSTATEs that mean "try the whole unit again".
var retryableStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
}

// storeErr leaves domain errors alone and tags infrastructure faults with
// ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	if IsUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// IsUnavailable reports whether err looks like a store fault rather than a bug or a
// domain rule.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func notFound(err error, as error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return as
	}
	return err
}
