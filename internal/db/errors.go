package db

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/Keoroanthony/go-checkout/internal/errs"
)

// PostgreSQL SQLSTATE codes we classify.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeCannotConnectNow     = "57P03"
	codeTooManyConnections   = "53300"
	classConnection          = "08"
)

// Translate converts a storage error into the errs taxonomy. Errors that are
// already part of the taxonomy pass through untouched.
func Translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errs.IsDomain(err) {
		return err
	}
	if IsRetryable(err) {
		return &errs.TransientError{Op: op, Err: err}
	}
	return &errs.InternalError{Op: op, Err: err}
}

func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if code := pgCode(err); code != "" {
		return code == codeUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// IsRetryable reports contention, timeouts and connection loss.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if code := pgCode(err); code != "" {
		switch code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable,
			codeQueryCanceled, codeCannotConnectNow, codeTooManyConnections:
			return true
		}
		return strings.HasPrefix(code, classConnection)
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
