package conn

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	gerrors "resgraph/internal/core/errors"
)

type ConstraintKind int

const (
	NoConstraint ConstraintKind = iota
	ForeignKeyViolation
	UniqueViolation
	OtherConstraint
)

// ClassifyConstraint inspects a driver error for constraint failures.
// Extended result codes are preferred; message matching covers wrapped
// errors that lost their *sqlite.Error.
func ClassifyConstraint(err error) ConstraintKind {
	if err == nil {
		return NoConstraint
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return ForeignKeyViolation
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return UniqueViolation
		}
		if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return classifyMessage(se.Error(), OtherConstraint)
		}
	}
	return classifyMessage(err.Error(), NoConstraint)
}

func classifyMessage(msg string, fallback ConstraintKind) ConstraintKind {
	msg = strings.ToUpper(msg)
	switch {
	case strings.Contains(msg, "FOREIGN KEY CONSTRAINT FAILED"):
		return ForeignKeyViolation
	case strings.Contains(msg, "UNIQUE CONSTRAINT FAILED"), strings.Contains(msg, "PRIMARY KEY"):
		return UniqueViolation
	}
	return fallback
}

// IsBusy reports whether err is SQLite's lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

// WrapErr annotates a failed statement with op. Domain errors pass through
// unchanged and lock contention becomes LOCK_TIMEOUT.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if gerrors.CodeOf(err) != "" {
		return err
	}
	if IsBusy(err) {
		return gerrors.AddContext(
			gerrors.Wrap(err, gerrors.CodeLockTimeout, "database busy"),
			gerrors.CtxOperation, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
