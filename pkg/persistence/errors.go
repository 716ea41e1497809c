package persistence

import (
	"fmt"
	"strings"
)

// ErrorKind categorizes lifecycle errors.
type ErrorKind string

const (
	// KindValidation means a required attribute is missing or empty.
	KindValidation ErrorKind = "VALIDATION"
	// KindIllegalState means the operation is invalid for the record or session state.
	KindIllegalState ErrorKind = "ILLEGAL_STATE"
	// KindNotFound means a lookup, update or delete target is absent.
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindConstraintViolation means storage rejected a row (NOT NULL, UNIQUE, CHECK...).
	KindConstraintViolation ErrorKind = "CONSTRAINT_VIOLATION"
	// KindConnection means storage could not be reached.
	KindConnection ErrorKind = "CONNECTION"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrIllegalState        = &Error{Kind: KindIllegalState}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConstraintViolation = &Error{Kind: KindConstraintViolation}
	ErrConnection          = &Error{Kind: KindConnection}
)

// Error is the error type returned by sessions and backends.
type Error struct {
	Err   error
	Kind  ErrorKind
	Op    string
	Table string
	Field string
	Msg   string
	ID    int64
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	if e.Table != "" {
		fmt.Fprintf(&b, " (table=%s", e.Table)
		if e.ID != 0 {
			fmt.Fprintf(&b, ", id=%d", e.ID)
		}
		b.WriteString(")")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Validation reports a missing or invalid required attribute.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

// IllegalState reports an operation that is not allowed in the current state.
func IllegalState(op, msg string) *Error {
	return &Error{Kind: KindIllegalState, Op: op, Msg: msg}
}

// NotFound reports a missing row.
func NotFound(table string, id int64) *Error {
	return &Error{Kind: KindNotFound, Table: table, ID: id}
}

// ConstraintViolation wraps a storage-level constraint failure.
func ConstraintViolation(table string, err error) *Error {
	return &Error{Kind: KindConstraintViolation, Table: table, Err: err}
}

// ConnectionFailure wraps an error raised while storage was unreachable.
func ConnectionFailure(err error) *Error {
	return &Error{Kind: KindConnection, Err: err}
}

// withOp returns err annotated with op. Only a bare *Error is copied; any
// other error, including one that wraps an *Error, is wrapped with
// fmt.Errorf so its message and cause stay intact.
func withOp(op string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok && pe.Op == "" {
		cp := *pe
		cp.Op = op
		return &cp
	}
	return fmt.Errorf("%s: %w", op, err)
}
