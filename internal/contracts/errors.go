package contracts

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("not found")

// ErrorKind is the machine-readable category of a domain error
type ErrorKind string

// ⭐ SSOT: 에러 분류는 여기서만 정의
const (
	KindMalformedRow          ErrorKind = "MALFORMED_ROW"
	KindInvalidDateFormat     ErrorKind = "INVALID_DATE_FORMAT"
	KindInvalidAmount         ErrorKind = "INVALID_AMOUNT"
	KindMultiSheetNotAllowed  ErrorKind = "MULTI_SHEET_NOT_ALLOWED"
	KindRowLimitExceeded      ErrorKind = "ROW_LIMIT_EXCEEDED"
	KindDuplicateDateInBatch  ErrorKind = "DUPLICATE_DATE_IN_BATCH"
	KindEmptyBatch            ErrorKind = "EMPTY_BATCH"
	KindFieldValidationFailed ErrorKind = "FIELD_VALIDATION_FAILED"
	KindUnsupportedFile       ErrorKind = "UNSUPPORTED_FILE"
	KindStrategyNotFound      ErrorKind = "STRATEGY_NOT_FOUND"
	KindAccessDenied          ErrorKind = "ACCESS_DENIED"
	KindAggregateNotFound     ErrorKind = "AGGREGATE_NOT_FOUND"
	KindRecordNotFound        ErrorKind = "RECORD_NOT_FOUND"
	KindInvalidArgument       ErrorKind = "INVALID_ARGUMENT"
)

// RowError describes one offending row (and optionally column) of a batch
type RowError struct {
	Row     int       `json:"row"`
	Column  string    `json:"column,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (r RowError) String() string {
	if r.Column != "" {
		return fmt.Sprintf("row %d (%s): %s", r.Row, r.Column, r.Message)
	}
	return fmt.Sprintf("row %d: %s", r.Row, r.Message)
}

// Error is a domain error with a kind, a human-readable message and,
// for batch failures, every offending row
type Error struct {
	Kind    ErrorKind
	Message string
	Rows    []RowError
	Err     error
}

// NewError creates a domain error
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewBatchError creates a domain error carrying row problems; the kind is taken from the first row
func NewBatchError(rows []RowError) *Error {
	first := rows[0]
	msg := first.String()
	if len(rows) > 1 {
		msg = fmt.Sprintf("%s (and %d more problems)", msg, len(rows)-1)
	}
	return &Error{Kind: first.Kind, Message: msg, Rows: rows}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithCause attaches an underlying error
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// KindOf returns the domain kind of err, or "" if err is not a domain error
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is a domain error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
