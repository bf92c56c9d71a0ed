package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for the payment/export core. Handlers map Status to the HTTP
// response; services compare with Is/CodeOf.
const (
	CodeDuplicateEntity            = "duplicate_entity"
	CodeInvalidTransition          = "invalid_transition"
	CodeInvalidSignature           = "invalid_signature"
	CodeBelowMinimumChargeable     = "below_minimum_chargeable"
	CodeUpgradeOnlyViolation       = "upgrade_only_violation"
	CodeNothingToExport            = "nothing_to_export"
	CodeAlreadySent                = "already_sent"
	CodeDownstreamSideEffectFailed = "downstream_side_effect_failed"
	CodeNotFound                   = "not_found"
	CodeValidation                 = "validation_failed"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Newf(status int, code string, format string, args ...interface{}) *Error {
	return &Error{Status: status, Code: code, Err: fmt.Errorf(format, args...)}
}

func DuplicateEntity(format string, args ...interface{}) *Error {
	return Newf(http.StatusConflict, CodeDuplicateEntity, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return Newf(http.StatusConflict, CodeInvalidTransition, format, args...)
}

func InvalidSignature(err error) *Error {
	return New(http.StatusBadRequest, CodeInvalidSignature, err)
}

func BelowMinimumChargeable(amountCents, minCents int64) *Error {
	return Newf(http.StatusUnprocessableEntity, CodeBelowMinimumChargeable,
		"amount %d is below the minimum chargeable %d", amountCents, minCents)
}

func UpgradeOnlyViolation(format string, args ...interface{}) *Error {
	return Newf(http.StatusUnprocessableEntity, CodeUpgradeOnlyViolation, format, args...)
}

func NothingToExport(year int) *Error {
	return Newf(http.StatusConflict, CodeNothingToExport, "no unexported items for year %d", year)
}

func AlreadySent(batchID string) *Error {
	return Newf(http.StatusConflict, CodeAlreadySent, "export batch %s already sent", batchID)
}

func NotFound(format string, args ...interface{}) *Error {
	return Newf(http.StatusNotFound, CodeNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return Newf(http.StatusBadRequest, CodeValidation, format, args...)
}

// CodeOf extracts the apierr code from an error chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return CodeOf(err) == code
}

// StatusOf maps an error chain to an HTTP status, defaulting to 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}
