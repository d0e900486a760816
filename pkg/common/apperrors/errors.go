package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure of the confirmation workflow.
type Kind string

const (
	KindMissingReportID Kind = "missing_report_id"
	KindNetwork         Kind = "network_error"
	KindBackendRejected Kind = "backend_rejected"
	KindQuotaExhausted  Kind = "quota_exhausted"
	KindNoDataExtracted Kind = "no_data_extracted"
	KindFieldErrors     Kind = "field_errors"
	KindPartialField    Kind = "partial_field"
	KindNonNumericValue Kind = "non_numeric_value"
	KindNoTestData      Kind = "no_test_data"
	KindNotReady        Kind = "not_ready"
	KindEmptySubmission Kind = "empty_submission"
	KindInvalidUpload   Kind = "invalid_upload"
	KindInFlight        Kind = "submission_in_flight"
	KindSessionNotFound Kind = "session_not_found"
)

// RowFault marks a single form row that failed validation.
type RowFault struct {
	RowID string `json:"row_id"`
	Kind  Kind   `json:"kind"`
}

// Error carries a Kind plus the message shown to the user.
type Error struct {
	Kind    Kind       `json:"kind"`
	Message string     `json:"message,omitempty"`
	Rows    []RowFault `json:"rows,omitempty"`
	Err     error      `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same Kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Message == "" && len(t.Rows) == 0 && t.Err == nil
	}
	return false
}

// RowIDs lists the offending rows in order.
func (e *Error) RowIDs() []string {
	ids := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		ids = append(ids, r.RowID)
	}
	return ids
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Sentinels for errors.Is checks.
var (
	ErrMissingReportID = &Error{Kind: KindMissingReportID}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrBackendRejected = &Error{Kind: KindBackendRejected}
	ErrQuotaExhausted  = &Error{Kind: KindQuotaExhausted}
	ErrNoDataExtracted = &Error{Kind: KindNoDataExtracted}
	ErrFieldErrors     = &Error{Kind: KindFieldErrors}
	ErrNoTestData      = &Error{Kind: KindNoTestData}
	ErrNotReady        = &Error{Kind: KindNotReady}
	ErrEmptySubmission = &Error{Kind: KindEmptySubmission}
	ErrInvalidUpload   = &Error{Kind: KindInvalidUpload}
	ErrInFlight        = &Error{Kind: KindInFlight}
	ErrSessionNotFound = &Error{Kind: KindSessionNotFound}
)

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a Kind to the status the gateway answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindMissingReportID, KindFieldErrors, KindPartialField, KindNonNumericValue,
		KindNoTestData, KindEmptySubmission, KindInvalidUpload:
		return http.StatusBadRequest
	case KindNoDataExtracted, KindSessionNotFound:
		return http.StatusNotFound
	case KindNotReady, KindInFlight:
		return http.StatusConflict
	case KindQuotaExhausted:
		return http.StatusServiceUnavailable
	case KindNetwork, KindBackendRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
