// Package apperror defines the typed rejections returned by the booking engine.
// Every rejection carries a stable machine-readable code and a human-readable
// message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the API boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAuthorization     Kind = "authorization"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_state_transition"
	KindExpired           Kind = "expired"
	KindDependency        Kind = "dependency"
	KindInternal          Kind = "internal"
)

// Stable reason codes.
const (
	CodeInvalidDuration        = "invalid_duration"
	CodeInvalidType            = "invalid_type"
	CodeInvalidDate            = "invalid_date"
	CodeMissingField           = "missing_field"
	CodeInvalidStatus          = "invalid_status"
	CodeAdvisorNotFound        = "advisor_not_found"
	CodeClientNotFound         = "client_not_found"
	CodeAppointmentNotFound    = "appointment_not_found"
	CodeNotAssigned            = "not_assigned"
	CodeAdvisorNotAvailable    = "advisor_not_available"
	CodeAdvisorNotAvailableDay = "advisor_not_available_day"
	CodeOutsideWorkingHours    = "outside_working_hours"
	CodeInvalidTransition      = "invalid_transition"
	CodeConfirmationExpired    = "confirmation_expired"
	CodeConsultationNotReady   = "consultation_not_ready"
	CodeConsultationExpired    = "consultation_expired"
	CodeConsultationEnded      = "consultation_ended"
	CodeOnlyCompleted          = "only_completed"
	CodeConcurrentModification = "concurrent_modification"
	CodeRefundFailed           = "refund_failed"
	CodeNotificationFailed     = "notification_failed"
)

// Error is a typed rejection.
type Error struct {
	Kind    Kind                   `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail returns a copy of e with the given detail attached.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// HTTPStatus maps the error kind to a response status.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a kind to an HTTP status code.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindExpired:
		return http.StatusGone
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error    { return newError(KindValidation, code, msg) }
func NotFound(code, msg string) *Error      { return newError(KindNotFound, code, msg) }
func Authorization(code, msg string) *Error { return newError(KindAuthorization, code, msg) }
func Conflict(code, msg string) *Error      { return newError(KindConflict, code, msg) }
func Expired(code, msg string) *Error       { return newError(KindExpired, code, msg) }

// InvalidTransition reports a status change the state machine does not allow.
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot change status from %s to %s", from, to),
		Details: map[string]interface{}{"from": from, "to": to},
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// HasCode reports whether err carries the given reason code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// Warning is a non-fatal dependency failure attached to an otherwise
// successful result.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dependency builds a warning for a failed collaborator call.
func Dependency(code string, err error) Warning {
	return Warning{Code: code, Message: err.Error()}
}
