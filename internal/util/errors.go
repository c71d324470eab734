package util

import (
	"errors"
	"fmt"
)

// ErrorKind classifies domain failures so the HTTP boundary can map them to status codes.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindValidation   ErrorKind = "validation"
	KindMaxAttempts  ErrorKind = "max_attempts"
	KindAccessDenied ErrorKind = "access_denied"
	KindForbidden    ErrorKind = "forbidden"
	KindBusy         ErrorKind = "busy"
)

// AppError carries a kind and a stable machine-readable code.
type AppError struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches two AppErrors by code so wrapped sentinels still satisfy errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(kind ErrorKind, code string, msg string) *AppError {
	return &AppError{Kind: kind, Code: code, Err: errors.New(msg)}
}

// WithDetail returns a copy of e whose message carries extra context but keeps kind and code.
func (e *AppError) WithDetail(format string, args ...interface{}) *AppError {
	return &AppError{Kind: e.Kind, Code: e.Code, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first AppError in err's chain, or "" for plain errors.
func KindOf(err error) ErrorKind {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// CodeOf returns the stable code of the first AppError in err's chain.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

var (
	ErrCourseNotFound     = NewAppError(KindNotFound, "COURSE_NOT_FOUND", "course not found")
	ErrModuleNotFound     = NewAppError(KindNotFound, "MODULE_NOT_FOUND", "module not found")
	ErrTestNotFound       = NewAppError(KindNotFound, "TEST_NOT_FOUND", "test not found")
	ErrAttemptNotFound    = NewAppError(KindNotFound, "ATTEMPT_NOT_FOUND", "attempt not found")
	ErrEnrollmentNotFound = NewAppError(KindNotFound, "ENROLLMENT_NOT_FOUND", "enrollment not found")

	ErrQuestionAnswerMismatch = NewAppError(KindValidation, "QUESTION_ANSWER_MISMATCH", "answer does not belong to question")
	ErrUnknownQuestion        = NewAppError(KindValidation, "UNKNOWN_QUESTION", "question does not belong to test")
	ErrMalformedAnswer        = NewAppError(KindValidation, "MALFORMED_ANSWER", "malformed answer")
	ErrInvalidDuration        = NewAppError(KindValidation, "INVALID_DURATION", "duration must be positive")
	ErrTestHasNoQuestions     = NewAppError(KindValidation, "TEST_HAS_NO_QUESTIONS", "test has no questions")
	ErrTestOwnership          = NewAppError(KindValidation, "TEST_OWNERSHIP", "test must belong to exactly one of course or module")
	ErrCourseNotPublished     = NewAppError(KindValidation, "COURSE_NOT_PUBLISHED", "course not published")
	ErrAlreadyEnrolled        = NewAppError(KindValidation, "ALREADY_ENROLLED", "already enrolled")

	ErrMaxAttemptsExceeded = NewAppError(KindMaxAttempts, "MAX_ATTEMPTS_EXCEEDED", "max attempts reached")
	ErrAlreadyPerfect      = NewAppError(KindMaxAttempts, "ALREADY_PERFECT", "test already passed with 100%")

	ErrModuleLocked = NewAppError(KindAccessDenied, "MODULE_LOCKED", "module locked")
	ErrNotEnrolled  = NewAppError(KindAccessDenied, "NOT_ENROLLED", "user is not enrolled in the course")

	ErrPermissionDenied = NewAppError(KindForbidden, "PERMISSION_DENIED", "permission denied")

	ErrBusy = NewAppError(KindBusy, "BUSY", "concurrent submission in progress, retry")
)
