package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindValidation           Kind = "validation"
	KindTransientProvider    Kind = "transient_provider"
	KindQuotaExceeded        Kind = "quota_exceeded"
	KindGenerationFailed     Kind = "generation_failed"
	KindMediaToolUnavailable Kind = "media_tool_unavailable"
	KindMediaToolFailed      Kind = "media_tool_failed"
	KindDownloadFailed       Kind = "download_failed"
	KindPersistence          Kind = "persistence"
	KindNotFound             Kind = "not_found"
	KindInvalidTransition    Kind = "invalid_transition"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

// Error is the error type shared by every layer of the pipeline.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Raw     error
	Details map[string]string
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Raw != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Raw)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Raw
}

// WithDetail attaches a key/value pair and returns the same error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithOp records the operation that produced the error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

func newError(kind Kind, message string, raw error) *Error {
	return &Error{Kind: kind, Message: message, Raw: raw}
}

func Validation(message string) *Error {
	return newError(KindValidation, message, nil)
}

func Validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func TransientProvider(service string, err error) *Error {
	return newError(KindTransientProvider, fmt.Sprintf("%s call failed", service), err).
		WithDetail("service", service)
}

func QuotaExceeded(service string, err error) *Error {
	return newError(KindQuotaExceeded, fmt.Sprintf("%s quota exceeded", service), err).
		WithDetail("service", service)
}

// GenerationFailed carries a human-readable reason suitable for a clip's error message.
func GenerationFailed(reason string, err error) *Error {
	return newError(KindGenerationFailed, reason, err)
}

func MediaToolUnavailable(tool string, err error) *Error {
	return newError(KindMediaToolUnavailable, fmt.Sprintf("%s is not available", tool), err).
		WithDetail("tool", tool)
}

// MediaToolFailed keeps the tail of the tool's diagnostic output.
func MediaToolFailed(tool, output string, err error) *Error {
	return newError(KindMediaToolFailed, fmt.Sprintf("%s exited with an error", tool), err).
		WithDetail("tool", tool).
		WithDetail("output", output)
}

func DownloadFailed(url string, err error) *Error {
	return newError(KindDownloadFailed, "artifact download failed", err).
		WithDetail("url", url)
}

func Persistence(op string, err error) *Error {
	return newError(KindPersistence, "state write failed", err).WithOp(op)
}

func NotFound(resource string) *Error {
	return newError(KindNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func InvalidTransition(machine, from, to string) *Error {
	return newError(KindInvalidTransition, fmt.Sprintf("invalid %s transition %s -> %s", machine, from, to), nil).
		WithDetail("from", from).
		WithDetail("to", to)
}

func Conflict(message string) *Error {
	return newError(KindConflict, message, nil)
}

func Internal(err error) *Error {
	return newError(KindInternal, "internal error", err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Raw
	}
	return false
}

// Message returns the human-readable message of the outermost *Error, or err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Raw != nil && e.Kind == KindGenerationFailed {
			return fmt.Sprintf("%s: %v", e.Message, e.Raw)
		}
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindInvalidTransition:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindTransientProvider, KindGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
