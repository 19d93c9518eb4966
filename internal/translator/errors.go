package translator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
)

type Kind int

const (
	// Transient failures are retried with backoff.
	Transient Kind = iota
	// ShapeMismatch means the service returned a different number of
	// segments than it was given.
	ShapeMismatch
	// Fatal failures are not retried.
	Fatal
	// EmptyInput is reported when a caller asks for an explicit error on an
	// empty batch. Translate itself treats empty input as a no-op.
	EmptyInput
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "TransientFailure"
	case ShapeMismatch:
		return "ShapeMismatch"
	case Fatal:
		return "FatalFailure"
	case EmptyInput:
		return "EmptyInput"
	default:
		return "Unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, kind Kind, message string) *Error {
	e := NewError(kind, message)
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsKind reports whether err carries a translator error of the given kind.
func IsKind(err error, kind Kind) bool {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or Fatal when err is not a translator error.
func KindOf(err error) Kind {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Kind
	}
	return Fatal
}

// Classify maps a service error onto the retry taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return Fatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient
	}

	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		if retryableStatus(statusErr.StatusCode) {
			return Transient
		}
		return Fatal
	}

	var apiErr *llm.Error
	if errors.As(err, &apiErr) {
		return Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	return Fatal
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= http.StatusInternalServerError
}
