// Package apperr defines the error taxonomy shared by every stage of the
// pipeline and the mapping from error kinds to process exit codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error by how the caller should react to it
type Kind string

const (
	KindGeneral       Kind = "general"
	KindConfiguration Kind = "configuration"
	KindData          Kind = "data"
	KindNetwork       Kind = "network"
	KindAuthorization Kind = "authorization"
)

// Process exit codes
const (
	ExitSuccess       = 0
	ExitGeneral       = 1
	ExitConfiguration = 2
	ExitNetwork       = 3
	ExitData          = 4
	ExitAuthorization = 5
)

// Error is a classified error
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configuration wraps a bad or missing setting
func Configuration(op string, err error) *Error {
	return New(KindConfiguration, op, err)
}

// Data wraps insufficient, missing or malformed data
func Data(op string, err error) *Error {
	return New(KindData, op, err)
}

// Network wraps a transient transport failure
func Network(op string, err error) *Error {
	return New(KindNetwork, op, err)
}

// Authorization wraps a rejected credential or request
func Authorization(op string, err error) *Error {
	return New(KindAuthorization, op, err)
}

// Configf is shorthand for Configuration(op, fmt.Errorf(...))
func Configf(op, format string, args ...interface{}) *Error {
	return Configuration(op, fmt.Errorf(format, args...))
}

// Dataf is shorthand for Data(op, fmt.Errorf(...))
func Dataf(op, format string, args ...interface{}) *Error {
	return Data(op, fmt.Errorf(format, args...))
}

// FromStatus classifies a non-2xx HTTP response
func FromStatus(op string, code int, body string) *Error {
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(code)
	}
	e := &Error{Op: op, StatusCode: code, Err: errors.New(msg)}

	switch {
	case code == http.StatusTooManyRequests,
		code == http.StatusRequestTimeout,
		code >= 500:
		e.Kind = KindNetwork
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden:
		e.Kind = KindAuthorization
	case code == http.StatusUnprocessableEntity:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "no data") || strings.Contains(lower, "not found") {
			e.Kind = KindData
		} else {
			e.Kind = KindConfiguration
		}
	case code == http.StatusNotFound:
		e.Kind = KindData
	default:
		e.Kind = KindGeneral
	}
	return e
}

// FromTransport classifies an error returned by the HTTP transport itself
// Cancellation by the caller is not retryable and stays general.
func FromTransport(op string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return New(KindGeneral, op, err)
	}
	return Network(op, err)
}

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneral
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Retryable reports whether err is worth retrying
func Retryable(err error) bool {
	return Is(err, KindNetwork)
}

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindConfiguration:
		return ExitConfiguration
	case KindNetwork:
		return ExitNetwork
	case KindData:
		return ExitData
	case KindAuthorization:
		return ExitAuthorization
	default:
		return ExitGeneral
	}
}
