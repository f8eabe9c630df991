// Package retry classifies failures, retries the retryable ones with
// exponential backoff, and isolates failing dependencies behind circuit
// breakers held in an explicitly constructed Registry.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"syscall"
)

// Category groups failures by where they originate.
type Category string

// Error categories.
const (
	CategoryNetwork        Category = "network"
	CategoryFilesystem     Category = "filesystem"
	CategoryDevice         Category = "device"
	CategoryTransfer       Category = "transfer"
	CategoryPermission     Category = "permission"
	CategoryTimeout        Category = "timeout"
	CategoryConfiguration  Category = "configuration"
	CategoryValidation     Category = "validation"
	CategoryResource       Category = "resource"
	CategoryAuthentication Category = "authentication"
)

// Severity ranks how serious a failure is.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Class decides whether a failure is worth another attempt.
type Class string

// Retry classes.
const (
	Retryable     Class = "retryable"
	NonRetryable  Class = "non_retryable"
	Conditionally Class = "conditional"
)

type categoryDefaults struct {
	severity Severity
	class    Class
}

var defaults = map[Category]categoryDefaults{
	CategoryNetwork:        {SeverityMedium, Retryable},
	CategoryTimeout:        {SeverityMedium, Retryable},
	CategoryTransfer:       {SeverityMedium, Retryable},
	CategoryFilesystem:     {SeverityHigh, Conditionally},
	CategoryDevice:         {SeverityHigh, Conditionally},
	CategoryResource:       {SeverityHigh, Conditionally},
	CategoryPermission:     {SeverityHigh, NonRetryable},
	CategoryAuthentication: {SeverityHigh, NonRetryable},
	CategoryValidation:     {SeverityMedium, NonRetryable},
	CategoryConfiguration:  {SeverityCritical, NonRetryable},
}

// ErrCircuitOpen is returned when a breaker short-circuits a call.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Error is a classified failure.
type Error struct {
	Category Category
	Severity Severity
	Class    Class
	Op       string
	Err      error
}

// New classifies err under category using the category's default severity
// and retry class.
func New(category Category, op string, err error) *Error {
	d, ok := defaults[category]
	if !ok {
		d = categoryDefaults{SeverityMedium, Conditionally}
	}
	return &Error{Category: category, Severity: d.severity, Class: d.class, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(category Category, format string, args ...any) *Error {
	return New(category, "", fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Category, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Notify reports whether the failure should be surfaced to the operator
// immediately instead of waiting for retries.
func (e *Error) Notify() bool {
	return e.Category == CategoryConfiguration || e.Category == CategoryValidation ||
		e.Severity == SeverityCritical
}

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Classify maps an arbitrary error onto the taxonomy. It returns nil for a
// nil error and passes an existing *Error through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	switch {
	case errors.Is(err, context.Canceled):
		e := New(CategoryTransfer, "", err)
		e.Class = NonRetryable
		e.Severity = SeverityLow
		return e
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ETIMEDOUT):
		return New(CategoryTimeout, "", err)
	case errors.Is(err, ErrCircuitOpen):
		e := New(CategoryNetwork, "", err)
		e.Class = NonRetryable
		return e
	}

	var status *StatusError
	if errors.As(err, &status) {
		return classifyStatus(status)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(CategoryTimeout, "", err)
		}
		return New(CategoryNetwork, "", err)
	}

	switch {
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return New(CategoryPermission, "", err)
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT), errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENOMEM):
		return New(CategoryResource, "", err)
	case errors.Is(err, syscall.EIO), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.EROFS), errors.Is(err, syscall.ESTALE):
		return New(CategoryDevice, "", err)
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return New(CategoryNetwork, "", err)
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
		return New(CategoryFilesystem, "", err)
	}

	return New(CategoryTransfer, "", err)
}

func classifyStatus(s *StatusError) *Error {
	switch {
	case s.Code == http.StatusUnauthorized || s.Code == http.StatusForbidden:
		return New(CategoryAuthentication, "", s)
	case s.Code == http.StatusRequestTimeout || s.Code == http.StatusGatewayTimeout:
		return New(CategoryTimeout, "", s)
	case s.Code == http.StatusTooManyRequests || s.Code >= 500:
		return New(CategoryNetwork, "", s)
	case s.Code == http.StatusRequestedRangeNotSatisfiable:
		return New(CategoryTransfer, "", s)
	default:
		return New(CategoryValidation, "", s)
	}
}

// IsRetryable reports whether err is worth retrying at all.
func IsRetryable(err error) bool {
	e := Classify(err)
	return e != nil && e.Class != NonRetryable
}

// CategoryOf returns the category string for err, or "" for nil.
func CategoryOf(err error) string {
	if e := Classify(err); e != nil {
		return string(e.Category)
	}
	return ""
}
