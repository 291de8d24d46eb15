// Package errors defines the application error taxonomy used across the
// webhook router and broadcast pipeline.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an error for routing, metrics and response mapping.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindThrottled     Kind = "throttled"
	KindUnavailable   Kind = "unavailable"
	KindProvider      Kind = "provider"
	KindUnknown       Kind = "unknown"
)

// Severity ranks an error for logging and alerting.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AppError carries the error taxonomy attributes alongside the cause chain.
type AppError struct {
	Kind      Kind
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewValidation reports malformed caller input. Never retryable and never a
// qualifying failure for circuit breakers.
func NewValidation(msg string) *AppError {
	return &AppError{
		Kind:     KindValidation,
		Message:  msg,
		Severity: SeverityLow,
	}
}

// NewAuthorization reports a missing or incorrect secret.
func NewAuthorization(msg string) *AppError {
	return &AppError{
		Kind:     KindAuthorization,
		Message:  msg,
		Severity: SeverityLow,
	}
}

// NewNotFound reports an unknown tenant or record.
func NewNotFound(msg string) *AppError {
	return &AppError{
		Kind:     KindNotFound,
		Message:  msg,
		Severity: SeverityLow,
	}
}

// NewThrottled reports a rate-limited request; no dependency calls were made.
func NewThrottled(scope string) *AppError {
	return &AppError{
		Kind:     KindThrottled,
		Message:  fmt.Sprintf("rate limit exceeded for scope %q", scope),
		Severity: SeverityLow,
	}
}

// NewUnavailable reports an exhausted dependency: retries spent or a breaker
// open. Target must already be redacted by the caller.
func NewUnavailable(dependency, target string, attempts int, cause error) *AppError {
	return &AppError{
		Kind:      KindUnavailable,
		Message:   fmt.Sprintf("dependency %s unavailable after %d attempts (target=%s)", dependency, attempts, target),
		Severity:  SeverityHigh,
		Retryable: true,
		cause:     cause,
	}
}

// NewProvider reports a failed outbound provider, webhook or integration call.
func NewProvider(op string, cause error) *AppError {
	return &AppError{
		Kind:      KindProvider,
		Message:   fmt.Sprintf("provider call %s failed", op),
		Severity:  SeverityMedium,
		Retryable: true,
		cause:     cause,
	}
}

// KindOf extracts the taxonomy kind from the error chain, falling back to a
// best-effort textual classification for unwrapped dependency errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}

	if IsTransient(err) {
		return KindUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "redis"):
		return KindUnavailable
	case strings.Contains(msg, "postgres"), strings.Contains(msg, "pgx"), strings.Contains(msg, "sqlstate"):
		return KindUnavailable
	case strings.Contains(msg, "telegram"), strings.Contains(msg, "webhook"):
		return KindProvider
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return KindValidation
	default:
		return KindUnknown
	}
}

// SeverityOf returns the severity from the chain or medium for foreign errors.
func SeverityOf(err error) Severity {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Severity
	}
	return SeverityMedium
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Retryable
	}
	return IsTransient(err)
}

// IsTransient reports whether err belongs to the connection-level failure
// classes (refused, reset, timeout, interrupted stream). Caller-input errors
// never match, so they cannot trip circuit breakers.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
