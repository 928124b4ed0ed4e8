package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline and executor errors for retry, halt, and
// reporting decisions.
type ErrorKind int

const (
	// KindValidation is a preflight failure: missing args, bad path, bad
	// command, oversized payload, schema mismatch. Never retried.
	KindValidation ErrorKind = iota

	// KindPolicy is a plan-mode, policy, or HITL denial. Halts further tool
	// calls this turn.
	KindPolicy

	// KindTimeout means the executor exceeded its bound.
	KindTimeout

	// KindRateLimited means a provider or tool rate limit was hit. Halts
	// further tool calls this turn.
	KindRateLimited

	// KindTransient is a retryable network or transient I/O failure.
	KindTransient

	// KindPermanent is a code fault or invariant violation. Never retried.
	KindPermanent

	// KindCancelled is a user or system cancellation. Terminal for the turn.
	KindCancelled
)

// String returns the kind label.
func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy_violation"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether errors of this kind should be retried.
func (k ErrorKind) IsRetryable() bool {
	return k == KindTransient
}

// HaltsTurn reports whether errors of this kind abort the remainder of the
// turn's tool calls.
func (k ErrorKind) HaltsTurn() bool {
	return k == KindPolicy || k == KindRateLimited
}

// ClassifiedError wraps an error with its classification so downstream
// decisions are table-driven.
type ClassifiedError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap enables errors.Is/errors.As on the cause chain.
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// Classify examines an executor error and returns it wrapped with a kind.
// Already-classified errors pass through unchanged.
func Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.Canceled) {
		return &ClassifiedError{Kind: KindCancelled, Message: "cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Kind: KindTimeout, Message: "deadline exceeded", Cause: err}
	}

	errStr := strings.ToLower(err.Error())

	for _, pattern := range []string{"rate limit", "rate-limit", "429", "too many requests"} {
		if strings.Contains(errStr, pattern) {
			return &ClassifiedError{Kind: KindRateLimited, Message: "rate limited", Cause: err}
		}
	}

	for _, pattern := range []string{"denied by policy", "not allowed", "permission denied by"} {
		if strings.Contains(errStr, pattern) {
			return &ClassifiedError{Kind: KindPolicy, Message: "policy denial", Cause: err}
		}
	}

	for _, pattern := range []string{"timed out", "timeout"} {
		if strings.Contains(errStr, pattern) {
			return &ClassifiedError{Kind: KindTimeout, Message: "execution timed out", Cause: err}
		}
	}

	for _, pattern := range []string{
		"connection refused", "connection reset", "broken pipe", "temporarily unavailable",
		"502", "503", "504", "network", "i/o timeout", "eof",
	} {
		if strings.Contains(errStr, pattern) {
			return &ClassifiedError{Kind: KindTransient, Message: "transient failure", Cause: err}
		}
	}

	return &ClassifiedError{Kind: KindPermanent, Message: "execution failed", Cause: err}
}
