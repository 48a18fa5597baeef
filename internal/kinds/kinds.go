/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package kinds defines the machine-readable error taxonomy shared across
// the orchestration engine: a small set of named kinds, not a class
// hierarchy, following the teacher's preference for sentinel/typed errors
// over exceptions.
package kinds

import "errors"

// Kind is a machine-readable error category.
type Kind string

const (
	ValidationError   Kind = "ValidationError"
	TransientIOError  Kind = "TransientIOError"
	BreakerOpen       Kind = "BreakerOpen"
	BudgetExceeded    Kind = "BudgetExceeded"
	ChainIntegrity    Kind = "ChainIntegrityError"
	ProofHashMismatch Kind = "ProofHashMismatch"
	Cancelled         Kind = "CancelledError"
	Internal          Kind = "InternalError"
)

// Error pairs a Kind with a human reason, and optionally wraps a cause.
type Error struct {
	Kind   Kind
	Reason string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a kinded error.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap constructs a kinded error around a cause.
func Wrap(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Cause: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind == kind
	}
	return false
}

// Retryable reports whether a kind is eligible for C4/C8 retry handling.
// TransientIOError and BreakerOpen are retryable; everything else,
// CancelledError included, is a terminal outcome for the caller.
func Retryable(kind Kind) bool {
	switch kind {
	case TransientIOError, BreakerOpen:
		return true
	default:
		return false
	}
}
