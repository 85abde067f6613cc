package validation

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindEmptyInput             ErrorKind = "empty_input"
	KindMalformedSpecification ErrorKind = "malformed_specification"
	KindNoSpecifications       ErrorKind = "no_specifications"
	KindCancelled              ErrorKind = "cancelled"
	KindFailed                 ErrorKind = "failed"
)

// Error is returned by a validation run. Kind tells setup errors,
// cancellation and unexpected failures apart.
type Error struct {
	Kind ErrorKind
	error
}

func (e *Error) Unwrap() error {
	return e.error
}

var (
	ErrEmptyInput = &Error{Kind: KindEmptyInput, error: errors.New("ids document is empty")}
	ErrRunActive  = errors.New("a validation run is already active")

	errCancelRequested = errors.New("cancellation requested")
)

func NewMalformedSpecificationError(cause error) *Error {
	return &Error{Kind: KindMalformedSpecification, error: fmt.Errorf("malformed specification: %w", cause)}
}

func NewNoSpecificationsError() *Error {
	return &Error{Kind: KindNoSpecifications, error: errors.New("no valid specifications found")}
}

func NewCancellationError(cause error) *Error {
	return &Error{Kind: KindCancelled, error: fmt.Errorf("validation cancelled: %w", cause)}
}

func NewFailedError(cause error) *Error {
	return &Error{Kind: KindFailed, error: fmt.Errorf("validation failed: %w", cause)}
}

// KindOf returns the kind of a run error. Errors not produced by a run are
// reported as failures, except context cancellation.
func KindOf(err error) ErrorKind {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindFailed
}

func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}
