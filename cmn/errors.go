// Package cmn provides shared constants, configuration, and the error-kind
// taxonomy used across the capture index server.
/*
 * Copyright (c) 2024-2026, outbackcdx contributors. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error the way the HTTP layer needs to: to pick a
// status code and to decide whether a write batch partially committed.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindNotFound
	KindForbidden
	KindConflict
	KindSequenceTruncated
	KindUnknownRecordVersion
	KindStorageError
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindNotFound:
		return "NotFound"
	case KindForbidden:
		return "Forbidden"
	case KindConflict:
		return "Conflict"
	case KindSequenceTruncated:
		return "SequenceTruncated"
	case KindUnknownRecordVersion:
		return "UnknownRecordVersion"
	case KindStorageError:
		return "StorageError"
	default:
		return "Internal"
	}
}

// HTTPStatus maps a Kind onto the status code the capsrv layer should send.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindSequenceTruncated:
		return 410
	case KindUnknownRecordVersion, KindStorageError, KindInternal:
		return 500
	default:
		return 500
	}
}

// Error is the concrete error type threaded through every component. It
// wraps an underlying cause (often produced via pkg/errors.Wrap so a stack
// trace survives logging) with the Kind the HTTP layer needs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: errors.WithStack(cause)}
}

func BadRequestf(format string, args ...interface{}) *Error {
	return NewError(KindBadRequest, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return NewError(KindNotFound, format, args...)
}

func Forbiddenf(format string, args ...interface{}) *Error {
	return NewError(KindForbidden, format, args...)
}

// KindOf recovers the Kind of an error produced anywhere in the stack,
// defaulting to Internal for errors that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
