// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import (
	"context"
	"errors"
)

// ErrorKind is the stable wire name for a failure class. Item-level kinds end
// up in BatchItemOutcome.ErrorKind, call-level kinds fail the whole request.
type ErrorKind string

const (
	KindValidation          = ErrorKind("ValidationError")
	KindTransientRemote     = ErrorKind("TransientRemoteError")
	KindPermanentRemote     = ErrorKind("PermanentRemoteError")
	KindAnalysisUnavailable = ErrorKind("AnalysisUnavailable")
	KindBatchTooLarge       = ErrorKind("BatchTooLarge")
	KindInvalidBatchSize    = ErrorKind("InvalidBatchSize")
	KindCancelled           = ErrorKind("Cancelled")
	KindTimeout             = ErrorKind("Timeout")
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrRateLimited         = errors.New("rate limited")
	ErrTransient           = errors.New("transient remote error")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	ErrBatchTooLarge       = errors.New("batch too large")
	ErrInvalidBatchSize    = errors.New("invalid batch size")
)

// Transient reports whether err is worth retrying against the remote store.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorKindOf maps an error to its wire kind. Unrecognized errors are
// reported as transient so the caller's retry path stays conservative.
func ErrorKindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrBatchTooLarge):
		return KindBatchTooLarge
	case errors.Is(err, ErrInvalidBatchSize):
		return KindInvalidBatchSize
	case errors.Is(err, ErrAnalysisUnavailable):
		return KindAnalysisUnavailable
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPermissionDenied):
		return KindPermanentRemote
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransientRemote
	}
}
