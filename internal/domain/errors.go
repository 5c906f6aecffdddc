package domain

import (
	"context"
	"fmt"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrNotFound            = errors.Base("not found")
	ErrPermissionDenied    = errors.Base("permission denied")
	ErrAlreadyExists       = errors.Base("already exists")
	ErrConflict            = errors.Base("conflict")
	ErrNotEmpty            = errors.Base("directory not empty")
	ErrProviderUnavailable = errors.Base("provider unavailable")
	ErrUnsupported         = errors.Base("unsupported")
	ErrConfiguration       = errors.Base("configuration error")
	ErrPartialTransfer     = errors.Base("partial transfer")
	ErrSkipped             = errors.Base("skipped")
)

var classes = []error{
	ErrNotFound,
	ErrPermissionDenied,
	ErrAlreadyExists,
	ErrConflict,
	ErrNotEmpty,
	ErrProviderUnavailable,
	ErrUnsupported,
	ErrConfiguration,
	ErrSkipped,
}

// OpError records a failed provider operation. Kind is one of the error
// classes above and Err is the backend's own error, if any.
type OpError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func NewOpError(op, entryPath string, kind, cause error) *OpError {
	return &OpError{Op: op, Path: entryPath, Kind: kind, Err: cause}
}

func (opErr *OpError) Error() string {
	if opErr.Err == nil {
		return fmt.Sprintf("%s %s: %v", opErr.Op, opErr.Path, opErr.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", opErr.Op, opErr.Path, opErr.Kind, opErr.Err)
}

func (opErr *OpError) Unwrap() []error {
	if opErr.Err == nil {
		return []error{opErr.Kind}
	}
	return []error{opErr.Kind, opErr.Err}
}

// Transient reports whether err may succeed on another attempt.
func Transient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// Reason renders the short text shown next to a mark whose task failed.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	for _, class := range classes {
		if errors.Is(err, class) {
			return class.Error()
		}
	}
	return err.Error()
}
