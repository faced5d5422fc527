// Package backend defines the storage backend contract consumed by the
// dependency pipeline and the typed errors backends report.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/modeldeps/internal/model"
)

// Backend is a file store that knows paths, listings and object ids, but
// nothing about models and their dependencies.
type Backend interface {
	// FindByPath returns the object id stored at path.
	FindByPath(ctx context.Context, path string) (string, error)

	// ListDirectory lists the files and immediate child folders of path.
	// With includeDescendants, files from nested folders follow the
	// immediate files in breadth-first order.
	ListDirectory(ctx context.Context, path string, includeDescendants bool) (*model.Listing, error)

	// FetchByID returns the object's bytes and MIME type.
	FetchByID(ctx context.Context, id string) ([]byte, string, error)
}

// Status classifies a failed backend request.
type Status int

const (
	StatusOther Status = iota
	StatusNotFound
	StatusForbidden
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not_found"
	case StatusForbidden:
		return "forbidden"
	default:
		return "other"
	}
}

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// StatusError is returned by backends for requests that reached the store
// but did not succeed.
type StatusError struct {
	Op     string
	Target string
	Status Status
	Code   int // transport status code, 0 when not applicable
	Err    error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Target, e.Status)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (%d)", e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StatusError) Unwrap() error { return e.Err }

// Is matches ErrNotFound and ErrForbidden by status class.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == StatusNotFound
	case ErrForbidden:
		return e.Status == StatusForbidden
	}
	return false
}

// NotFound builds a StatusError for a missing object.
func NotFound(op, target string) error {
	return &StatusError{Op: op, Target: target, Status: StatusNotFound}
}

// StatusOf classifies any error returned by a backend.
func StatusOf(err error) Status {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrForbidden):
		return StatusForbidden
	}
	return StatusOther
}
