package fixtures

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotImplemented is matched by every NotImplementedError.
var ErrNotImplemented = errors.New("not implemented")

// NotImplementedError is returned when a lifecycle is asked to insert or remove a record but no
// backend operation was furnished for it.
type NotImplementedError struct {
	Op string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%v must be implemented in your data fixture", e.Op)
}

func (e *NotImplementedError) Is(target error) bool {
	return target == ErrNotImplemented
}

// Backend persists single records on behalf of a Lifecycle.
//
// Implementations report expected failures through the returned error and must not return before the
// underlying store call has completed; a record is only tracked once Insert returns nil.
type Backend[R any] interface {
	Insert(ctx context.Context, record R) error
	Remove(ctx context.Context, record R) error
}

// BackendFuncs adapts a pair of functions to the Backend interface. A nil function reports
// NotImplementedError for its operation.
type BackendFuncs[R any] struct {
	InsertFunc func(ctx context.Context, record R) error
	RemoveFunc func(ctx context.Context, record R) error
}

var _ Backend[any] = BackendFuncs[any]{}

func (b BackendFuncs[R]) Insert(ctx context.Context, record R) error {
	if b.InsertFunc == nil {
		return &NotImplementedError{Op: "insert"}
	}
	return b.InsertFunc(ctx, record)
}

func (b BackendFuncs[R]) Remove(ctx context.Context, record R) error {
	if b.RemoveFunc == nil {
		return &NotImplementedError{Op: "remove"}
	}
	return b.RemoveFunc(ctx, record)
}
