package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type failureKind uint8

const (
	kindOther failureKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

// kinds maps gRPC codes onto the categories services branch on. Contention
// (Aborted) and duplicate ids (AlreadyExists) are both conflicts and share the
// builders' retry path.
var kinds = map[codes.Code]failureKind{
	codes.NotFound:           kindNotFound,
	codes.AlreadyExists:      kindConflict,
	codes.Aborted:            kindConflict,
	codes.FailedPrecondition: kindConflict,
	codes.OutOfRange:         kindConflict,
	codes.Unavailable:        kindUnavailable,
	codes.ResourceExhausted:  kindUnavailable,
	codes.Internal:           kindUnavailable,
}

// Error carries a failed Firestore call together with its category.
// It satisfies repositories.RepositoryError.
type Error struct {
	Op   string
	code codes.Code
	kind failureKind
	err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Code is the gRPC status code Firestore answered with.
func (e *Error) Code() codes.Code { return e.code }

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

// WrapError classifies err for the repository layer. Cancellation is returned as the
// plain context error so callers can tell a client disconnect from a backend failure.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified *Error
	if errors.As(err, &classified) {
		if classified.Op == "" {
			classified.Op = op
		}
		return classified
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return &Error{Op: op, code: code, kind: kinds[code], err: err}
}

// NotFoundError reports an entity a query did not return.
func NotFoundError(op, message string) error {
	return &Error{Op: op, code: codes.NotFound, kind: kindNotFound, err: errors.New(message)}
}
