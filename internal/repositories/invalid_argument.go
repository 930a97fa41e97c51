package repositories

import (
	"errors"
	"fmt"
)

// InvalidArgumentError rejects a call before it reaches the datastore.
type InvalidArgumentError struct {
	Repository string
	Field      string
	Reason     string
}

func (e *InvalidArgumentError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "is invalid"
	}
	return fmt.Sprintf("%s repository: %s %s", e.Repository, e.Field, reason)
}

// MissingField reports a blank required argument.
func MissingField(repository, field string) error {
	return &InvalidArgumentError{Repository: repository, Field: field, Reason: "is required"}
}

// InvalidField reports an argument outside its accepted range.
func InvalidField(repository, field, format string, args ...any) error {
	return &InvalidArgumentError{Repository: repository, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidArgument reports whether err, or anything it wraps, is an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}
