package store

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a submission is not in the journal.
type NotFoundError struct {
	TxHash string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("submission %q not found", e.TxHash)
}

// IsNotFound returns true if err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// AlreadyExistsError is returned when journaling a hash twice.
type AlreadyExistsError struct {
	TxHash string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("submission %q already exists", e.TxHash)
}

// IsAlreadyExists returns true if err is an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	var target *AlreadyExistsError
	return errors.As(err, &target)
}
