// Package errs holds the sentinel errors shared across the controller, so
// every layer can classify a failure with errors.Is instead of string
// matching.
package errs

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidData   = errors.New("invalid data")
	ErrTimedOut      = errors.New("timed out")
	ErrBrokenPipe    = errors.New("broken pipe")
	ErrDead          = errors.New("printer is dead")
)
