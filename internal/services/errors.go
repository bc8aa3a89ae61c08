package services

import "errors"

var (
	// ErrValidation marks missing or malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when an email or username is already taken.
	ErrConflict = errors.New("account already exists")

	// ErrUnauthorized is returned for bad credentials. Unknown email and wrong
	// password are deliberately indistinguishable.
	ErrUnauthorized = errors.New("invalid credentials")
)

// ValidationError describes rejected input with a message safe to show clients.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
