package notification

import "errors"

var (
	// ErrJobNotFound is returned when a notification cannot be found in the database.
	ErrJobNotFound = errors.New("notification not found")

	// ErrTerminalConflict is returned when a terminal status write conflicts
	// with a different terminal status already recorded for the same job.
	ErrTerminalConflict = errors.New("conflicting terminal status already recorded")
)

// TransientError wraps delivery failures that are expected to succeed on a
// retry: network errors, provider throttling, provider 5xx responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient delivery failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransient marks err as a transient delivery failure.
func NewTransient(err error) error {
	return &TransientError{Err: err}
}

// PermanentError wraps delivery failures that retrying cannot fix: invalid
// recipient, rejected payload, provider 4xx responses.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent delivery failure: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanent marks err as a permanent delivery failure.
func NewPermanent(err error) error {
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is classified as a transient delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is classified as a permanent delivery failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
