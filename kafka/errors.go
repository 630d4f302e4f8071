package kafka

import (
	"errors"
)

var (
	// ErrTransient marks broker errors that are worth retrying on a later iteration
	ErrTransient = errors.New("transient broker error")

	ErrClosed            = errors.New("client closed")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("not subscribed")
	ErrUnknownTopic      = errors.New("unknown topic or partition")
)

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return e.cause.Error()
}

func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.cause}
}

// Transient wraps err so IsTransient reports true for it
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{cause: err}
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
