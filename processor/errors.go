package processor

import "errors"

var (
	ErrUnknownStore = errors.New("store is not connected to this processor")
	ErrUnknownChild = errors.New("unknown child")
)

type cancelFunc func()

func (f cancelFunc) Cancel() {
	f()
}

// CancelFunc adapts a function to Cancellable
func CancelFunc(fn func()) Cancellable {
	return cancelFunc(fn)
}
