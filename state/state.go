package state

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrStoreNotRunning = errors.New("store is not running")
	ErrStoreLocked     = errors.New("store is locked by another owner")
	ErrStoreClosed     = errors.New("store is closed")
	ErrInvalidState    = errors.New("invalid store state transition")
)

// StoreState is the lifecycle of a store: CREATED -> RESTORING -> RUNNING -> CLOSED.
// Stores without logging go from CREATED straight to RUNNING.
type StoreState int32

const (
	StateCreated StoreState = iota
	StateRestoring
	StateRunning
	StateClosed
)

func (s StoreState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRestoring:
		return "RESTORING"
	case StateRunning:
		return "RUNNING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("StoreState(%d)", int32(s))
	}
}

// ReadOnlyKeyValueStore is the read side of a store. Range visits keys in [from, to) in
// ascending byte order, a nil bound is open. fn returning false stops the iteration.
type ReadOnlyKeyValueStore interface {
	Name() string
	Get(key []byte) ([]byte, bool, error)
	Range(from, to []byte, fn func(key, value []byte) bool) error
}

// KeyValueStore is the store contract processors see
type KeyValueStore interface {
	ReadOnlyKeyValueStore

	Put(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Flush drains the cache to the backend and changelog, then makes the backend durable
	Flush(ctx context.Context) error
	Close(ctx context.Context) error

	State() StoreState
}

// Backend is the persistence capability a store writes through to. A Backend is only
// written by the owning store, but may be read concurrently.
type Backend interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Range(from, to []byte, fn func(key, value []byte) bool) error
	Flush() error
	Close() error
}

// Checkpointer is implemented by backends that survive a restart. The position is the next
// changelog offset that is not yet reflected in the backend.
type Checkpointer interface {
	Position() (int64, bool, error)
	SetPosition(offset int64) error
}

// BackendContext identifies the store instance a backend is opened for
type BackendContext struct {
	StoreName string
	TaskID    string
	StateDir  string
}

// BackendSupplier opens a backend. Persistent suppliers return an error wrapping
// ErrStoreLocked while another owner still holds the same store.
type BackendSupplier func(ctx BackendContext) (Backend, error)

// ChangeLogger journals store updates. A nil value is a tombstone.
type ChangeLogger interface {
	LogChange(ctx context.Context, key, value []byte) error
}

// FlushListener receives updates as they reach the backend. oldValue is nil when the key was absent.
type FlushListener func(ctx context.Context, key, newValue, oldValue []byte) error

// FlushNotifier is implemented by stores that report updates as they are flushed
type FlushNotifier interface {
	SetFlushListener(fn FlushListener)
}

// KeyValue is a single entry returned by paged reads
type KeyValue struct {
	Key   []byte
	Value []byte
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
