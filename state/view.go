package state

import (
	"bytes"
	"fmt"
)

var _ ReadOnlyKeyValueStore = (*ReadOnlyView)(nil)

// ReadOnlyView is a read-only handle on a store for use from outside the owning goroutine.
// Every read holds the store's read lock for the duration of one call only.
type ReadOnlyView struct {
	store *Store
}

func (s *Store) ReadOnly() *ReadOnlyView {
	return &ReadOnlyView{store: s}
}

func (v *ReadOnlyView) Name() string {
	return v.store.Name()
}

func (v *ReadOnlyView) State() StoreState {
	return v.store.State()
}

func (v *ReadOnlyView) Get(key []byte) ([]byte, bool, error) {
	value, ok, err := v.store.Get(key)
	return copyBytes(value), ok, err
}

func (v *ReadOnlyView) Range(from, to []byte, fn func(key, value []byte) bool) error {
	return v.store.Range(
		from, to, func(key, value []byte) bool {
			return fn(copyBytes(key), copyBytes(value))
		},
	)
}

// Page returns up to limit entries with keys >= from, and the key to continue from. next is
// nil once the end of the store was reached.
func (v *ReadOnlyView) Page(from []byte, limit int) (entries []KeyValue, next []byte, err error) {
	if limit <= 0 {
		return nil, nil, fmt.Errorf("page limit must be positive, got %d", limit)
	}

	err = v.store.Range(
		from, nil, func(key, value []byte) bool {
			if len(entries) == limit {
				next = copyBytes(key)
				return false
			}
			entries = append(entries, KeyValue{Key: copyBytes(key), Value: copyBytes(value)})
			return true
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return entries, next, nil
}

// PrefixScan visits keys starting with prefix
func (v *ReadOnlyView) PrefixScan(prefix []byte, fn func(key, value []byte) bool) error {
	return v.Range(
		prefix, prefixEnd(prefix), func(key, value []byte) bool {
			if !bytes.HasPrefix(key, prefix) {
				return false
			}
			return fn(key, value)
		},
	)
}

// prefixEnd is the smallest key greater than every key with the prefix, or nil if none exists
func prefixEnd(prefix []byte) []byte {
	end := copyBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
