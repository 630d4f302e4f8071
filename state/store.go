package state

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
)

var _ KeyValueStore = (*Store)(nil)

// Store is a key value store over a Backend with an optional write-back cache and changelog.
// Writes and flushes come from the owning task only. Reads may come from any goroutine.
type Store struct {
	name    string
	backend Backend

	cache     *writeCache
	changelog ChangeLogger
	listener  FlushListener

	state    atomic.Int32
	position atomic.Int64

	mu sync.RWMutex
}

func newStore(name string, backend Backend, cache *writeCache, changelog ChangeLogger) *Store {
	s := &Store{
		name:      name,
		backend:   backend,
		cache:     cache,
		changelog: changelog,
	}
	s.position.Store(-1)
	return s
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) State() StoreState {
	return StoreState(s.state.Load())
}

func (s *Store) LoggingEnabled() bool {
	return s.changelog != nil
}

func (s *Store) CachingEnabled() bool {
	return s.cache != nil
}

// SetFlushListener installs fn to receive every update as it reaches the backend
func (s *Store) SetFlushListener(fn FlushListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

func (s *Store) transition(from, to StoreState) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: store %s is %s, want %s before %s", ErrInvalidState, s.name, s.State(), from, to)
	}
	return nil
}

// BeginRestore moves a created store into restoration
func (s *Store) BeginRestore() error {
	return s.transition(StateCreated, StateRestoring)
}

// MarkRunning makes the store visible to the topology
func (s *Store) MarkRunning() error {
	if s.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return nil
	}
	return s.transition(StateRestoring, StateRunning)
}

// Suspend hides a running store again while its changelog is caught up after a reassignment.
// The cache must have been flushed.
func (s *Store) Suspend() error {
	return s.transition(StateRunning, StateRestoring)
}

// Position returns the next changelog offset not yet reflected in the store, or -1 if unknown
func (s *Store) Position() int64 {
	return s.position.Load()
}

// StartOffset is where changelog replay begins. It prefers the in-memory position, then a
// backend checkpoint.
func (s *Store) StartOffset() (int64, bool, error) {
	if pos := s.position.Load(); pos >= 0 {
		return pos, true, nil
	}

	cp, ok := s.backend.(Checkpointer)
	if !ok {
		return 0, false, nil
	}

	pos, ok, err := cp.Position()
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint of %s: %w", s.name, err)
	}
	if ok {
		s.position.Store(pos)
	}
	return pos, ok, nil
}

// Checkpoint records that every changelog record before offset is reflected in the backend
func (s *Store) Checkpoint(offset int64) error {
	if offset <= s.position.Load() {
		return nil
	}

	s.position.Store(offset)
	if cp, ok := s.backend.(Checkpointer); ok {
		if err := cp.SetPosition(offset); err != nil {
			return fmt.Errorf("write checkpoint of %s: %w", s.name, err)
		}
	}
	return nil
}

// Restore applies one changelog record during restoration
func (s *Store) Restore(key, value []byte, offset int64) error {
	if s.State() != StateRestoring {
		return fmt.Errorf("%w: restore into %s store %s", ErrInvalidState, s.State(), s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if value == nil {
		err = s.backend.Delete(key)
	} else {
		err = s.backend.Put(key, value)
	}
	if err != nil {
		return err
	}

	s.position.Store(offset + 1)
	return nil
}

func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if err := s.checkRunning(); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

func (s *Store) get(key []byte) ([]byte, bool, error) {
	if s.cache != nil {
		if e, ok := s.cache.peek(key); ok {
			if e.deleted {
				return nil, false, nil
			}
			return copyBytes(e.value), true, nil
		}
	}
	return s.backend.Get(key)
}

func (s *Store) Put(ctx context.Context, key, value []byte) error {
	if value == nil {
		return s.Delete(ctx, key)
	}
	return s.write(ctx, copyBytes(key), copyBytes(value), false)
}

func (s *Store) Delete(ctx context.Context, key []byte) error {
	return s.write(ctx, copyBytes(key), nil, true)
}

func (s *Store) write(ctx context.Context, key, value []byte, deleted bool) error {
	if err := s.checkRunning(); err != nil {
		return err
	}

	if s.cache == nil {
		old, hadOld, err := s.readOld(key)
		if err != nil {
			return err
		}
		return s.writeThrough(ctx, &cacheEntry{key: key, value: value, deleted: deleted, old: old, hadOld: hadOld})
	}

	s.mu.Lock()
	var old func() ([]byte, bool)
	if s.listener != nil {
		old = func() ([]byte, bool) {
			v, ok, _ := s.backend.Get(key)
			return v, ok
		}
	}
	evicted := s.cache.put(key, value, deleted, old)
	s.mu.Unlock()

	var err error
	for _, e := range evicted {
		err = multierr.Append(err, s.writeThrough(ctx, e))
	}
	return err
}

func (s *Store) readOld(key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()

	if listener == nil {
		return nil, false, nil
	}
	return s.backend.Get(key)
}

// writeThrough applies e to the backend, then the changelog, then the flush listener
func (s *Store) writeThrough(ctx context.Context, e *cacheEntry) error {
	s.mu.Lock()
	var err error
	if e.deleted {
		err = s.backend.Delete(e.key)
	} else {
		err = s.backend.Put(e.key, e.value)
	}
	listener := s.listener
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}

	if s.changelog != nil {
		if err := s.changelog.LogChange(ctx, e.key, e.value); err != nil {
			return fmt.Errorf("log change of %s: %w", s.name, err)
		}
	}

	if listener != nil && e.changed() {
		if err := listener(ctx, e.key, e.value, e.old); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Range(from, to []byte, fn func(key, value []byte) bool) error {
	if err := s.checkRunning(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeLocked(from, to, fn)
}

// rangeLocked merges buffered entries over the backend range
func (s *Store) rangeLocked(from, to []byte, fn func(key, value []byte) bool) error {
	var buffered []*cacheEntry
	if s.cache != nil {
		buffered = s.cache.inRange(from, to)
	}

	stopped := false
	emit := func(key, value []byte) bool {
		if !fn(key, value) {
			stopped = true
			return false
		}
		return true
	}

	err := s.backend.Range(
		from, to, func(key, value []byte) bool {
			for len(buffered) > 0 && bytes.Compare(buffered[0].key, key) < 0 {
				e := buffered[0]
				buffered = buffered[1:]
				if !e.deleted && !emit(copyBytes(e.key), copyBytes(e.value)) {
					return false
				}
			}

			if len(buffered) > 0 && bytes.Equal(buffered[0].key, key) {
				e := buffered[0]
				buffered = buffered[1:]
				if e.deleted {
					return true
				}
				return emit(copyBytes(e.key), copyBytes(e.value))
			}

			return emit(key, value)
		},
	)
	if err != nil || stopped {
		return err
	}

	for _, e := range buffered {
		if e.deleted {
			continue
		}
		if !emit(copyBytes(e.key), copyBytes(e.value)) {
			break
		}
	}
	return nil
}

// CacheSize is the number of buffered entries waiting for a flush
func (s *Store) CacheSize() int {
	if s.cache == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.len()
}

func (s *Store) Flush(ctx context.Context) error {
	if s.State() != StateRunning {
		return nil
	}

	var entries []*cacheEntry
	if s.cache != nil {
		s.mu.Lock()
		entries = s.cache.drain()
		s.mu.Unlock()
	}

	var err error
	for _, e := range entries {
		err = multierr.Append(err, s.writeThrough(ctx, e))
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend.Flush()
}

// Close flushes buffered writes before releasing the backend
func (s *Store) Close(ctx context.Context) error {
	if s.State() == StateClosed {
		return nil
	}

	var err error
	if s.State() == StateRunning {
		err = s.Flush(ctx)
	}
	s.state.Store(int32(StateClosed))

	s.mu.Lock()
	defer s.mu.Unlock()
	return multierr.Append(err, s.backend.Close())
}

func (s *Store) checkRunning() error {
	switch st := s.State(); st {
	case StateRunning:
		return nil
	case StateClosed:
		return fmt.Errorf("%w: %s", ErrStoreClosed, s.name)
	default:
		return fmt.Errorf("%w: %s is %s", ErrStoreNotRunning, s.name, st)
	}
}
