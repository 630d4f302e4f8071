package streams

import (
	"errors"

	"github.com/hugolhafner/go-streams-runtime/runner"
	"github.com/hugolhafner/go-streams-runtime/state"
)

var ErrStoreNotQueryable = errors.New("no running instance of the store")

var _ state.ReadOnlyKeyValueStore = (*CompositeStore)(nil)

// CompositeStore queries every local instance of a store across threads and tasks. Each task
// holds a disjoint key range, so keys are ordered within one instance only.
type CompositeStore struct {
	name    string
	threads func() []*runner.StreamThread
}

func (s *CompositeStore) Name() string {
	return s.name
}

func (s *CompositeStore) views() ([]*state.ReadOnlyView, error) {
	var views []*state.ReadOnlyView
	for _, th := range s.threads() {
		views = append(views, th.Stores(s.name)...)
	}
	if len(views) == 0 {
		return nil, ErrStoreNotQueryable
	}
	return views, nil
}

func (s *CompositeStore) Get(key []byte) ([]byte, bool, error) {
	views, err := s.views()
	if err != nil {
		return nil, false, err
	}

	for _, v := range views {
		value, ok, err := v.Get(key)
		if err != nil {
			if migrated(err) {
				continue
			}
			return nil, false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Range visits the range of every instance in turn until fn returns false
func (s *CompositeStore) Range(from, to []byte, fn func(key, value []byte) bool) error {
	views, err := s.views()
	if err != nil {
		return err
	}

	stopped := false
	for _, v := range views {
		err := v.Range(
			from, to, func(key, value []byte) bool {
				if !fn(key, value) {
					stopped = true
					return false
				}
				return true
			},
		)
		if err != nil && !migrated(err) {
			return err
		}
		if stopped {
			return nil
		}
	}
	return nil
}

// migrated reports errors of instances that were closed or suspended by a rebalance after
// the views were published
func migrated(err error) bool {
	return errors.Is(err, state.ErrStoreNotRunning) || errors.Is(err, state.ErrStoreClosed)
}
