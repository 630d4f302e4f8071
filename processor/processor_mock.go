package processor

import (
	"context"
	"time"

	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/stretchr/testify/mock"
)

var _ Context[any, any] = (*MockContext[any, any])(nil)

// MockContext is a testify mock of Context. Store and Schedule fall back to the maps set
// with WithStore and to capturing punctuators when no expectation is registered.
type MockContext[K, V any] struct {
	mock.Mock

	stores      map[string]state.KeyValueStore
	punctuators []Punctuator
	streamTime  time.Time
	taskID      string
}

func NewMockContext[K, V any]() *MockContext[K, V] {
	return &MockContext[K, V]{
		stores: make(map[string]state.KeyValueStore),
		taskID: "0_0",
	}
}

func (c *MockContext[K, V]) WithStore(store state.KeyValueStore) *MockContext[K, V] {
	c.stores[store.Name()] = store
	return c
}

func (c *MockContext[K, V]) SetStreamTime(t time.Time) {
	c.streamTime = t
}

// Punctuators returns every punctuator scheduled so far
func (c *MockContext[K, V]) Punctuators() []Punctuator {
	return c.punctuators
}

func (c *MockContext[K, V]) Forward(ctx context.Context, record *record.Record[K, V]) error {
	args := c.Mock.Called(ctx, record)
	return args.Error(0)
}

func (c *MockContext[K, V]) ForwardTo(ctx context.Context, childName string, record *record.Record[K, V]) error {
	args := c.Mock.Called(ctx, childName, record)
	return args.Error(0)
}

func (c *MockContext[K, V]) TaskID() string {
	return c.taskID
}

func (c *MockContext[K, V]) Store(name string) (state.KeyValueStore, error) {
	if s, ok := c.stores[name]; ok {
		return s, nil
	}
	return nil, ErrUnknownStore
}

func (c *MockContext[K, V]) Schedule(_ time.Duration, _ PunctuationType, fn Punctuator) (Cancellable, error) {
	c.punctuators = append(c.punctuators, fn)
	return cancelFunc(func() {}), nil
}

func (c *MockContext[K, V]) StreamTime() time.Time {
	return c.streamTime
}
