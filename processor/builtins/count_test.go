//go:build unit

package builtins_test

import (
	"context"
	"testing"
	"time"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/state/memory"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newCountStore(t *testing.T, cached bool) *state.Store {
	t.Helper()
	b := state.KeyValueStoreBuilder("counts", memory.Supplier()).WithLoggingDisabled()
	if cached {
		b = b.WithCachingEnabled(100)
	}

	store, err := b.Build(state.BackendContext{}, nil)
	require.NoError(t, err)
	require.NoError(t, store.MarkRunning())
	return store
}

func forwardedCounts(ctx *processor.MockContext[string, int64]) *[]builtins.KeyValue[string, int64] {
	var out []builtins.KeyValue[string, int64]
	ctx.On("Forward", mock.Anything, mock.Anything).Run(
		func(args mock.Arguments) {
			r := args.Get(1).(*record.Record[string, int64])
			out = append(out, builtins.KeyValue[string, int64]{Key: r.Key, Value: r.Value})
		},
	).Return(nil)
	return &out
}

func TestCountProcessor_ForwardsEveryUpdateWithoutCache(t *testing.T) {
	t.Parallel()
	store := newCountStore(t, false)
	ctx := processor.NewMockContext[string, int64]().WithStore(store)
	forwarded := forwardedCounts(ctx)

	p := builtins.NewCountProcessor[string, string]("counts", serde.String())
	require.NoError(t, p.Init(ctx))

	for _, w := range []string{"a", "b", "a"} {
		require.NoError(t, p.Process(context.Background(), record.New(w, w, meta)))
	}

	require.Equal(
		t, []builtins.KeyValue[string, int64]{{"a", 1}, {"b", 1}, {"a", 2}}, *forwarded,
	)
}

func TestCountProcessor_CachedForwardsOnFlush(t *testing.T) {
	t.Parallel()
	store := newCountStore(t, true)
	ctx := processor.NewMockContext[string, int64]().WithStore(store)
	ctx.SetStreamTime(time.UnixMilli(9000))
	forwarded := forwardedCounts(ctx)

	p := builtins.NewCountProcessor[string, string]("counts", serde.String())
	require.NoError(t, p.Init(ctx))

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(context.Background(), record.New("a", "a", meta)))
	}
	require.Empty(t, *forwarded)

	require.NoError(t, store.Flush(context.Background()))
	require.Equal(t, []builtins.KeyValue[string, int64]{{"a", 5}}, *forwarded)
}

func TestCountProcessor_UnknownStore(t *testing.T) {
	t.Parallel()
	p := builtins.NewCountProcessor[string, string]("missing", serde.String())
	require.ErrorIs(t, p.Init(processor.NewMockContext[string, int64]()), processor.ErrUnknownStore)
}
