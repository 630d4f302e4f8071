package builtins

import (
	"context"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
)

var _ processor.Processor[any, any, any, int64] = (*CountProcessor[any, any])(nil)

// CountProcessor keeps a running count per key in a store and forwards the new count.
// On stores that report flushes, counts are forwarded as they are flushed, so a caching
// store forwards one update per key per commit.
type CountProcessor[K, V any] struct {
	storeName string
	keySerde  serde.Serde[K]

	ctx    processor.Context[K, int64]
	counts *state.Typed[K, int64]
	notify bool
}

func NewCountProcessor[K, V any](storeName string, keySerde serde.Serde[K]) *CountProcessor[K, V] {
	return &CountProcessor[K, V]{storeName: storeName, keySerde: keySerde}
}

func (p *CountProcessor[K, V]) Init(ctx processor.Context[K, int64]) error {
	store, err := ctx.Store(p.storeName)
	if err != nil {
		return fmt.Errorf("count store %s: %w", p.storeName, err)
	}

	p.ctx = ctx
	p.counts = state.NewTyped(store, p.keySerde, serde.Int64())

	if n, ok := store.(state.FlushNotifier); ok {
		p.notify = true
		n.SetFlushListener(p.onFlush)
	}
	return nil
}

func (p *CountProcessor[K, V]) onFlush(ctx context.Context, key, newValue, oldValue []byte) error {
	if newValue == nil {
		return nil
	}

	k, count, _, _, err := p.counts.DecodeUpdate(key, newValue, oldValue)
	if err != nil {
		return err
	}
	return p.ctx.Forward(ctx, record.New(k, count, record.Metadata{Timestamp: p.ctx.StreamTime()}))
}

func (p *CountProcessor[K, V]) Process(ctx context.Context, r *record.Record[K, V]) error {
	count, _, err := p.counts.Get(r.Key)
	if err != nil {
		return err
	}
	count++

	if err := p.counts.Put(ctx, r.Key, count); err != nil {
		return err
	}

	if p.notify {
		return nil
	}
	return p.ctx.Forward(ctx, record.New(r.Key, count, r.Metadata))
}

func (p *CountProcessor[K, V]) Close() error {
	return nil
}
