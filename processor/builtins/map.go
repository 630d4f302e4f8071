package builtins

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
)

var _ processor.Processor[any, any, any, any] = (*MapProcessor[any, any, any, any])(nil)

type MapFunc[KIn, VIn, KOut, VOut any] func(context.Context, KIn, VIn) (KOut, VOut, error)

// FlatMapFunc returns any number of output records for one input
type FlatMapFunc[KIn, VIn, KOut, VOut any] func(context.Context, KIn, VIn) ([]KeyValue[KOut, VOut], error)

type KeyValue[K, V any] struct {
	Key   K
	Value V
}

func NewMapProcessor[KIn, VIn, KOut, VOut any](mapper MapFunc[KIn, VIn, KOut, VOut]) *MapProcessor[KIn, VIn, KOut,
	VOut] {
	return &MapProcessor[KIn, VIn, KOut, VOut]{
		flat: func(ctx context.Context, k KIn, v VIn) ([]KeyValue[KOut, VOut], error) {
			newK, newV, err := mapper(ctx, k, v)
			if err != nil {
				return nil, err
			}
			return []KeyValue[KOut, VOut]{{Key: newK, Value: newV}}, nil
		},
	}
}

func NewFlatMapProcessor[KIn, VIn, KOut, VOut any](mapper FlatMapFunc[KIn, VIn, KOut, VOut]) *MapProcessor[KIn, VIn,
	KOut, VOut] {
	return &MapProcessor[KIn, VIn, KOut, VOut]{flat: mapper}
}

type MapProcessor[KIn, VIn, KOut, VOut any] struct {
	flat FlatMapFunc[KIn, VIn, KOut, VOut]
	ctx  processor.Context[KOut, VOut]
}

func (p *MapProcessor[KIn, VIn, KOut, VOut]) Init(ctx processor.Context[KOut, VOut]) error {
	p.ctx = ctx
	return nil
}

// Process forwards the mapped records in order, keeping the input metadata
func (p *MapProcessor[KIn, VIn, KOut, VOut]) Process(ctx context.Context, r *record.Record[KIn, VIn]) error {
	out, err := p.flat(ctx, r.Key, r.Value)
	if err != nil {
		return err
	}

	for _, kv := range out {
		if err := p.ctx.Forward(ctx, record.New(kv.Key, kv.Value, r.Metadata)); err != nil {
			return err
		}
	}
	return nil
}

func (p *MapProcessor[KIn, VIn, KOut, VOut]) Close() error {
	return nil
}
