package processor

import (
	"context"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/record"
)

type processorAdapter[KIn, VIn, KOut, VOut any] struct {
	typed Processor[KIn, VIn, KOut, VOut]
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Init(ctx UntypedContext) error {
	return a.typed.Init(&contextAdapter[KOut, VOut]{UntypedContext: ctx})
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Process(ctx context.Context, r *record.UntypedRecord) error {
	typed, ok := record.FromUntyped[KIn, VIn](r)
	if !ok {
		var (
			k KIn
			v VIn
		)
		return fmt.Errorf("processor expects %T/%T records, got %T/%T", k, v, r.Key, r.Value)
	}
	return a.typed.Process(ctx, typed)
}

func (a *processorAdapter[KIn, VIn, KOut, VOut]) Close() error {
	return a.typed.Close()
}

type contextAdapter[K, V any] struct {
	UntypedContext
}

func (c *contextAdapter[K, V]) Forward(ctx context.Context, r *record.Record[K, V]) error {
	return c.UntypedContext.Forward(ctx, r.ToUntyped())
}

func (c *contextAdapter[K, V]) ForwardTo(ctx context.Context, childName string, r *record.Record[K, V]) error {
	return c.UntypedContext.ForwardTo(ctx, childName, r.ToUntyped())
}
