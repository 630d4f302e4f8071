package builtins

import (
	"context"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
)

var _ processor.Processor[any, any, any, any] = (*BranchProcessor[any, any])(nil)

// BranchProcessor forwards a record to the named child of the first matching predicate.
// Records matching no predicate are dropped.
type BranchProcessor[K, V any] struct {
	predicates []PredicateFunc[K, V]
	branches   []string
	ctx        processor.Context[K, V]
}

func NewBranchProcessor[K, V any](predicates []PredicateFunc[K, V], branches []string) *BranchProcessor[K, V] {
	return &BranchProcessor[K, V]{
		predicates: predicates,
		branches:   branches,
	}
}

func (p *BranchProcessor[K, V]) Init(ctx processor.Context[K, V]) error {
	if len(p.predicates) != len(p.branches) {
		return fmt.Errorf("branch has %d predicates for %d branches", len(p.predicates), len(p.branches))
	}
	p.ctx = ctx
	return nil
}

func (p *BranchProcessor[K, V]) Process(ctx context.Context, r *record.Record[K, V]) error {
	for i, pred := range p.predicates {
		ok, err := pred(ctx, r.Key, r.Value)
		if err != nil {
			return err
		}
		if ok {
			return p.ctx.ForwardTo(ctx, p.branches[i], r)
		}
	}

	return nil
}

func (p *BranchProcessor[K, V]) Close() error {
	return nil
}
