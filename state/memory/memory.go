// Package memory provides an ordered in-memory state backend
package memory

import (
	"bytes"
	"sync"

	"github.com/google/btree"
	"github.com/hugolhafner/go-streams-runtime/state"
)

const degree = 32

var _ state.Backend = (*Backend)(nil)

type item struct {
	key   []byte
	value []byte
}

func less(a, b item) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// Backend keeps entries in a btree ordered by key. Readers may run concurrently with each
// other, writes are serialised.
type Backend struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

func New() *Backend {
	return &Backend{tree: btree.NewG[item](degree, less)}
}

// Supplier opens a fresh in-memory backend per store instance
func Supplier() state.BackendSupplier {
	return func(state.BackendContext) (state.Backend, error) {
		return New(), nil
	}
}

func (b *Backend) Get(key []byte) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	it, ok := b.tree.Get(item{key: key})
	if !ok {
		return nil, false, nil
	}
	return clone(it.value), true, nil
}

func (b *Backend) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree.ReplaceOrInsert(item{key: clone(key), value: clone(value)})
	return nil
}

func (b *Backend) Delete(key []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree.Delete(item{key: key})
	return nil
}

func (b *Backend) Range(from, to []byte, fn func(key, value []byte) bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	iter := func(it item) bool {
		return fn(clone(it.key), clone(it.value))
	}

	switch {
	case from == nil && to == nil:
		b.tree.Ascend(iter)
	case to == nil:
		b.tree.AscendGreaterOrEqual(item{key: from}, iter)
	case from == nil:
		b.tree.AscendLessThan(item{key: to}, iter)
	default:
		b.tree.AscendRange(item{key: from}, item{key: to}, iter)
	}
	return nil
}

func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tree.Len()
}

func (b *Backend) Flush() error {
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tree.Clear(false)
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
