package state

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/serde"
)

// Typed wraps a byte store with key and value serdes. The store name is passed as topic.
type Typed[K, V any] struct {
	store      KeyValueStore
	keySerde   serde.Serde[K]
	valueSerde serde.Serde[V]
}

func NewTyped[K, V any](store KeyValueStore, keySerde serde.Serde[K], valueSerde serde.Serde[V]) *Typed[K, V] {
	return &Typed[K, V]{store: store, keySerde: keySerde, valueSerde: valueSerde}
}

func (t *Typed[K, V]) Store() KeyValueStore {
	return t.store
}

func (t *Typed[K, V]) Get(key K) (V, bool, error) {
	var zero V
	kb, err := t.keySerde.Serialise(t.store.Name(), key)
	if err != nil {
		return zero, false, err
	}

	vb, ok, err := t.store.Get(kb)
	if err != nil || !ok {
		return zero, ok, err
	}

	v, err := t.valueSerde.Deserialise(t.store.Name(), vb)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

func (t *Typed[K, V]) Put(ctx context.Context, key K, value V) error {
	kb, err := t.keySerde.Serialise(t.store.Name(), key)
	if err != nil {
		return err
	}
	vb, err := t.valueSerde.Serialise(t.store.Name(), value)
	if err != nil {
		return err
	}
	return t.store.Put(ctx, kb, vb)
}

func (t *Typed[K, V]) Delete(ctx context.Context, key K) error {
	kb, err := t.keySerde.Serialise(t.store.Name(), key)
	if err != nil {
		return err
	}
	return t.store.Delete(ctx, kb)
}

// DecodeUpdate turns a flushed update back into typed values, hadOld is false when the key was new
func (t *Typed[K, V]) DecodeUpdate(key, newValue, oldValue []byte) (k K, v V, old V, hadOld bool, err error) {
	if k, err = t.keySerde.Deserialise(t.store.Name(), key); err != nil {
		return
	}
	if newValue != nil {
		if v, err = t.valueSerde.Deserialise(t.store.Name(), newValue); err != nil {
			return
		}
	}
	if oldValue != nil {
		hadOld = true
		old, err = t.valueSerde.Deserialise(t.store.Name(), oldValue)
	}
	return
}
