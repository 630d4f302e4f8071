// Package serde converts record keys and values to and from bytes. The topic is passed to
// every call so a codec may pick a schema per topic.
package serde

type Serialiser[T any] interface {
	Serialise(topic string, value T) ([]byte, error)
}

type Deserialiser[T any] interface {
	Deserialise(topic string, data []byte) (T, error)
}

type Serde[T any] interface {
	Serialiser[T]
	Deserialiser[T]
}

// UntypedSerialiser and UntypedDeserialiser are the forms topology nodes hold, see ToUntyped
type UntypedSerialiser interface {
	Serialise(topic string, value any) ([]byte, error)
}

type UntypedDeserialiser interface {
	Deserialise(topic string, data []byte) (any, error)
}

type UntypedSerde interface {
	UntypedSerialiser
	UntypedDeserialiser
}

type SerialiserFunc[T any] func(topic string, value T) ([]byte, error)

func (f SerialiserFunc[T]) Serialise(topic string, value T) ([]byte, error) {
	return f(topic, value)
}

type DeserialiserFunc[T any] func(topic string, data []byte) (T, error)

func (f DeserialiserFunc[T]) Deserialise(topic string, data []byte) (T, error) {
	return f(topic, data)
}

type composed[T any] struct {
	Serialiser[T]
	Deserialiser[T]
}

// Compose pairs a serialiser and a deserialiser written separately
func Compose[T any](s Serialiser[T], d Deserialiser[T]) Serde[T] {
	return composed[T]{Serialiser: s, Deserialiser: d}
}
