package serde

import "github.com/bytedance/sonic"

type jsonSerde[T any] struct {
	api sonic.API
}

// JSON returns a Serde that uses JSON for serialisation and deserialisation.
func JSON[T any]() Serde[T] {
	return jsonSerde[T]{api: sonic.ConfigStd}
}

func (s jsonSerde[T]) Serialise(_ string, value T) ([]byte, error) {
	return s.api.Marshal(value)
}

func (s jsonSerde[T]) Deserialise(_ string, data []byte) (T, error) {
	var result T
	err := s.api.Unmarshal(data, &result)
	return result, err
}
