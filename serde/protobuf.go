package serde

import (
	"google.golang.org/protobuf/proto"
)

type protobufSerde[T proto.Message] struct{}

func Protobuf[T proto.Message]() Serde[T] {
	return protobufSerde[T]{}
}

func (s protobufSerde[T]) Serialise(_ string, value T) ([]byte, error) {
	return proto.Marshal(value)
}

func (s protobufSerde[T]) Deserialise(_ string, data []byte) (T, error) {
	var zero T
	result, ok := zero.ProtoReflect().New().Interface().(T)
	if !ok {
		return zero, nil
	}

	err := proto.Unmarshal(data, result)
	return result, err
}
