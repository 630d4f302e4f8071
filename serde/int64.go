package serde

import (
	"encoding/binary"
	"fmt"
)

var _ Serde[int64] = int64Serde{}

type int64Serde struct{}

// Int64 encodes values as 8 byte big endian, like the Kafka LongSerializer
func Int64() Serde[int64] {
	return int64Serde{}
}

func (s int64Serde) Serialise(_ string, value int64) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(value)), nil
}

func (s int64Serde) Deserialise(topic string, data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("serde: int64 on %s needs 8 bytes, got %d", topic, len(data))
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}
