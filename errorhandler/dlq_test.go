//go:build unit

package errorhandler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/stretchr/testify/require"
)

func TestDLQRecord(t *testing.T) {
	t.Parallel()
	consumed := kafka.ConsumerRecord{
		Key:       []byte("k"),
		Value:     []byte("v"),
		Headers:   []kafka.Header{{Key: "trace", Value: []byte("abc")}},
		Topic:     "orders",
		Partition: 2,
		Offset:    17,
		Timestamp: time.UnixMilli(5000),
	}

	ec := errorhandler.NewErrorContext(consumed, errors.New("bad payload")).
		WithPhase(errorhandler.PhaseSerde).
		WithNodeName("parse").
		WithTaskID("0_2").
		WithAttempt(3)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := errorhandler.DLQRecord(ec, "orders-dlq", now)

	require.Equal(t, "orders-dlq", rec.Topic)
	require.Equal(t, kafka.AnyPartition, rec.Partition)
	require.Equal(t, []byte("k"), rec.Key)
	require.Equal(t, []byte("v"), rec.Value)
	require.Equal(t, consumed.Timestamp, rec.Timestamp)

	expect := map[string]string{
		"trace":                               "abc",
		errorhandler.HeaderOriginalTopic:     "orders",
		errorhandler.HeaderOriginalPartition: "2",
		errorhandler.HeaderOriginalOffset:    "17",
		errorhandler.HeaderErrorTimestamp:    "2026-01-02T03:04:05Z",
		errorhandler.HeaderErrorAttempt:      "3",
		errorhandler.HeaderErrorPhase:        "serde",
		errorhandler.HeaderErrorMessage:      "bad payload",
		errorhandler.HeaderErrorNode:         "parse",
		errorhandler.HeaderErrorTask:         "0_2",
	}
	for key, value := range expect {
		got, ok := kafka.HeaderValue(rec.Headers, key)
		require.True(t, ok, "missing header %s", key)
		require.Equal(t, value, string(got), key)
	}

	consumed.Key[0] = 'x'
	require.Equal(t, []byte("k"), rec.Key)
}
