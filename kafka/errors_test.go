//go:build unit

package kafka_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/stretchr/testify/require"
)

func TestTransient(t *testing.T) {
	t.Parallel()
	cause := errors.New("leader not available")

	err := fmt.Errorf("commit: %w", kafka.Transient(cause))
	require.True(t, kafka.IsTransient(err))
	require.ErrorIs(t, err, cause)
	require.Equal(t, "commit: leader not available", err.Error())

	require.False(t, kafka.IsTransient(cause))
	require.NoError(t, kafka.Transient(nil))
}
