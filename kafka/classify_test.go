//go:build unit

package kafka

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kerr"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		transient bool
		unknown   bool
	}{
		{name: "retriable broker error", err: kerr.NotLeaderForPartition, transient: true},
		{name: "rebalance in progress", err: fmt.Errorf("commit: %w", kerr.RebalanceInProgress), transient: true},
		{name: "illegal generation", err: kerr.IllegalGeneration, transient: true},
		{name: "dial refused", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, transient: true},
		{name: "connection dropped", err: io.EOF, transient: true},
		{name: "authorization", err: kerr.TopicAuthorizationFailed},
		{name: "unknown topic", err: kerr.UnknownTopicOrPartition, transient: true, unknown: true},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()

				err := classify(tt.err)
				assert.Equal(t, tt.transient, IsTransient(err))
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, tt.unknown, errors.Is(err, ErrUnknownTopic))
			},
		)
	}

	assert.NoError(t, classify(nil))
}
