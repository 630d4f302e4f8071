package mockkafka

import (
	"bytes"
	"testing"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/stretchr/testify/require"
)

// AssertRecordCount verifies that a topic holds exactly n retained records.
func (c *Cluster) AssertRecordCount(tb testing.TB, topic string, expected int) {
	tb.Helper()

	actual := len(c.TopicRecords(topic))
	require.Equal(tb, expected, actual, "expected %d records in topic %q, got %d", expected, topic, actual)
}

// AssertProduced verifies that a record with the given key and value is in the topic.
func (c *Cluster) AssertProduced(tb testing.TB, topic string, key, value []byte) {
	tb.Helper()

	for _, r := range c.TopicRecords(topic) {
		if bytes.Equal(r.Key, key) && bytes.Equal(r.Value, value) {
			return
		}
	}

	tb.Errorf(
		"expected record with key=%q value=%q to be produced to topic %q, but it was not found",
		string(key), string(value), topic,
	)
}

// AssertProducedString is a convenience method for string keys and values.
func (c *Cluster) AssertProducedString(tb testing.TB, topic, key, value string) {
	tb.Helper()
	c.AssertProduced(tb, topic, []byte(key), []byte(value))
}

// AssertNotProduced verifies that no record with the given key is in the topic.
func (c *Cluster) AssertNotProduced(tb testing.TB, topic string, key []byte) {
	tb.Helper()

	for _, r := range c.TopicRecords(topic) {
		if bytes.Equal(r.Key, key) {
			tb.Errorf(
				"expected no record with key=%q to be produced to topic %q, but found value=%q",
				string(key), topic, string(r.Value),
			)
			return
		}
	}
}

// AssertCommittedOffset verifies the committed offset of a group for a partition.
func (c *Cluster) AssertCommittedOffset(tb testing.TB, group string, tp kafka.TopicPartition, expected int64) {
	tb.Helper()

	offset, ok := c.CommittedOffset(group, tp)
	require.True(tb, ok, "expected an offset to be committed for %s", tp)
	require.Equal(tb, expected, offset.Offset, "unexpected committed offset for %s", tp)
}

// AssertNotCommitted verifies that the group never committed the partition.
func (c *Cluster) AssertNotCommitted(tb testing.TB, group string, tp kafka.TopicPartition) {
	tb.Helper()

	offset, ok := c.CommittedOffset(group, tp)
	require.False(tb, ok, "expected no committed offset for %s, got %d", tp, offset.Offset)
}

// AssertCommittedAtMost verifies that the committed offset, if any, does not exceed max.
func (c *Cluster) AssertCommittedAtMost(tb testing.TB, group string, tp kafka.TopicPartition, max int64) {
	tb.Helper()

	offset, ok := c.CommittedOffset(group, tp)
	if !ok {
		return
	}
	require.LessOrEqual(tb, offset.Offset, max, "committed offset for %s is ahead of %d", tp, max)
}
