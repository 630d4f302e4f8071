//go:build e2e

package e2e

import (
	"fmt"
	"testing"

	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestE2E_Chaos_Burst_1000Records_FourThreads(t *testing.T) {
	broker := ensureContainer(t)

	inputTopic := testTopicName(t, "burst-in")
	outputTopic := testTopicName(t, "burst-out")
	appID := testAppID(t, "burst")
	createTopics(t, broker, 4, inputTopic, outputTopic)

	app := startApp(
		t, broker, uppercaseTopology(t, inputTopic, outputTopic),
		streams.WithApplicationID(appID),
		streams.WithNumThreads(4),
		streams.WithMaxBufferedPerPartition(50),
	)
	app.waitRunning(t)

	const total = 1000
	records := make([]kgo.Record, total)
	for i := range records {
		records[i] = kgo.Record{
			Key:   []byte(fmt.Sprintf("key-%04d", i)),
			Value: []byte(fmt.Sprintf("value-%04d", i)),
		}
	}
	produceOrderedRecords(t, broker, inputTopic, records)

	out := consumeAsMap(t, broker, outputTopic, total, consumeWait*2)
	require.Len(t, out, total)
	for i := range total {
		require.Equal(t, fmt.Sprintf("VALUE-%04d", i), out[fmt.Sprintf("key-%04d", i)])
	}

	eventually(
		t, func() bool {
			var committed int64
			for _, off := range getCommittedOffsets(t, broker, appID)[inputTopic] {
				committed += off
			}
			return committed == total
		}, eventualWait, "not every record was committed",
	)
}
