//go:build e2e

package e2e

import (
	"fmt"
	"testing"

	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/state/boltstore"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"github.com/stretchr/testify/require"
)

const countStore = "counts"

// countTopology counts the records per key of every topic in a bolt store backed by a changelog
func countTopology(t *testing.T, output string, topics ...string) *topology.Topology {
	t.Helper()

	counter := processor.Supplier[string, string, string, int64](
		func() processor.Processor[string, string, string, int64] {
			return builtins.NewCountProcessor[string, string](countStore, serde.String())
		},
	).ToUntyped()

	str := serde.String()
	b := topology.NewBuilder()
	var sources []string
	for _, topic := range topics {
		name := "source-" + topic
		b.AddSource(name, topic, serde.ToUntypedDeserialiser[string](str), serde.ToUntypedDeserialiser[string](str))
		sources = append(sources, name)
	}

	topo, err := b.
		AddProcessor("count", counter, sources...).
		AddSink("sink", output, serde.ToUntypedSerialiser[string](str), serde.ToUntypedSerialiser[int64](serde.Int64()), "count").
		AddStateStore(state.KeyValueStoreBuilder(countStore, boltstore.Supplier()), "count").
		Build()
	require.NoError(t, err)
	return topo
}

func queryCount(app *runningApp, key string) (int64, error) {
	store, err := app.app.ReadOnlyStore(countStore)
	if err != nil {
		return 0, err
	}
	raw, ok, err := store.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("key %s not found", key)
	}
	return serde.Int64().Deserialise("", raw)
}

func TestE2E_State_CreatesChangelogAndRestores(t *testing.T) {
	broker := ensureContainer(t)

	inputTopic := testTopicName(t, "input")
	outputTopic := testTopicName(t, "output")
	appID := testAppID(t, "restore")
	createTopics(t, broker, 2, inputTopic, outputTopic)

	changelog := topology.ChangelogTopic(appID, countStore)
	records := map[string]string{"a": "", "b": "", "c": ""}

	// first instance builds the counts and their changelog
	{
		app := startApp(t, broker, countTopology(t, outputTopic, inputTopic), streams.WithApplicationID(appID))
		app.waitRunning(t)
		require.Equal(t, int32(2), topicPartitions(t, broker, changelog))

		produceRecords(t, broker, inputTopic, records)
		produceRecords(t, broker, inputTopic, records)

		eventually(
			t, func() bool {
				n, err := queryCount(app, "a")
				return err == nil && n == 2
			}, eventualWait, "counts not built",
		)
		app.stop(t)
	}

	// a fresh state directory is restored from the changelog before processing resumes
	{
		app := startApp(t, broker, countTopology(t, outputTopic, inputTopic), streams.WithApplicationID(appID))
		app.waitRunning(t)

		for key := range records {
			n, err := queryCount(app, key)
			require.NoError(t, err)
			require.Equal(t, int64(2), n, "count of %s after restore", key)
		}

		produceRecords(t, broker, inputTopic, map[string]string{"a": ""})
		eventually(
			t, func() bool {
				n, err := queryCount(app, "a")
				return err == nil && n == 3
			}, eventualWait, "count did not continue from restored state",
		)
	}
}
