//go:build unit

package streams_test

import (
	"context"
	"testing"
	"time"

	streams "github.com/hugolhafner/go-streams-runtime"
	"github.com/hugolhafner/go-streams-runtime/kafka"
	mockkafka "github.com/hugolhafner/go-streams-runtime/kafka/mock"
	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/state/memory"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appID = "wordcount"

func countTopology(t *testing.T, topics ...string) *topology.Topology {
	t.Helper()

	counter := processor.Supplier[string, string, string, int64](
		func() processor.Processor[string, string, string, int64] {
			return builtins.NewCountProcessor[string, string]("counts", serde.String())
		},
	).ToUntyped()

	b := topology.NewBuilder()
	var sources []string
	for _, topic := range topics {
		name := "source-" + topic
		b.AddSource(name, topic, serde.ToUntypedDeserialiser[string](serde.String()), serde.ToUntypedDeserialiser[string](serde.String()))
		sources = append(sources, name)
	}

	topo, err := b.
		AddProcessor("count", counter, sources...).
		AddSink("sink", "counts-out", serde.ToUntypedSerialiser[string](serde.String()), serde.ToUntypedSerialiser[int64](serde.Int64()), "count").
		AddStateStore(state.KeyValueStoreBuilder("counts", memory.Supplier()), "count").
		Build()
	require.NoError(t, err)
	return topo
}

func newApp(t *testing.T, cluster *mockkafka.Cluster, topo *topology.Topology, opts ...streams.ConfigOption) *streams.Application {
	t.Helper()

	base := []streams.ConfigOption{
		streams.WithApplicationID(appID),
		streams.WithStateDir(t.TempDir()),
		streams.WithPoll(10*time.Millisecond, 100),
		streams.WithCommit(10*time.Millisecond, 1),
		streams.WithHealthInterval(10 * time.Millisecond),
	}
	app, err := streams.NewApplication(cluster.Supplier(), topo, append(base, opts...)...)
	require.NoError(t, err)
	return app
}

func run(t *testing.T, app *streams.Application) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- app.Run(context.Background())
		close(done)
	}()
	t.Cleanup(
		func() {
			app.Close()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Error("application did not stop")
			}
		},
	)
	return done
}

func TestApplication_RunsThreadsAndAnswersQueries(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("words", 2)
	cluster.AddStringRecords("words", 0, "go", "", "go", "")
	cluster.AddStringRecords("words", 1, "kafka", "")

	app := newApp(t, cluster, countTopology(t, "words"), streams.WithNumThreads(2))
	done := run(t, app)

	for _, tp := range []kafka.TopicPartition{{Topic: "words", Partition: 0}, {Topic: "words", Partition: 1}} {
		expected := map[int32]int64{0: 2, 1: 1}[tp.Partition]
		require.Eventually(
			t, func() bool {
				o, ok := cluster.CommittedOffset(appID, tp)
				return ok && o.Offset == expected
			}, 5*time.Second, 10*time.Millisecond,
		)
	}

	require.Eventually(t, app.IsRunning, 5*time.Second, 10*time.Millisecond)

	health := app.Health()
	require.Len(t, health, 2)
	for _, h := range health {
		assert.Len(t, h.Tasks, 1)
	}

	store, err := app.ReadOnlyStore("counts")
	require.NoError(t, err)

	raw, ok, err := store.Get([]byte("go"))
	require.NoError(t, err)
	require.True(t, ok)
	count, err := serde.Int64().Deserialise("", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	var keys []string
	require.NoError(
		t, store.Range(
			nil, nil, func(key, _ []byte) bool {
				keys = append(keys, string(key))
				return true
			},
		),
	)
	assert.ElementsMatch(t, []string{"go", "kafka"}, keys)

	app.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestApplication_CreatesChangelogsPerTask(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("words", 3)

	app := newApp(t, cluster, countTopology(t, "words"))
	run(t, app)

	changelog := topology.ChangelogTopic(appID, "counts")
	require.Eventually(
		t, func() bool {
			counts, err := cluster.PartitionCounts(changelog)
			return err == nil && counts[changelog] == 3
		}, 5*time.Second, 10*time.Millisecond,
	)
}

func TestApplication_RejectsSourcesWithDifferentPartitionCounts(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("left", 2)
	cluster.CreateTopic("right", 3)

	app := newApp(t, cluster, countTopology(t, "left", "right"))
	err := app.Run(t.Context())
	require.ErrorIs(t, err, streams.ErrNotCopartitioned)
}

func TestApplication_RequiresChangelogsWhenCreationDisabled(t *testing.T) {
	t.Parallel()

	changelog := topology.ChangelogTopic(appID, "counts")
	tests := []struct {
		name       string
		partitions int32
	}{
		{name: "missing", partitions: 0},
		{name: "fewer partitions than tasks", partitions: 1},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()

				cluster := mockkafka.NewCluster()
				cluster.CreateTopic("words", 2)
				if tt.partitions > 0 {
					cluster.CreateTopic(changelog, tt.partitions)
				}

				app := newApp(t, cluster, countTopology(t, "words"), streams.WithChangelogCreation(false, -1))
				err := app.Run(t.Context())
				require.ErrorIs(t, err, state.ErrMissingChangelog)
				assert.Empty(t, app.Health(), "no thread is started")
			},
		)
	}
}

func TestApplication_UsesExistingChangelogsWhenCreationDisabled(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("words", 2)
	cluster.CreateTopic(topology.ChangelogTopic(appID, "counts"), 2)

	app := newApp(t, cluster, countTopology(t, "words"), streams.WithChangelogCreation(false, -1))
	run(t, app)
	require.Eventually(t, app.IsRunning, 5*time.Second, 10*time.Millisecond)
}

func TestApplication_Lifecycle(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("words", 1)

	app := newApp(t, cluster, countTopology(t, "words"))
	run(t, app)
	require.Eventually(t, app.IsRunning, 5*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, app.Run(t.Context()), streams.ErrAlreadyRunning)

	_, err := app.ReadOnlyStore("missing")
	require.ErrorIs(t, err, streams.ErrUnknownStore)

	app.Close()
	require.Eventually(t, func() bool { return !app.IsRunning() }, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, app.Run(t.Context()), streams.ErrClosed)
}

func TestApplication_Validation(t *testing.T) {
	t.Parallel()

	cluster := mockkafka.NewCluster()
	topo := countTopology(t, "words")

	_, err := streams.NewApplication(cluster.Supplier(), topo, streams.WithApplicationID(""))
	require.Error(t, err)

	_, err = streams.NewApplication(cluster.Supplier(), topo, streams.WithNumThreads(0))
	require.Error(t, err)
}
