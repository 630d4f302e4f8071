//go:build unit

package main

import (
	"context"
	"testing"
	"time"

	streams "github.com/hugolhafner/go-streams-runtime"
	mockkafka "github.com/hugolhafner/go-streams-runtime/kafka/mock"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWords(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{name: "empty", line: "", want: nil},
		{name: "punctuation", line: "Hello, world! hello...", want: []string{"hello", "world", "hello"}},
		{name: "digits", line: "go 1 25", want: []string{"go", "1", "25"}},
		{name: "unicode", line: "Grüße  welt", want: []string{"grüße", "welt"}},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				kvs, err := splitWords(context.Background(), "", tt.line)
				require.NoError(t, err)

				var got []string
				for _, kv := range kvs {
					assert.Equal(t, kv.Key, kv.Value)
					got = append(got, kv.Key)
				}
				assert.Equal(t, tt.want, got)
			},
		)
	}
}

func TestBuildTopology_Subtopologies(t *testing.T) {
	topo, err := buildTopology("wc", "in", "out", memory.Supplier(), 0)
	require.NoError(t, err)

	subs := topo.Subtopologies()
	require.Len(t, subs, 2)
	assert.ElementsMatch(t, []string{"in", repartitionTopic("wc")}, topo.SourceTopics())

	_, ok := topo.Store(countStore)
	assert.True(t, ok)
}

func TestWordCount_EndToEnd(t *testing.T) {
	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("in", 2)
	cluster.AddStringRecords("in", 0, "", "the quick fox", "", "the lazy dog")
	cluster.AddStringRecords("in", 1, "", "The end")

	supplier := cluster.Supplier()
	require.NoError(t, ensureRepartitionTopic(t.Context(), supplier, "wc", "in"))

	counts, err := cluster.PartitionCounts(repartitionTopic("wc"))
	require.NoError(t, err)
	require.Equal(t, int32(2), counts[repartitionTopic("wc")])

	topo, err := buildTopology("wc", "in", "out", memory.Supplier(), 0)
	require.NoError(t, err)

	app, err := streams.NewApplication(
		supplier, topo,
		streams.WithApplicationID("wc"),
		streams.WithStateDir(t.TempDir()),
		streams.WithPoll(10*time.Millisecond, 100),
		streams.WithCommit(10*time.Millisecond, 1),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(context.Background()) }()
	t.Cleanup(
		func() {
			app.Close()
			<-done
		},
	)

	three, err := serde.Int64().Serialise("", 3)
	require.NoError(t, err)

	require.Eventually(
		t, func() bool {
			for _, r := range cluster.TopicRecords("out") {
				if string(r.Key) == "the" && string(r.Value) == string(three) {
					return true
				}
			}
			return false
		}, 5*time.Second, 10*time.Millisecond,
	)

	store, err := app.ReadOnlyStore(countStore)
	require.NoError(t, err)
	raw, ok, err := store.Get([]byte("fox"))
	require.NoError(t, err)
	require.True(t, ok)
	n, err := serde.Int64().Deserialise("", raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

var _ builtins.FlatMapFunc[string, string, string, string] = splitWords
