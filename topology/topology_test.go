//go:build unit

package topology_test

import (
	"bytes"
	"testing"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/state/memory"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough() processor.UntypedSupplier {
	return processor.Supplier[string, string, string, string](
		func() processor.Processor[string, string, string, string] {
			return builtins.NewPassthroughProcessor[string, string]()
		},
	).ToUntyped()
}

func strDe() serde.UntypedDeserialiser {
	return serde.ToUntypedDeserialiser[string](serde.String())
}

func strSer() serde.UntypedSerialiser {
	return serde.ToUntypedSerialiser[string](serde.String())
}

func TestBuilder_LinearTopology(t *testing.T) {
	t.Parallel()

	topo, err := topology.NewBuilder().
		AddSource("source", "input", strDe(), strDe()).
		AddProcessor("proc", passthrough(), "source").
		AddSink("sink", "output", strSer(), strSer(), "proc").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"input"}, topo.SourceTopics())
	assert.Equal(t, []string{"proc"}, topo.Children("source"))
	assert.Equal(t, []string{"sink"}, topo.Children("proc"))
	assert.Equal(t, []string{"sink"}, topo.Sinks())

	src, ok := topo.SourceForTopic("input")
	require.True(t, ok)
	assert.Equal(t, "source", src.Name())

	require.Len(t, topo.Subtopologies(), 1)
	assert.Equal(t, []string{"source", "proc", "sink"}, topo.Subtopologies()[0].Nodes)
}

func TestBuilder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		build func(b *topology.Builder) *topology.Builder
		msg   string
	}{
		{
			name: "no sources",
			build: func(b *topology.Builder) *topology.Builder {
				return b
			},
			msg: "topology has no sources",
		},
		{
			name: "duplicate node",
			build: func(b *topology.Builder) *topology.Builder {
				return b.AddSource("a", "t1", strDe(), strDe()).AddSource("a", "t2", strDe(), strDe())
			},
			msg: "duplicate node name a",
		},
		{
			name: "unknown parent",
			build: func(b *topology.Builder) *topology.Builder {
				return b.AddSource("a", "t1", strDe(), strDe()).AddProcessor("p", passthrough(), "missing")
			},
			msg: "parent missing of p is not defined",
		},
		{
			name: "topic read twice",
			build: func(b *topology.Builder) *topology.Builder {
				return b.AddSource("a", "t1", strDe(), strDe()).AddSource("b", "t1", strDe(), strDe())
			},
			msg: "topic t1 is already read by source a",
		},
		{
			name: "unknown store",
			build: func(b *topology.Builder) *topology.Builder {
				b.AddSource("a", "t1", strDe(), strDe()).AddProcessor("p", passthrough(), "a")
				return b.ConnectProcessorAndStateStores("p")("nope")
			},
			msg: "store nope is not defined",
		},
		{
			name: "sink as parent",
			build: func(b *topology.Builder) *topology.Builder {
				return b.AddSource("a", "t1", strDe(), strDe()).
					AddSink("s", "out", strSer(), strSer(), "a").
					AddProcessor("p", passthrough(), "s")
			},
			msg: "sink s can not be a parent of p",
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				t.Parallel()

				_, err := tt.build(topology.NewBuilder()).Build()
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.msg)
			},
		)
	}
}

func TestBuilder_NamedEdges(t *testing.T) {
	t.Parallel()

	topo, err := topology.NewBuilder().
		AddSource("source", "input", strDe(), strDe()).
		AddProcessorWithChildName("left-proc", passthrough(), "source", "left").
		AddSinkWithChildName("right-sink", "right", strSer(), strSer(), "source", "right").
		Build()
	require.NoError(t, err)

	assert.Equal(
		t, map[string]string{"left": "left-proc", "right": "right-sink"}, topo.NamedEdges("source"),
	)
}

func TestSubtopologies_SharedStoreJoinsGroups(t *testing.T) {
	t.Parallel()

	counts := state.KeyValueStoreBuilder("counts", memory.Supplier())
	other := state.KeyValueStoreBuilder("other", memory.Supplier()).WithLoggingDisabled()

	topo, err := topology.NewBuilder().
		AddSource("a", "topic-a", strDe(), strDe()).
		AddProcessor("pa", passthrough(), "a").
		AddSource("b", "topic-b", strDe(), strDe()).
		AddProcessor("pb", passthrough(), "b").
		AddSource("c", "topic-c", strDe(), strDe()).
		AddProcessor("pc", passthrough(), "c").
		AddStateStore(counts, "pa", "pb").
		AddStateStore(other, "pc").
		Build()
	require.NoError(t, err)

	subs := topo.Subtopologies()
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"topic-a", "topic-b"}, subs[0].SourceTopics)
	assert.Equal(t, []string{"counts"}, subs[0].Stores)
	assert.Equal(t, []string{"topic-c"}, subs[1].SourceTopics)

	id, ok := topo.SubtopologyForTopic("topic-b")
	require.True(t, ok)
	assert.Equal(t, 0, id)

	changelogs := topo.ChangelogTopics("app")
	require.Len(t, changelogs, 1)
	cl, ok := changelogs["app-counts-changelog"]
	require.True(t, ok)
	assert.Equal(t, "counts", cl.Store)
	assert.Equal(t, 0, cl.Subtopology)
	assert.Equal(t, "compact", cl.Config["cleanup.policy"])
}

func TestChangelogTopic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "wordcount-counts-changelog", topology.ChangelogTopic("wordcount", "counts"))
}

func TestDescribe(t *testing.T) {
	t.Parallel()

	topo := topology.NewBuilder().
		AddSource("source", "input", strDe(), strDe()).
		AddProcessor("proc", passthrough(), "source").
		AddSink("sink", "output", strSer(), strSer(), "proc").
		AddStateStore(state.KeyValueStoreBuilder("s", memory.Supplier()), "proc").
		MustBuild()

	var buf bytes.Buffer
	topo.Describe(&buf)

	out := buf.String()
	assert.Contains(t, out, "Subtopology 0 [input]")
	assert.Contains(t, out, "- source (Source) <- input")
	assert.Contains(t, out, "    - proc (Processor) stores=[s]")
	assert.Contains(t, out, "      - sink (Sink) -> output")
}
