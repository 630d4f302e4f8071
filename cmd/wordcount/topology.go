package main

import (
	"context"
	"strings"
	"unicode"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/processor/builtins"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/topology"
)

const countStore = "word-counts"

// repartitionTopic carries words keyed by themselves so every occurrence of a word is
// counted by the same task
func repartitionTopic(applicationID string) string {
	return applicationID + "-words-repartition"
}

func splitWords(_ context.Context, _ string, line string) ([]builtins.KeyValue[string, string], error) {
	words := strings.FieldsFunc(
		strings.ToLower(line), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		},
	)

	out := make([]builtins.KeyValue[string, string], 0, len(words))
	for _, w := range words {
		out = append(out, builtins.KeyValue[string, string]{Key: w, Value: w})
	}
	return out, nil
}

func buildTopology(applicationID, input, output string, backend state.BackendSupplier, cacheSize int) (
	*topology.Topology, error,
) {
	strDe := serde.ToUntypedDeserialiser[string](serde.String())
	strSer := serde.ToUntypedSerialiser[string](serde.String())

	split := processor.Supplier[string, string, string, string](
		func() processor.Processor[string, string, string, string] {
			return builtins.NewFlatMapProcessor[string, string, string, string](splitWords)
		},
	).ToUntyped()

	count := processor.Supplier[string, string, string, int64](
		func() processor.Processor[string, string, string, int64] {
			return builtins.NewCountProcessor[string, string](countStore, serde.String())
		},
	).ToUntyped()

	store := state.KeyValueStoreBuilder(countStore, backend)
	if cacheSize > 0 {
		store = store.WithCachingEnabled(cacheSize)
	}

	repartition := repartitionTopic(applicationID)
	return topology.NewBuilder().
		AddSource("lines", input, strDe, strDe).
		AddProcessor("split", split, "lines").
		AddSink("to-words", repartition, strSer, strSer, "split").
		AddSource("words", repartition, strDe, strDe).
		AddProcessor("count", count, "words").
		AddSink("counts", output, strSer, serde.ToUntypedSerialiser[int64](serde.Int64()), "count").
		AddStateStore(store, "count").
		Build()
}
