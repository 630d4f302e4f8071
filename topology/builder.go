package topology

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"github.com/hugolhafner/go-streams-runtime/state"
)

// Builder assembles a Topology. Parents must be added before their children.
// Errors are collected and returned by Build.
type Builder struct {
	topology *Topology
	errs     []error
}

func NewBuilder() *Builder {
	return &Builder{
		topology: newTopology(),
	}
}

func (b *Builder) fail(format string, args ...any) *Builder {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
	return b
}

func (b *Builder) addNode(node Node) bool {
	if node.Name() == "" {
		b.fail("node name is required")
		return false
	}
	if _, exists := b.topology.nodes[node.Name()]; exists {
		b.fail("duplicate node name %s", node.Name())
		return false
	}

	b.topology.nodes[node.Name()] = node
	b.topology.order = append(b.topology.order, node.Name())
	return true
}

func (b *Builder) connect(child string, parents []string) {
	if len(parents) == 0 {
		b.fail("node %s needs at least one parent", child)
	}

	for _, parent := range parents {
		node, ok := b.topology.nodes[parent]
		if !ok {
			b.fail("parent %s of %s is not defined", parent, child)
			continue
		}
		if node.Type() == NodeTypeSink {
			b.fail("sink %s can not be a parent of %s", parent, child)
			continue
		}
		b.topology.edges[parent] = append(b.topology.edges[parent], child)
	}
}

func (b *Builder) AddSource(name, topic string, keyDeserialiser, valueDeserialiser serde.UntypedDeserialiser) *Builder {
	if topic == "" {
		return b.fail("source %s needs a topic", name)
	}
	if owner, ok := b.topology.sourceTopics[topic]; ok {
		return b.fail("topic %s is already read by source %s", topic, owner)
	}
	if keyDeserialiser == nil || valueDeserialiser == nil {
		return b.fail("source %s needs key and value deserialisers", name)
	}

	if b.addNode(
		&SourceNode{
			name: name, topic: topic, keyDeserialiser: keyDeserialiser, valueDeserialiser: valueDeserialiser,
		},
	) {
		b.topology.sources = append(b.topology.sources, name)
		b.topology.sourceTopics[topic] = name
	}
	return b
}

func (b *Builder) AddProcessor(name string, supplier processor.UntypedSupplier, parents ...string) *Builder {
	if supplier == nil {
		return b.fail("processor %s needs a supplier", name)
	}

	if b.addNode(&ProcessorNode{name: name, supplier: supplier}) {
		b.connect(name, parents)
	}
	return b
}

// AddProcessorWithChildName adds a processor that its parent can address with ForwardTo(childName)
func (b *Builder) AddProcessorWithChildName(
	name string,
	supplier processor.UntypedSupplier,
	parent string,
	childName string,
) *Builder {
	b.AddProcessor(name, supplier, parent)
	b.nameEdge(parent, childName, name)
	return b
}

func (b *Builder) nameEdge(parent, childName, name string) {
	if b.topology.namedEdges[parent] == nil {
		b.topology.namedEdges[parent] = make(map[string]string)
	}
	if _, exists := b.topology.namedEdges[parent][childName]; exists {
		b.fail("%s already has a child named %s", parent, childName)
		return
	}
	b.topology.namedEdges[parent][childName] = name
}

func (b *Builder) AddSink(
	name, topic string, keySerialiser, valueSerialiser serde.UntypedSerialiser, parents ...string,
) *Builder {
	if topic == "" {
		return b.fail("sink %s needs a topic", name)
	}
	if keySerialiser == nil || valueSerialiser == nil {
		return b.fail("sink %s needs key and value serialisers", name)
	}

	if b.addNode(
		&SinkNode{name: name, topic: topic, keySerialiser: keySerialiser, valueSerialiser: valueSerialiser},
	) {
		b.topology.sinks = append(b.topology.sinks, name)
		b.connect(name, parents)
	}
	return b
}

// AddSinkWithChildName adds a sink that its parent can address with ForwardTo(childName)
func (b *Builder) AddSinkWithChildName(
	name, topic string, keySerialiser, valueSerialiser serde.UntypedSerialiser, parent, childName string,
) *Builder {
	b.AddSink(name, topic, keySerialiser, valueSerialiser, parent)
	b.nameEdge(parent, childName, name)
	return b
}

// AddStateStore registers a store and connects it to the given processors
func (b *Builder) AddStateStore(store state.StoreBuilder, processors ...string) *Builder {
	if _, exists := b.topology.stores[store.Name()]; exists {
		return b.fail("duplicate store %s", store.Name())
	}

	b.topology.stores[store.Name()] = store
	b.topology.storeOrder = append(b.topology.storeOrder, store.Name())
	return b.ConnectProcessorAndStateStores(processors...)(store.Name())
}

// ConnectProcessorAndStateStores returns a function connecting processors to the named stores
func (b *Builder) ConnectProcessorAndStateStores(processors ...string) func(stores ...string) *Builder {
	return func(stores ...string) *Builder {
		for _, name := range processors {
			node, ok := b.topology.nodes[name].(*ProcessorNode)
			if !ok {
				b.fail("store user %s is not a processor", name)
				continue
			}
			for _, store := range stores {
				if _, ok := b.topology.stores[store]; !ok {
					b.fail("store %s is not defined", store)
					continue
				}
				if !slices.Contains(node.stores, store) {
					node.stores = append(node.stores, store)
				}
			}
		}
		return b
	}
}

func (b *Builder) Build() (*Topology, error) {
	if len(b.topology.sources) == 0 {
		b.fail("topology has no sources")
	}
	if err := errors.Join(b.errs...); err != nil {
		return nil, err
	}

	b.topology.buildSubtopologies()
	return b.topology, nil
}

// MustBuild is Build for topologies defined in code, it panics on error
func (b *Builder) MustBuild() *Topology {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
