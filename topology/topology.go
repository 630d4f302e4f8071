package topology

import (
	"fmt"
	"io"
	"slices"

	"github.com/hugolhafner/go-streams-runtime/state"
)

// ChangelogSuffix is appended to <applicationID>-<store> to name a store's changelog topic
const ChangelogSuffix = "-changelog"

// Topology is an immutable processor graph, shared read-only by every stream thread
type Topology struct {
	nodes        map[string]Node
	order        []string
	edges        map[string][]string
	namedEdges   map[string]map[string]string
	sources      []string
	sourceTopics map[string]string
	sinks        []string

	stores     map[string]state.StoreBuilder
	storeOrder []string

	subtopologies []*Subtopology
	topicGroup    map[string]int
}

// Subtopology is a connected part of the topology. Partition n of every source topic in a
// subtopology is processed by the same task.
type Subtopology struct {
	ID           int
	Nodes        []string
	SourceTopics []string
	Stores       []string
}

func newTopology() *Topology {
	return &Topology{
		nodes:        make(map[string]Node),
		edges:        make(map[string][]string),
		namedEdges:   make(map[string]map[string]string),
		sourceTopics: make(map[string]string),
		stores:       make(map[string]state.StoreBuilder),
		topicGroup:   make(map[string]int),
	}
}

func (t *Topology) Nodes() map[string]Node {
	return t.nodes
}

func (t *Topology) Node(name string) (Node, bool) {
	n, ok := t.nodes[name]
	return n, ok
}

func (t *Topology) Children(parent string) []string {
	return t.edges[parent]
}

func (t *Topology) NamedEdges(parent string) map[string]string {
	return t.namedEdges[parent]
}

func (t *Topology) Sources() []string {
	return t.sources
}

func (t *Topology) Sinks() []string {
	return t.sinks
}

// SourceTopics lists every topic the topology reads
func (t *Topology) SourceTopics() []string {
	out := make([]string, 0, len(t.sources))
	for _, name := range t.sources {
		out = append(out, t.nodes[name].(*SourceNode).topic)
	}
	return out
}

// SourceForTopic returns the source node reading topic
func (t *Topology) SourceForTopic(topic string) (*SourceNode, bool) {
	name, ok := t.sourceTopics[topic]
	if !ok {
		return nil, false
	}
	return t.nodes[name].(*SourceNode), true
}

func (t *Topology) Store(name string) (state.StoreBuilder, bool) {
	s, ok := t.stores[name]
	return s, ok
}

func (t *Topology) Subtopologies() []*Subtopology {
	return t.subtopologies
}

// SubtopologyForTopic returns the id of the subtopology reading topic
func (t *Topology) SubtopologyForTopic(topic string) (int, bool) {
	id, ok := t.topicGroup[topic]
	return id, ok
}

func ChangelogTopic(applicationID, store string) string {
	return applicationID + "-" + store + ChangelogSuffix
}

// Changelog describes the changelog topic of one logged store
type Changelog struct {
	Store       string
	Subtopology int
	Config      map[string]string
}

// ChangelogTopics returns the changelog topics of every logged store keyed by topic name
func (t *Topology) ChangelogTopics(applicationID string) map[string]Changelog {
	out := make(map[string]Changelog)
	for _, sub := range t.subtopologies {
		for _, name := range sub.Stores {
			store := t.stores[name]
			if !store.LoggingEnabled() {
				continue
			}

			config := store.LoggingConfig()
			if _, ok := config["cleanup.policy"]; !ok {
				config["cleanup.policy"] = "compact"
			}
			out[ChangelogTopic(applicationID, name)] = Changelog{Store: name, Subtopology: sub.ID, Config: config}
		}
	}
	return out
}

// buildSubtopologies groups nodes connected by edges or by a shared store
func (t *Topology) buildSubtopologies() {
	uf := newUnionFind(t.order)
	for parent, children := range t.edges {
		for _, child := range children {
			uf.union(parent, child)
		}
	}

	storeOwner := make(map[string]string)
	for _, name := range t.order {
		p, ok := t.nodes[name].(*ProcessorNode)
		if !ok {
			continue
		}
		for _, store := range p.stores {
			if owner, ok := storeOwner[store]; ok {
				uf.union(owner, name)
			} else {
				storeOwner[store] = name
			}
		}
	}

	byRoot := make(map[string]*Subtopology)
	for _, source := range t.sources {
		root := uf.find(source)
		if _, ok := byRoot[root]; !ok {
			sub := &Subtopology{ID: len(t.subtopologies)}
			byRoot[root] = sub
			t.subtopologies = append(t.subtopologies, sub)
		}
	}

	for _, name := range t.order {
		sub, ok := byRoot[uf.find(name)]
		if !ok {
			continue
		}
		sub.Nodes = append(sub.Nodes, name)

		switch n := t.nodes[name].(type) {
		case *SourceNode:
			sub.SourceTopics = append(sub.SourceTopics, n.topic)
			t.topicGroup[n.topic] = sub.ID
		case *ProcessorNode:
			for _, store := range n.stores {
				if !slices.Contains(sub.Stores, store) {
					sub.Stores = append(sub.Stores, store)
				}
			}
		}
	}
}

// Describe writes the node tree of every subtopology to w
func (t *Topology) Describe(w io.Writer) {
	for _, sub := range t.subtopologies {
		_, _ = fmt.Fprintf(w, "Subtopology %d %v\n", sub.ID, sub.SourceTopics)
		visited := make(map[string]bool)
		for _, name := range sub.Nodes {
			if t.nodes[name].Type() == NodeTypeSource {
				t.describeNode(w, name, "  ", visited)
			}
		}
	}
}

func (t *Topology) describeNode(w io.Writer, name, prefix string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	node := t.nodes[name]
	line := fmt.Sprintf("%s- %s (%s)", prefix, name, node.Type())
	switch n := node.(type) {
	case *SourceNode:
		line += " <- " + n.topic
	case *SinkNode:
		line += " -> " + n.topic
	case *ProcessorNode:
		if len(n.stores) > 0 {
			line += fmt.Sprintf(" stores=%v", n.stores)
		}
	}
	_, _ = fmt.Fprintln(w, line)

	for _, child := range t.edges[name] {
		t.describeNode(w, child, prefix+"  ", visited)
	}
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind(names []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(names))}
	for _, n := range names {
		uf.parent[n] = n
	}
	return uf
}

func (u *unionFind) find(n string) string {
	for u.parent[n] != n {
		u.parent[n] = u.parent[u.parent[n]]
		n = u.parent[n]
	}
	return n
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
