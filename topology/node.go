package topology

import (
	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/serde"
)

type NodeType int

const (
	NodeTypeSource NodeType = iota
	NodeTypeProcessor
	NodeTypeSink
)

func (nt NodeType) String() string {
	switch nt {
	case NodeTypeSource:
		return "Source"
	case NodeTypeProcessor:
		return "Processor"
	case NodeTypeSink:
		return "Sink"
	default:
		return "Unknown"
	}
}

// Node represents a processing step in the topology
type Node interface {
	Name() string
	Type() NodeType
}

var (
	_ Node = (*SourceNode)(nil)
	_ Node = (*ProcessorNode)(nil)
	_ Node = (*SinkNode)(nil)
)

type SourceNode struct {
	name              string
	topic             string
	keyDeserialiser   serde.UntypedDeserialiser
	valueDeserialiser serde.UntypedDeserialiser
}

func (s *SourceNode) Name() string {
	return s.name
}

func (s *SourceNode) Type() NodeType {
	return NodeTypeSource
}

func (s *SourceNode) Topic() string {
	return s.topic
}

func (s *SourceNode) KeyDeserialiser() serde.UntypedDeserialiser {
	return s.keyDeserialiser
}

func (s *SourceNode) ValueDeserialiser() serde.UntypedDeserialiser {
	return s.valueDeserialiser
}

type ProcessorNode struct {
	name     string
	supplier processor.UntypedSupplier
	stores   []string
}

func (p *ProcessorNode) Name() string {
	return p.name
}

func (p *ProcessorNode) Type() NodeType {
	return NodeTypeProcessor
}

func (p *ProcessorNode) Supplier() processor.UntypedSupplier {
	return p.supplier
}

// Stores are the names of the stores this processor may access
func (p *ProcessorNode) Stores() []string {
	return p.stores
}

type SinkNode struct {
	name            string
	topic           string
	keySerialiser   serde.UntypedSerialiser
	valueSerialiser serde.UntypedSerialiser
}

func (s *SinkNode) Name() string {
	return s.name
}

func (s *SinkNode) Type() NodeType {
	return NodeTypeSink
}

func (s *SinkNode) Topic() string {
	return s.topic
}

func (s *SinkNode) KeySerialiser() serde.UntypedSerialiser {
	return s.keySerialiser
}

func (s *SinkNode) ValueSerialiser() serde.UntypedSerialiser {
	return s.valueSerialiser
}
