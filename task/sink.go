package task

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/topology"
)

type sinkHandler struct {
	node      *topology.SinkNode
	collector *RecordCollector
}

func (s *sinkHandler) Process(ctx context.Context, rec *record.UntypedRecord) error {
	err := s.collector.Send(
		ctx, s.node.Topic(), kafka.AnyPartition, rec.Key, rec.Value, rec.Headers, rec.Timestamp,
		s.node.KeySerialiser(), s.node.ValueSerialiser(),
	)
	if err == nil {
		return nil
	}

	if _, ok := AsSerdeError(err); ok {
		return err
	}
	if IsFatal(err) {
		return err
	}
	return NewProductionError(err, s.node.Name())
}
