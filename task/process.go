package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hugolhafner/go-streams-runtime/errorhandler"
	"github.com/hugolhafner/go-streams-runtime/kafka"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
	"go.opentelemetry.io/otel/trace"
)

// processSafe deserialises rec and forwards it to the children of its source node
func (t *StreamTask) processSafe(ctx context.Context, rec kafka.ConsumerRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	source, ok := t.topology.SourceForTopic(rec.Topic)
	if !ok {
		return fmt.Errorf("no source for topic %s", rec.Topic)
	}

	key, err := source.KeyDeserialiser().Deserialise(rec.Topic, rec.Key)
	if err != nil {
		return NewSerdeError(fmt.Errorf("deserialize key: %w", err))
	}

	value, err := source.ValueDeserialiser().Deserialise(rec.Topic, rec.Value)
	if err != nil {
		return NewSerdeError(fmt.Errorf("deserialize value: %w", err))
	}

	untypedRec := record.NewUntyped(
		key, value, record.Metadata{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Timestamp: rec.Timestamp,
			Headers:   rec.Headers,
		},
	)

	for _, childName := range t.topology.Children(source.Name()) {
		if err := t.processAt(ctx, childName, untypedRec); err != nil {
			return err
		}
	}

	return nil
}

func classify(err error) (errorhandler.ErrorPhase, string) {
	if _, ok := AsSerdeError(err); ok {
		return errorhandler.PhaseSerde, ""
	}
	if pErr, ok := AsProductionError(err); ok {
		return errorhandler.PhaseProduction, pErr.Node
	}
	if pErr, ok := AsProcessError(err); ok {
		return errorhandler.PhaseProcessing, pErr.Node
	}
	return errorhandler.PhaseProcessing, ""
}

// processRecord handles the error-retry loop for a single record,
// including OTel span creation, context propagation, and metric recording.
// On all non-error return paths, the record is marked as consumed.
func (t *StreamTask) processRecord(ctx context.Context, rec kafka.ConsumerRecord) error {
	tel := t.config.Telemetry
	l := t.logger

	ctx = tel.Extract(ctx, rec.Headers)

	partitionID := strconv.FormatInt(int64(rec.Partition), 10)
	processStart := time.Now()
	ctx, span := tel.Tracer.Start(
		ctx, rec.Topic+" process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeProcess,
			semconv.MessagingDestinationName(rec.Topic),
			semconv.MessagingDestinationPartitionID(partitionID),
			semconv.MessagingKafkaOffsetKey.Int64(rec.Offset),
			semconv.MessagingConsumerGroupName(t.config.ApplicationID),
			semconv.MessagingMessageBodySize(rec.Size()),
			streamsotel.AttrTaskID.String(t.id.String()),
		),
	)
	defer span.End()

	ec := errorhandler.NewErrorContext(rec, nil).WithTaskID(t.id.String())
	recordProcessStatus := func(status string) {
		span.SetAttributes(attribute.Int("stream.process.retry_count", ec.Attempt))
		tel.ProcessDuration.Record(
			ctx, time.Since(processStart).Seconds(), metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				semconv.MessagingDestinationPartitionID(partitionID),
				streamsotel.AttrProcessStatus.String(status),
			),
		)
	}

	for {
		select {
		case <-ctx.Done():
			l.Warn("Context cancelled while processing record", "offset", rec.Offset, "error", ctx.Err())
			span.SetStatus(codes.Error, ctx.Err().Error())
			return ctx.Err()
		default:
		}

		err := t.processSafe(ctx, rec)
		if err == nil {
			l.Debug("Record processed successfully", "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
			t.markConsumed(rec)
			recordProcessStatus(streamsotel.StatusSuccess)
			return nil
		}

		span.RecordError(err)

		if IsFatal(err) {
			recordProcessStatus(streamsotel.StatusFailed)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		phase, nodeName := classify(err)
		ec = ec.WithError(err).WithNodeName(nodeName).WithPhase(phase)

		tel.Errors.Add(
			ctx, 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				streamsotel.AttrErrorNode.String(ec.NodeName),
				streamsotel.AttrErrorPhase.String(ec.Phase.String()),
			),
		)

		action := t.config.ErrorHandler.Handle(ctx, ec)

		tel.ErrorHandlerActions.Add(
			ctx, 1, metric.WithAttributes(
				streamsotel.AttrErrorAction.String(action.Type().String()),
				semconv.MessagingDestinationName(rec.Topic),
				streamsotel.AttrErrorPhase.String(ec.Phase.String()),
			),
		)

		switch action.Type() {
		case errorhandler.ActionTypeFail:
			recordProcessStatus(streamsotel.StatusFailed)
			span.SetStatus(codes.Error, err.Error())
			return err

		case errorhandler.ActionTypeRetry:
			l.Debug("Retrying record", "attempt", ec.Attempt, "offset", rec.Offset)
			ec = ec.IncrementAttempt()

			if ec.Attempt%10 == 0 {
				l.Warn(
					"Record seen high number of retry attempts, "+
						"consider sending to DLQ or allowing error handler to skip.",
					"attempt", ec.Attempt, "key", string(rec.Key), "topic", rec.Topic, "offset", rec.Offset,
					"partition", rec.Partition,
				)
			}

			continue

		case errorhandler.ActionTypeSendToDLQ:
			a, ok := action.(errorhandler.ActionSendToDLQ)
			if !ok {
				l.Error("Invalid action type, expected ActionSendToDLQ", "action", action.Type().String())
				recordProcessStatus(streamsotel.StatusFailed)
				span.SetStatus(codes.Error, "invalid action type")
				return errors.New("invalid action type, expected ActionSendToDLQ")
			}

			if err := t.collector.SendRaw(ctx, errorhandler.DLQRecord(ec, a.Topic(), t.config.Now())); err != nil {
				l.Error(
					"Failed to send record to DLQ.",
					"error", err,
					"key", string(rec.Key),
					"original_topic", rec.Topic,
					"original_partition", rec.Partition,
					"original_offset", rec.Offset,
				)
				recordProcessStatus(streamsotel.StatusFailed)
				span.SetStatus(codes.Error, err.Error())
				return err
			}

			t.markConsumed(rec)
			recordProcessStatus(streamsotel.StatusDLQ)
			return nil

		case errorhandler.ActionTypeContinue:
			l.Debug("Skipping failed record", "offset", rec.Offset)
			t.markConsumed(rec)
			recordProcessStatus(streamsotel.StatusDropped)
			return nil

		default:
			l.Error(
				"Unknown error handler action, failing record",
				"error", err,
				"key", string(ec.Record.Key),
				"topic", ec.Record.Topic,
				"offset", ec.Record.Offset,
				"partition", ec.Record.Partition,
				"attempt", ec.Attempt,
				"node", ec.NodeName,
			)
			recordProcessStatus(streamsotel.StatusFailed)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
}

func (t *StreamTask) punctuate(
	ctx context.Context, q *punctuationQueue, now time.Time, typ processor.PunctuationType,
) (int, error) {
	return q.fire(
		ctx, now, func(ctx context.Context, p *punctuation, now time.Time) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = NewProcessError(fmt.Errorf("punctuator panic: %v", r), p.node)
				}
			}()

			t.config.Telemetry.Punctuations.Add(
				ctx, 1, metric.WithAttributes(
					streamsotel.AttrTaskID.String(t.id.String()),
					streamsotel.AttrPunctuationType.String(typ.String()),
				),
			)

			if err := p.fn(ctx, now); err != nil {
				if isTaskError(err) {
					return err
				}
				return NewProcessError(fmt.Errorf("punctuate %s: %w", p.node, err), p.node)
			}
			return nil
		},
	)
}
