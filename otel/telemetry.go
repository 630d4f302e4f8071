package otel

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	traceNoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
)

const scopeName = "github.com/hugolhafner/go-streams-runtime"

// Telemetry holds the OpenTelemetry instruments of the runtime.
// Without configured providers every instrument is a noop.
type Telemetry struct {
	Tracer     trace.Tracer
	Propagator propagation.TextMapPropagator

	// Consumer metrics
	MessagesConsumed metric.Int64Counter
	PollDuration     metric.Float64Histogram

	// Processing metrics
	ProcessDuration metric.Float64Histogram
	Punctuations    metric.Int64Counter

	// Producer metrics
	MessagesProduced metric.Int64Counter
	DeliveryFailures metric.Int64Counter
	FlushDuration    metric.Float64Histogram

	// Commit metrics
	CommitDuration metric.Float64Histogram

	// State metrics
	RestoredRecords metric.Int64Counter

	// Error metrics
	Errors              metric.Int64Counter
	ErrorHandlerActions metric.Int64Counter

	// Thread state metrics
	TasksActive metric.Int64UpDownCounter
}

type instruments struct {
	meter metric.Meter
	err   error
}

func (i *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := i.meter.Int64Counter(name, metric.WithDescription(desc))
	i.err = multierr.Append(i.err, err)
	return c
}

func (i *instruments) seconds(name, desc string) metric.Float64Histogram {
	h, err := i.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
	i.err = multierr.Append(i.err, err)
	return h
}

func (i *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := i.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	i.err = multierr.Append(i.err, err)
	return c
}

// NewTelemetry creates a Telemetry instance from the given providers.
// all providers are optional and defaulted to noops if nil
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider, prop propagation.TextMapPropagator) (
	*Telemetry, error,
) {
	if tp == nil {
		tp = traceNoop.NewTracerProvider()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	if prop == nil {
		prop = propagation.TraceContext{}
	}

	in := &instruments{meter: mp.Meter(scopeName)}
	t := &Telemetry{
		Tracer:     tp.Tracer(scopeName),
		Propagator: prop,

		MessagesConsumed: in.counter("messaging.consumer.messages", "Records consumed"),
		PollDuration:     in.seconds("stream.poll.duration", "Time per batch pull"),

		ProcessDuration: in.seconds("stream.process.duration", "End-to-end record processing time"),
		Punctuations:    in.counter("stream.punctuations", "Punctuators fired"),

		MessagesProduced: in.counter("messaging.producer.messages", "Records handed to the producer"),
		DeliveryFailures: in.counter("stream.delivery.failures", "Produced records rejected by the broker"),
		FlushDuration:    in.seconds("stream.flush.duration", "Time to flush stores and wait for acknowledgements"),

		CommitDuration: in.seconds("stream.commit.duration", "Time per offset commit"),

		RestoredRecords: in.counter("stream.state.restored_records", "Changelog records applied during restoration"),

		Errors:              in.counter("stream.errors", "Processing errors encountered"),
		ErrorHandlerActions: in.counter("stream.error_handler.actions", "Error handler decisions"),

		TasksActive: in.upDown("stream.tasks.active", "Tasks owned by stream threads"),
	}

	if in.err != nil {
		return nil, in.err
	}
	return t, nil
}

// Noop returns a Telemetry instance with all noop instruments
func Noop() *Telemetry {
	t, _ := NewTelemetry(nil, nil, nil)
	return t
}
