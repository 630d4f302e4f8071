package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/state"
)

// PunctuationType selects the clock a punctuator follows
type PunctuationType int

const (
	// StreamTime punctuators fire as the task's stream time advances with record timestamps
	StreamTime PunctuationType = iota
	// WallClockTime punctuators fire on system time, checked after every processing iteration
	WallClockTime
)

func (p PunctuationType) String() string {
	switch p {
	case StreamTime:
		return "stream_time"
	case WallClockTime:
		return "wall_clock_time"
	default:
		return fmt.Sprintf("PunctuationType(%d)", int(p))
	}
}

// Punctuator is called with the time that triggered it
type Punctuator func(ctx context.Context, timestamp time.Time) error

// Cancellable stops a scheduled punctuator
type Cancellable interface {
	Cancel()
}

// Processor is the interface that all processors must implement. It defines the lifecycle of a processor and how it processes records.
type Processor[KIn, VIn, KOut, VOut any] interface {
	Init(ctx Context[KOut, VOut]) error
	Process(ctx context.Context, record *record.Record[KIn, VIn]) error
	Close() error
}

// UntypedProcessor is the same as Processor but works with untyped records. It is used internally to allow processors to be used without knowing the types of the records.
type UntypedProcessor interface {
	Init(ctx UntypedContext) error
	Process(ctx context.Context, record *record.UntypedRecord) error
	Close() error
}

// TaskContext is the part of a processor context that does not depend on record types
type TaskContext interface {
	// TaskID is the id of the task running this processor instance
	TaskID() string

	// Store returns a store connected to this processor
	Store(name string) (state.KeyValueStore, error)

	// Schedule registers fn to be called every interval. Missed intervals collapse: when
	// time jumps past several due times fn runs once, and the next due time is the first
	// one on the interval grid after the current time.
	Schedule(interval time.Duration, typ PunctuationType, fn Punctuator) (Cancellable, error)

	// StreamTime is the largest record timestamp the task has seen, zero before the first record
	StreamTime() time.Time
}

// UntypedContext is the context passed to the Init method of an UntypedProcessor. It allows the processor to forward records to its children without knowing the types of the records.
type UntypedContext interface {
	TaskContext
	Forward(ctx context.Context, record *record.UntypedRecord) error
	ForwardTo(ctx context.Context, childName string, record *record.UntypedRecord) error
}

// Context is the context passed to the Init method of a Processor. It allows the processor to forward records to its children with the correct types.
type Context[K, V any] interface {
	TaskContext
	Forward(ctx context.Context, record *record.Record[K, V]) error
	ForwardTo(ctx context.Context, childName string, record *record.Record[K, V]) error
}
