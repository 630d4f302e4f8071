package errorhandler

import (
	"github.com/hugolhafner/go-streams-runtime/kafka"
)

// ErrorContext is what a handler sees about a failed record
type ErrorContext struct {
	// Record is a copy of the consumed record that failed
	Record kafka.ConsumerRecord

	Error error

	// Attempt is the current attempt number, starting at 1
	Attempt int

	// NodeName is the topology node that failed, empty outside node processing
	NodeName string

	// TaskID is the stream task that owns the record's partition
	TaskID string

	Phase ErrorPhase
}

func NewErrorContext(record kafka.ConsumerRecord, err error) ErrorContext {
	return ErrorContext{
		Record:  record.Copy(),
		Error:   err,
		Attempt: 1,
	}
}

func (ec ErrorContext) WithError(err error) ErrorContext {
	ec.Error = err
	return ec
}

func (ec ErrorContext) WithAttempt(attempt int) ErrorContext {
	ec.Attempt = attempt
	return ec
}

func (ec ErrorContext) WithNodeName(name string) ErrorContext {
	ec.NodeName = name
	return ec
}

func (ec ErrorContext) WithTaskID(id string) ErrorContext {
	ec.TaskID = id
	return ec
}

func (ec ErrorContext) WithPhase(phase ErrorPhase) ErrorContext {
	ec.Phase = phase
	return ec
}

func (ec ErrorContext) IncrementAttempt() ErrorContext {
	ec.Attempt++
	return ec
}

// fields are the key values handlers log for ec
func (ec ErrorContext) fields() []any {
	return []any{
		"error", ec.Error,
		"key", string(ec.Record.Key),
		"topic", ec.Record.Topic,
		"partition", ec.Record.Partition,
		"offset", ec.Record.Offset,
		"attempt", ec.Attempt,
		"node", ec.NodeName,
		"task", ec.TaskID,
		"phase", ec.Phase.String(),
	}
}
