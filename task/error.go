package task

import (
	"errors"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

type ProcessError struct {
	Cause error
	Node  string
}

func (e *ProcessError) Error() string {
	return e.Cause.Error()
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

func NewProcessError(cause error, node string) error {
	return &ProcessError{
		Cause: cause,
		Node:  node,
	}
}

func AsProcessError(err error) (*ProcessError, bool) {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}

// SerdeError wraps errors that occur during key/value serialization or deserialization.
type SerdeError struct {
	Cause error
}

func (e *SerdeError) Error() string {
	return e.Cause.Error()
}

func (e *SerdeError) Unwrap() error {
	return e.Cause
}

func NewSerdeError(cause error) error {
	return &SerdeError{Cause: cause}
}

func AsSerdeError(err error) (*SerdeError, bool) {
	var de *SerdeError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ProductionError wraps errors that occur during sink production.
type ProductionError struct {
	Cause error
	Node  string
}

func (e *ProductionError) Error() string {
	return e.Cause.Error()
}

func (e *ProductionError) Unwrap() error {
	return e.Cause
}

func NewProductionError(cause error, node string) error {
	return &ProductionError{Cause: cause, Node: node}
}

func AsProductionError(err error) (*ProductionError, bool) {
	var pe *ProductionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// DeliveryError is a produced record the broker rejected. It is fatal to the task that sent it.
type DeliveryError struct {
	Cause          error
	TopicPartition kafka.TopicPartition
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.TopicPartition, e.Cause)
}

func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

func NewDeliveryError(cause error, tp kafka.TopicPartition) error {
	return &DeliveryError{Cause: cause, TopicPartition: tp}
}

func AsDeliveryError(err error) (*DeliveryError, bool) {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// RestorationError is a task whose stores could not be brought up to date
type RestorationError struct {
	Cause error
	Task  ID
}

func (e *RestorationError) Error() string {
	return fmt.Sprintf("restore task %s: %v", e.Task, e.Cause)
}

func (e *RestorationError) Unwrap() error {
	return e.Cause
}

func NewRestorationError(cause error, id ID) error {
	return &RestorationError{Cause: cause, Task: id}
}

func AsRestorationError(err error) (*RestorationError, bool) {
	var re *RestorationError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsFatal reports errors that bypass the error handler and stop the task
func IsFatal(err error) bool {
	if _, ok := AsDeliveryError(err); ok {
		return true
	}
	_, ok := AsRestorationError(err)
	return ok
}
