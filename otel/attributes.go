package otel

import (
	"go.opentelemetry.io/otel/attribute"
)

const (
	AttrTaskID          = attribute.Key("stream.task.id")
	AttrThread          = attribute.Key("stream.thread.name")
	AttrStoreName       = attribute.Key("stream.store.name")
	AttrProcessStatus   = attribute.Key("stream.process.status")
	AttrPollStatus      = attribute.Key("stream.poll.status")
	AttrCommitStatus    = attribute.Key("stream.commit.status")
	AttrPunctuationType = attribute.Key("stream.punctuation.type")
	AttrErrorAction     = attribute.Key("stream.error.action")
	AttrErrorNode       = attribute.Key("stream.error.node")
	AttrErrorPhase      = attribute.Key("stream.error.phase")
)

// Process status values
const (
	StatusSuccess = "success"
	StatusDropped = "dropped"
	StatusDLQ     = "dlq"
	StatusFailed  = "failed"
	StatusError   = "error"
)
