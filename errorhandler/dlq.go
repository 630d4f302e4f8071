package errorhandler

import (
	"strconv"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderErrorTimestamp    = "x-error-timestamp"
	HeaderErrorAttempt      = "x-error-attempt"
	HeaderErrorPhase        = "x-error-phase"
	HeaderErrorMessage      = "x-error-message"
	HeaderErrorNode         = "x-error-node"
	HeaderErrorTask         = "x-error-task"
)

// DLQRecord builds the dead letter for ec: the raw consumed key, value and headers, plus
// headers describing where the record came from and why it failed
func DLQRecord(ec ErrorContext, topic string, now time.Time) kafka.ProducerRecord {
	rec := ec.Record.Copy()

	headers := make([]kafka.Header, 0, len(rec.Headers)+9)
	headers = append(headers, rec.Headers...)
	headers = append(
		headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(rec.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.FormatInt(int64(rec.Partition), 10))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(rec.Offset, 10))},
		kafka.Header{Key: HeaderErrorTimestamp, Value: []byte(now.UTC().Format(time.RFC3339))},
		kafka.Header{Key: HeaderErrorAttempt, Value: []byte(strconv.Itoa(ec.Attempt))},
		kafka.Header{Key: HeaderErrorPhase, Value: []byte(ec.Phase.String())},
	)

	if ec.Error != nil {
		headers = append(headers, kafka.Header{Key: HeaderErrorMessage, Value: []byte(ec.Error.Error())})
	}
	if ec.NodeName != "" {
		headers = append(headers, kafka.Header{Key: HeaderErrorNode, Value: []byte(ec.NodeName)})
	}
	if ec.TaskID != "" {
		headers = append(headers, kafka.Header{Key: HeaderErrorTask, Value: []byte(ec.TaskID)})
	}

	return kafka.ProducerRecord{
		Topic:     topic,
		Partition: kafka.AnyPartition,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   headers,
		Timestamp: rec.Timestamp,
	}
}
