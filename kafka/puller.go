package kafka

import (
	"context"
	"time"
)

// BatchPuller pulls bounded batches of records from a single consumer.
// It is not safe for concurrent use.
type BatchPuller struct {
	consumer Consumer
	now      func() time.Time

	batch   []ConsumerRecord
	pulling bool
}

func NewBatchPuller(consumer Consumer) *BatchPuller {
	return &BatchPuller{
		consumer: consumer,
		now:      time.Now,
	}
}

// PullBatch is a one-off Pull on a fresh puller
func PullBatch(ctx context.Context, consumer Consumer, timeout time.Duration, maxRecords int) (
	[]ConsumerRecord, error,
) {
	return NewBatchPuller(consumer).Pull(ctx, timeout, maxRecords)
}

// Pull returns at most maxRecords records, spending at most timeout waiting for them.
// The first read never blocks. Once nothing is buffered the next read waits for the
// remaining budget, and a wait that comes back empty ends the batch.
// An empty result is not an error. If the consumer fails, the records pulled so far are
// returned together with the error and must still be processed by the caller.
func (p *BatchPuller) Pull(ctx context.Context, timeout time.Duration, maxRecords int) ([]ConsumerRecord, error) {
	if maxRecords <= 0 {
		return nil, nil
	}

	start := p.now()
	deadline := start.Add(timeout)

	p.batch = make([]ConsumerRecord, 0, min(maxRecords, 512))
	p.pulling = true
	defer func() {
		p.pulling = false
		p.batch = nil
	}()

	var wait time.Duration
	for len(p.batch) < maxRecords {
		if ctx.Err() != nil {
			break
		}

		rec, ok, err := p.consumer.Consume(ctx, wait)
		if err != nil {
			return p.batch, err
		}

		if ok {
			p.batch = append(p.batch, rec)
			wait = 0
			continue
		}

		if wait > 0 {
			break
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			break
		}
		wait = remaining
	}

	return p.batch, nil
}

// Discard drops already pulled records of the given partitions from the batch in progress.
// It is meant to be called by a rebalance listener while Pull is running.
func (p *BatchPuller) Discard(partitions ...TopicPartition) int {
	if !p.pulling || len(partitions) == 0 {
		return 0
	}

	drop := make(map[TopicPartition]struct{}, len(partitions))
	for _, tp := range partitions {
		drop[tp] = struct{}{}
	}

	kept := p.batch[:0]
	for _, rec := range p.batch {
		if _, ok := drop[rec.TopicPartition()]; ok {
			continue
		}
		kept = append(kept, rec)
	}

	dropped := len(p.batch) - len(kept)
	p.batch = kept
	return dropped
}
