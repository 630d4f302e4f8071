package mockkafka

import (
	"context"
	"sync"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

var _ kafka.Producer = (*Producer)(nil)

type pendingDelivery struct {
	record kafka.ProducerRecord
	cb     kafka.DeliveryCallback
}

// Producer appends to a Cluster. Records stay pending, and invisible to consumers,
// until Flush unless WithImmediateDelivery is used.
type Producer struct {
	cluster   *Cluster
	immediate bool

	mu        sync.Mutex
	pending   []pendingDelivery
	delivered []kafka.ProducerRecord
	failed    []kafka.ProducerRecord
	closed    bool
}

func (c *Cluster) NewProducer(opts ...ProducerOption) *Producer {
	p := &Producer{cluster: c}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Producer) Produce(ctx context.Context, record kafka.ProducerRecord, cb kafka.DeliveryCallback) {
	record = record.Copy()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if cb != nil {
			cb(record, kafka.ErrClosed)
		}
		return
	}

	if !p.immediate {
		p.pending = append(p.pending, pendingDelivery{record: record, cb: cb})
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.deliver(pendingDelivery{record: record, cb: cb})
}

func (p *Producer) deliver(d pendingDelivery) {
	rec, err := p.cluster.appendProduced(d.record)

	p.mu.Lock()
	if err != nil {
		p.failed = append(p.failed, rec)
	} else {
		p.delivered = append(p.delivered, rec)
	}
	p.mu.Unlock()

	if d.cb != nil {
		d.cb(rec, err)
	}
}

// Flush delivers every pending record in produce order.
func (p *Producer) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for i, d := range pending {
		if err := ctx.Err(); err != nil {
			p.mu.Lock()
			p.pending = append(pending[i:], p.pending...)
			p.mu.Unlock()
			return err
		}
		p.deliver(d)
	}

	return nil
}

// Close fails every pending record.
func (p *Producer) Close() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, d := range pending {
		if d.cb != nil {
			d.cb(d.record, kafka.ErrClosed)
		}
	}
}

// Pending returns how many records wait for Flush.
func (p *Producer) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// Delivered returns a copy of every acknowledged record.
func (p *Producer) Delivered() []kafka.ProducerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]kafka.ProducerRecord, len(p.delivered))
	copy(out, p.delivered)
	return out
}

// Failed returns a copy of every rejected record.
func (p *Producer) Failed() []kafka.ProducerRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]kafka.ProducerRecord, len(p.failed))
	copy(out, p.failed)
	return out
}
