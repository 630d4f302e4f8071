package mockkafka

import (
	"context"
	"sync"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

var _ kafka.Supplier = (*Supplier)(nil)

// Supplier hands out clients on a Cluster and keeps them for inspection.
type Supplier struct {
	cluster      *Cluster
	consumerOpts []ConsumerOption
	producerOpts []ProducerOption

	mu               sync.Mutex
	consumers        []*Consumer
	restoreConsumers []*Consumer
	producers        []*Producer
}

// WithProducerOptions sets options applied to every producer the supplier creates.
func (s *Supplier) WithProducerOptions(opts ...ProducerOption) *Supplier {
	s.producerOpts = append(s.producerOpts, opts...)
	return s
}

func (s *Supplier) Consumer(cfg kafka.ClientConfig) (kafka.Consumer, error) {
	c := s.cluster.NewConsumer(cfg.GroupID, s.consumerOpts...)

	s.mu.Lock()
	s.consumers = append(s.consumers, c)
	s.mu.Unlock()

	return c, nil
}

func (s *Supplier) RestoreConsumer(cfg kafka.ClientConfig) (kafka.Consumer, error) {
	c := s.cluster.NewConsumer("")

	s.mu.Lock()
	s.restoreConsumers = append(s.restoreConsumers, c)
	s.mu.Unlock()

	return c, nil
}

func (s *Supplier) Producer(cfg kafka.ClientConfig) (kafka.Producer, error) {
	p := s.cluster.NewProducer(s.producerOpts...)

	s.mu.Lock()
	s.producers = append(s.producers, p)
	s.mu.Unlock()

	return p, nil
}

// Consumers returns the group consumers created so far.
func (s *Supplier) Consumers() []*Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Consumer(nil), s.consumers...)
}

// RestoreConsumers returns the restore consumers created so far.
func (s *Supplier) RestoreConsumers() []*Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Consumer(nil), s.restoreConsumers...)
}

// Producers returns the producers created so far.
func (s *Supplier) Producers() []*Producer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*Producer(nil), s.producers...)
}

func (s *Supplier) Admin(kafka.ClientConfig) (kafka.Admin, error) {
	return &Admin{cluster: s.cluster}, nil
}

var _ kafka.Admin = (*Admin)(nil)

// Admin manages topics on a Cluster
type Admin struct {
	cluster *Cluster
}

func (a *Admin) PartitionCounts(_ context.Context, topics ...string) (map[string]int32, error) {
	return a.cluster.PartitionCounts(topics...)
}

func (a *Admin) EnsureTopics(_ context.Context, topics map[string]kafka.TopicConfig) error {
	for name, cfg := range topics {
		a.cluster.CreateTopic(name, max(cfg.Partitions, 1))
	}
	return nil
}

func (a *Admin) Close() {}
