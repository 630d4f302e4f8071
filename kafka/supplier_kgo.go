package kafka

import (
	"fmt"
	"time"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ Supplier = (*KgoSupplier)(nil)

type KgoConfig struct {
	BootstrapServers   []string
	SessionTimeout     time.Duration
	HeartbeatInterval  time.Duration
	RebalanceTimeout   time.Duration
	MaxBufferedRecords int
	ProducerLinger     time.Duration
	ExtraOpts          []kgo.Opt

	Logger logger.Logger
}

func defaultKgoConfig() KgoConfig {
	return KgoConfig{
		BootstrapServers:   []string{"localhost:9092"},
		SessionTimeout:     45 * time.Second,
		HeartbeatInterval:  3 * time.Second,
		RebalanceTimeout:   60 * time.Second,
		MaxBufferedRecords: 10000,
		ProducerLinger:     5 * time.Millisecond,
		Logger:             logger.NewNoopLogger(),
	}
}

type KgoOption func(*KgoConfig)

func WithBootstrapServers(servers ...string) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.BootstrapServers = servers
	}
}

func WithSessionTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.SessionTimeout = d
	}
}

func WithHeartbeatInterval(d time.Duration) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.HeartbeatInterval = d
	}
}

func WithRebalanceTimeout(d time.Duration) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.RebalanceTimeout = d
	}
}

func WithProducerLinger(d time.Duration) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.ProducerLinger = d
	}
}

// WithKgoOpts appends raw franz-go options to every client the supplier creates
func WithKgoOpts(opts ...kgo.Opt) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.ExtraOpts = append(cfg.ExtraOpts, opts...)
	}
}

func WithLogger(l logger.Logger) KgoOption {
	return func(cfg *KgoConfig) {
		cfg.Logger = l.With("client", "kgo")
	}
}

// KgoSupplier creates franz-go backed clients
type KgoSupplier struct {
	config KgoConfig
}

func NewKgoSupplier(opts ...KgoOption) *KgoSupplier {
	cfg := defaultKgoConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &KgoSupplier{config: cfg}
}

func (s *KgoSupplier) baseOpts(clientID string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.config.BootstrapServers...),
		kgo.WithLogger(newKgoLogger(s.config.Logger, clientID)),
	}
	if clientID != "" {
		opts = append(opts, kgo.ClientID(clientID))
	}
	return opts
}

func (s *KgoSupplier) Consumer(cfg ClientConfig) (Consumer, error) {
	c := newKgoConsumer(cfg.GroupID, s.config.Logger.With("role", "consumer", "client_id", cfg.ClientID))

	opts := append(
		s.baseOpts(cfg.ClientID),
		kgo.ConsumerGroup(cfg.GroupID),
		// range keeps partition n of copartitioned topics on one member
		kgo.Balancers(kgo.RangeBalancer()),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(s.config.SessionTimeout),
		kgo.HeartbeatInterval(s.config.HeartbeatInterval),
		kgo.RebalanceTimeout(s.config.RebalanceTimeout),
		kgo.MaxBufferedRecords(s.config.MaxBufferedRecords),
		kgo.OnPartitionsAssigned(c.onAssigned),
		kgo.OnPartitionsRevoked(c.onRevoked),
		kgo.OnPartitionsLost(c.onLost),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	opts = append(opts, s.config.ExtraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo consumer: %w", err)
	}

	c.attach(client)
	return c, nil
}

func (s *KgoSupplier) RestoreConsumer(cfg ClientConfig) (Consumer, error) {
	c := newKgoConsumer("", s.config.Logger.With("role", "restore-consumer", "client_id", cfg.ClientID))

	opts := append(
		s.baseOpts(cfg.ClientID),
		kgo.MaxBufferedRecords(s.config.MaxBufferedRecords),
	)
	opts = append(opts, s.config.ExtraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo restore consumer: %w", err)
	}

	c.attach(client)
	return c, nil
}

func (s *KgoSupplier) Producer(cfg ClientConfig) (Producer, error) {
	opts := append(
		s.baseOpts(cfg.ClientID),
		kgo.RecordPartitioner(newExplicitPartitioner()),
		kgo.ProducerLinger(s.config.ProducerLinger),
	)
	opts = append(opts, s.config.ExtraOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kgo producer: %w", err)
	}

	return &KgoProducer{
		client: client,
		logger: s.config.Logger.With("role", "producer", "client_id", cfg.ClientID),
	}, nil
}

// Admin returns an admin helper on a dedicated client
func (s *KgoSupplier) Admin(cfg ClientConfig) (Admin, error) {
	client, err := kgo.NewClient(s.baseOpts(cfg.ClientID)...)
	if err != nil {
		return nil, fmt.Errorf("create kgo admin client: %w", err)
	}

	return newKgoAdmin(client, s.config.Logger.With("role", "admin")), nil
}

func topicPartitionsToMap(tps []TopicPartition) map[string][]int32 {
	m := make(map[string][]int32)
	for _, tp := range tps {
		m[tp.Topic] = append(m[tp.Topic], tp.Partition)
	}
	return m
}

func mapToTopicPartitions(m map[string][]int32) []TopicPartition {
	var tps []TopicPartition
	for topic, partitions := range m {
		for _, partition := range partitions {
			tps = append(
				tps, TopicPartition{
					Topic:     topic,
					Partition: partition,
				},
			)
		}
	}

	return tps
}

func convertFromKgoHeaders(headers []kgo.RecordHeader) []Header {
	if len(headers) == 0 {
		return nil
	}

	converted := make([]Header, len(headers))
	for i, h := range headers {
		converted[i] = Header{Key: h.Key, Value: h.Value}
	}
	return converted
}

func convertToKgoHeaders(headers []Header) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}

	kgoHeaders := make([]kgo.RecordHeader, len(headers))
	for i, h := range headers {
		kgoHeaders[i] = kgo.RecordHeader{Key: h.Key, Value: h.Value}
	}
	return kgoHeaders
}

func convertRecord(r *kgo.Record) ConsumerRecord {
	return ConsumerRecord{
		Topic:       r.Topic,
		Partition:   r.Partition,
		Offset:      r.Offset,
		Key:         r.Key,
		Value:       r.Value,
		Headers:     convertFromKgoHeaders(r.Headers),
		Timestamp:   r.Timestamp,
		LeaderEpoch: r.LeaderEpoch,
	}
}
