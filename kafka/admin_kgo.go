package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ Admin = (*KgoAdmin)(nil)

// KgoAdmin creates internal topics and inspects source topics
type KgoAdmin struct {
	client *kgo.Client
	adm    *kadm.Client
	logger logger.Logger
}

func newKgoAdmin(client *kgo.Client, l logger.Logger) *KgoAdmin {
	return &KgoAdmin{
		client: client,
		adm:    kadm.NewClient(client),
		logger: l,
	}
}

// PartitionCounts returns the number of partitions of each topic
func (a *KgoAdmin) PartitionCounts(ctx context.Context, topics ...string) (map[string]int32, error) {
	details, err := a.adm.ListTopics(ctx, topics...)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	out := make(map[string]int32, len(topics))
	for _, topic := range topics {
		d, ok := details[topic]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		if errors.Is(d.Err, kerr.UnknownTopicOrPartition) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		if d.Err != nil {
			return nil, fmt.Errorf("describe topic %s: %w", topic, d.Err)
		}
		out[topic] = int32(len(d.Partitions))
	}

	return out, nil
}

func (a *KgoAdmin) EnsureTopics(ctx context.Context, topics map[string]TopicConfig) error {
	for name, cfg := range topics {
		configs := make(map[string]*string, len(cfg.Configs))
		for k, v := range cfg.Configs {
			configs[k] = kadm.StringPtr(v)
		}

		resp, err := a.adm.CreateTopic(ctx, cfg.Partitions, cfg.ReplicationFactor, configs, name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", name, err)
		}

		if resp.Err != nil {
			if errors.Is(resp.Err, kerr.TopicAlreadyExists) {
				a.logger.Debug("Topic already exists", "topic", name)
				continue
			}
			return fmt.Errorf("create topic %s: %w", name, resp.Err)
		}

		a.logger.Info("Created topic", "topic", name, "partitions", cfg.Partitions)
	}

	return nil
}

func (a *KgoAdmin) Close() {
	a.client.Close()
}
