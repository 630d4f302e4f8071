package mockkafka

import (
	"fmt"
	"hash/fnv"
	"slices"
	"sync"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

type partitionLog struct {
	base    int64
	records []kafka.ConsumerRecord
}

func (l *partitionLog) high() int64 {
	return l.base + int64(len(l.records))
}

// Cluster is an in-memory broker holding topics, partition logs and group offsets.
// It is safe for concurrent use.
type Cluster struct {
	mu sync.Mutex

	topics    map[string][]*partitionLog
	committed map[string]map[kafka.TopicPartition]kafka.Offset
	changed   chan struct{}

	groups map[string][]*Consumer
	owned  map[*Consumer]map[kafka.TopicPartition]struct{}

	defaultPartitions int32

	produceErr func(kafka.ProducerRecord) error
	commitErr  func(group string, offsets map[kafka.TopicPartition]kafka.Offset) error
	consumeErr func() error
}

func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{
		topics:            make(map[string][]*partitionLog),
		committed:         make(map[string]map[kafka.TopicPartition]kafka.Offset),
		changed:           make(chan struct{}),
		groups:            make(map[string][]*Consumer),
		owned:             make(map[*Consumer]map[kafka.TopicPartition]struct{}),
		defaultPartitions: 1,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CreateTopic creates a topic with n partitions. Creating an existing topic adds missing partitions.
func (c *Cluster) CreateTopic(name string, partitions int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.createTopicLocked(name, partitions)
}

func (c *Cluster) createTopicLocked(name string, partitions int32) []*partitionLog {
	logs := c.topics[name]
	for int32(len(logs)) < partitions {
		logs = append(logs, &partitionLog{})
	}
	c.topics[name] = logs
	return logs
}

// PartitionCounts returns the number of partitions per topic, failing for unknown topics
func (c *Cluster) PartitionCounts(topics ...string) (map[string]int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int32, len(topics))
	for _, topic := range topics {
		logs, ok := c.topics[topic]
		if !ok {
			return nil, fmt.Errorf("%w: %s", kafka.ErrUnknownTopic, topic)
		}
		out[topic] = int32(len(logs))
	}
	return out, nil
}

func (c *Cluster) partitionLocked(tp kafka.TopicPartition) (*partitionLog, bool) {
	logs, ok := c.topics[tp.Topic]
	if !ok || tp.Partition < 0 || int(tp.Partition) >= len(logs) {
		return nil, false
	}
	return logs[tp.Partition], true
}

func (c *Cluster) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *Cluster) changes() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.changed
}

// AddRecords appends records to a partition, creating the topic when needed.
// Topic, partition and offset are overwritten, a zero timestamp is set to now.
func (c *Cluster) AddRecords(topic string, partition int32, records ...kafka.ConsumerRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := c.createTopicLocked(topic, partition+1)
	log := logs[partition]

	for _, r := range records {
		r = r.Copy()
		r.Topic = topic
		r.Partition = partition
		r.Offset = log.high()
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now()
		}
		log.records = append(log.records, r)
	}

	c.notifyLocked()
}

// AddStringRecords appends key/value string pairs to a partition.
func (c *Cluster) AddStringRecords(topic string, partition int32, keyValuePairs ...string) {
	c.AddRecords(topic, partition, SimpleRecords(keyValuePairs...)...)
}

func (c *Cluster) appendProduced(rec kafka.ProducerRecord) (kafka.ProducerRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs, ok := c.topics[rec.Topic]
	if !ok {
		logs = c.createTopicLocked(rec.Topic, c.defaultPartitions)
	}

	if rec.Partition == kafka.AnyPartition {
		rec.Partition = partitionForKey(rec.Key, len(logs))
	}
	if rec.Partition < 0 || int(rec.Partition) >= len(logs) {
		return rec, fmt.Errorf("%s: unknown partition %d", rec.Topic, rec.Partition)
	}

	if c.produceErr != nil {
		if err := c.produceErr(rec); err != nil {
			return rec, err
		}
	}

	log := logs[rec.Partition]
	rec.Offset = log.high()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	log.records = append(
		log.records, kafka.ConsumerRecord{
			Key:       rec.Key,
			Value:     rec.Value,
			Headers:   rec.Headers,
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			Timestamp: rec.Timestamp,
		},
	)
	c.notifyLocked()

	return rec, nil
}

func partitionForKey(key []byte, n int) int32 {
	if len(key) == 0 || n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int32(h.Sum32() % uint32(n))
}

// read returns the record at offset, moving offsets below the low watermark up to it
func (c *Cluster) read(tp kafka.TopicPartition, offset int64) (kafka.ConsumerRecord, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, ok := c.partitionLocked(tp)
	if !ok {
		return kafka.ConsumerRecord{}, offset, false
	}

	if offset < log.base {
		offset = log.base
	}
	if offset >= log.high() {
		return kafka.ConsumerRecord{}, offset, false
	}

	return log.records[offset-log.base].Copy(), offset, true
}

// Records returns a copy of the retained records of a partition.
func (c *Cluster) Records(topic string, partition int32) []kafka.ConsumerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, ok := c.partitionLocked(kafka.TopicPartition{Topic: topic, Partition: partition})
	if !ok {
		return nil
	}

	out := make([]kafka.ConsumerRecord, len(log.records))
	for i, r := range log.records {
		out[i] = r.Copy()
	}
	return out
}

// TopicRecords returns the retained records of every partition of a topic, partition by partition.
func (c *Cluster) TopicRecords(topic string) []kafka.ConsumerRecord {
	c.mu.Lock()
	n := len(c.topics[topic])
	c.mu.Unlock()

	var out []kafka.ConsumerRecord
	for p := 0; p < n; p++ {
		out = append(out, c.Records(topic, int32(p))...)
	}
	return out
}

// DeleteRecordsBefore truncates a partition so that offset becomes its low watermark.
func (c *Cluster) DeleteRecordsBefore(tp kafka.TopicPartition, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, ok := c.partitionLocked(tp)
	if !ok || offset <= log.base {
		return
	}

	if offset > log.high() {
		offset = log.high()
	}
	log.records = slices.Clone(log.records[offset-log.base:])
	log.base = offset
}

func (c *Cluster) watermarks(tp kafka.TopicPartition) (kafka.WatermarkOffsets, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log, ok := c.partitionLocked(tp)
	if !ok {
		return kafka.WatermarkOffsets{}, fmt.Errorf("%w: %s", kafka.ErrUnknownTopic, tp)
	}

	return kafka.WatermarkOffsets{TopicPartition: tp, Low: log.base, High: log.high()}, nil
}

func (c *Cluster) partitionsOf(topics []string) []kafka.TopicPartition {
	var out []kafka.TopicPartition
	for _, topic := range topics {
		for p := range c.topics[topic] {
			out = append(out, kafka.TopicPartition{Topic: topic, Partition: int32(p)})
		}
	}
	slices.SortFunc(out, compareTopicPartitions)
	return out
}

func (c *Cluster) commit(group string, offsets map[kafka.TopicPartition]kafka.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.commitErr != nil {
		if err := c.commitErr(group, offsets); err != nil {
			return err
		}
	}

	if c.committed[group] == nil {
		c.committed[group] = make(map[kafka.TopicPartition]kafka.Offset)
	}
	for tp, o := range offsets {
		c.committed[group][tp] = o
	}
	return nil
}

// CommittedOffset returns the committed offset of a group for a partition.
func (c *Cluster) CommittedOffset(group string, tp kafka.TopicPartition) (kafka.Offset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.committed[group][tp]
	return o, ok
}

// CommittedOffsets returns a copy of every committed offset of a group.
func (c *Cluster) CommittedOffsets(group string) map[kafka.TopicPartition]kafka.Offset {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[kafka.TopicPartition]kafka.Offset, len(c.committed[group]))
	for tp, o := range c.committed[group] {
		out[tp] = o
	}
	return out
}

func (c *Cluster) startOffset(group string, tp kafka.TopicPartition) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if o, ok := c.committed[group][tp]; ok {
		return o.Offset
	}
	if log, ok := c.partitionLocked(tp); ok {
		return log.base
	}
	return 0
}

// SetProduceErrorFunc decides per record whether delivery fails. Pass nil to clear.
func (c *Cluster) SetProduceErrorFunc(fn func(kafka.ProducerRecord) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.produceErr = fn
}

// SetCommitErrorFunc decides per commit whether it fails. Pass nil to clear.
func (c *Cluster) SetCommitErrorFunc(fn func(group string, offsets map[kafka.TopicPartition]kafka.Offset) error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.commitErr = fn
}

// SetConsumeErrorFunc decides per Consume call whether it fails. Pass nil to clear.
func (c *Cluster) SetConsumeErrorFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consumeErr = fn
}

func (c *Cluster) consumeError() error {
	c.mu.Lock()
	fn := c.consumeErr
	c.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn()
}

type pendingEvent struct {
	consumer *Consumer
	event    *rebalanceEvent
}

func (c *Cluster) joinGroup(member *Consumer) {
	c.mu.Lock()
	c.groups[member.groupID] = append(c.groups[member.groupID], member)
	pending := c.rebalanceLocked(member.groupID)
	c.mu.Unlock()

	for _, p := range pending {
		p.consumer.enqueue(p.event)
	}
}

func (c *Cluster) leaveGroup(member *Consumer) {
	c.mu.Lock()
	members := c.groups[member.groupID]
	idx := slices.Index(members, member)
	if idx < 0 {
		c.mu.Unlock()
		return
	}

	c.groups[member.groupID] = slices.Delete(members, idx, idx+1)
	delete(c.owned, member)
	pending := c.rebalanceLocked(member.groupID)
	c.mu.Unlock()

	for _, p := range pending {
		p.consumer.enqueue(p.event)
	}
}

// rebalanceLocked spreads the group's partitions over its members by partition number, so
// partition n of every subscribed topic lands on the same member. A partition that moves is only handed to its new owner after the previous owner handled the revoke.
func (c *Cluster) rebalanceLocked(group string) []pendingEvent {
	members := c.groups[group]
	if len(members) == 0 {
		return nil
	}

	topicSet := make(map[string]struct{})
	for _, m := range members {
		for _, t := range m.topics {
			topicSet[t] = struct{}{}
		}
	}
	topics := make([]string, 0, len(topicSet))
	for t := range topicSet {
		topics = append(topics, t)
	}
	slices.Sort(topics)

	target := make(map[*Consumer]map[kafka.TopicPartition]struct{}, len(members))
	for _, m := range members {
		target[m] = make(map[kafka.TopicPartition]struct{})
	}
	for _, tp := range c.partitionsOf(topics) {
		target[members[int(tp.Partition)%len(members)]][tp] = struct{}{}
	}

	var pending []pendingEvent
	revokeDone := make(map[kafka.TopicPartition]chan struct{})

	for _, m := range members {
		var revoked []kafka.TopicPartition
		for tp := range c.owned[m] {
			if _, keep := target[m][tp]; !keep {
				revoked = append(revoked, tp)
			}
		}
		if len(revoked) == 0 {
			continue
		}

		slices.SortFunc(revoked, compareTopicPartitions)
		ev := newRebalanceEvent(rebalanceRevoked, revoked)
		for _, tp := range revoked {
			revokeDone[tp] = ev.done
		}
		pending = append(pending, pendingEvent{consumer: m, event: ev})
	}

	for _, m := range members {
		var assigned []kafka.TopicPartition
		var waitFor []chan struct{}
		for tp := range target[m] {
			if _, had := c.owned[m][tp]; had {
				continue
			}
			assigned = append(assigned, tp)
			if done, ok := revokeDone[tp]; ok {
				waitFor = append(waitFor, done)
			}
		}

		c.owned[m] = target[m]
		if len(assigned) == 0 {
			continue
		}

		slices.SortFunc(assigned, compareTopicPartitions)
		ev := newRebalanceEvent(rebalanceAssigned, assigned)
		ev.waitFor = waitFor
		pending = append(pending, pendingEvent{consumer: m, event: ev})
	}

	return pending
}

// Supplier returns a kafka.Supplier creating clients on this cluster.
func (c *Cluster) Supplier(opts ...ConsumerOption) *Supplier {
	return &Supplier{cluster: c, consumerOpts: opts}
}

func compareTopicPartitions(a, b kafka.TopicPartition) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}
