package task

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"go.uber.org/multierr"
)

type State int32

const (
	StateCreated State = iota
	StateRestoring
	StateRunning
	StateSuspended
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateRestoring:
		return "RESTORING"
	case StateRunning:
		return "RUNNING"
	case StateSuspended:
		return "SUSPENDED"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ChangelogRegistrar restores logged stores, implemented by state.Restorer
type ChangelogRegistrar interface {
	Register(ctx context.Context, store *state.Store, changelog kafka.TopicPartition) (bool, error)
	Unregister(changelog kafka.TopicPartition)
}

var _ ChangelogRegistrar = (*state.Restorer)(nil)

type recordQueue struct {
	records []kafka.ConsumerRecord
}

func (q *recordQueue) head() (kafka.ConsumerRecord, bool) {
	if len(q.records) == 0 {
		return kafka.ConsumerRecord{}, false
	}
	return q.records[0], true
}

func (q *recordQueue) pop() kafka.ConsumerRecord {
	rec := q.records[0]
	q.records[0] = kafka.ConsumerRecord{}
	q.records = q.records[1:]
	return rec
}

// StreamTask runs one subtopology over one partition of each of its source topics.
// Everything except State must be called from the owning stream thread.
type StreamTask struct {
	id         ID
	topology   *topology.Topology
	sub        *topology.Subtopology
	partitions []kafka.TopicPartition
	config     Config
	logger     logger.Logger

	collector  *RecordCollector
	stores     map[string]*state.Store
	changelogs map[string]kafka.TopicPartition

	processors  map[string]processor.UntypedProcessor
	contexts    map[string]*nodeContext
	sinks       map[string]*sinkHandler
	initialised bool

	queues             map[kafka.TopicPartition]*recordQueue
	streamTime         time.Time
	current            *kafka.ConsumerRecord
	streamPunctuations *punctuationQueue
	wallPunctuations   *punctuationQueue

	consumed     map[kafka.TopicPartition]kafka.Offset
	commitNeeded bool

	state atomic.Int32
}

// NewStreamTask opens the stores of the task's subtopology. The task starts CREATED,
// Initialize brings it to RESTORING or RUNNING.
func NewStreamTask(
	id ID,
	topo *topology.Topology,
	partitions []kafka.TopicPartition,
	producer kafka.Producer,
	opts ...Option,
) (*StreamTask, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	subs := topo.Subtopologies()
	if id.Group < 0 || id.Group >= len(subs) {
		return nil, fmt.Errorf("task %s: unknown subtopology %d", id, id.Group)
	}

	sorted := slices.Clone(partitions)
	slices.SortFunc(sorted, compareTopicPartitions)

	t := &StreamTask{
		id:                 id,
		topology:           topo,
		sub:                subs[id.Group],
		partitions:         sorted,
		config:             config,
		logger:             config.Logger.With("component", "stream-task", "task", id.String()),
		collector:          NewRecordCollector(id.String(), config.Telemetry, config.Logger),
		stores:             make(map[string]*state.Store),
		changelogs:         make(map[string]kafka.TopicPartition),
		queues:             make(map[kafka.TopicPartition]*recordQueue, len(sorted)),
		streamPunctuations: newPunctuationQueue(),
		wallPunctuations:   newPunctuationQueue(),
		consumed:           make(map[kafka.TopicPartition]kafka.Offset),
	}
	t.collector.Init(producer)

	for _, tp := range sorted {
		t.queues[tp] = &recordQueue{}
	}

	if err := t.openStores(); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *StreamTask) openStores() error {
	for _, name := range t.sub.Stores {
		builder, ok := t.topology.Store(name)
		if !ok {
			return fmt.Errorf("task %s: unknown store %s", t.id, name)
		}

		var changelog state.ChangeLogger
		if builder.LoggingEnabled() {
			tp := kafka.TopicPartition{
				Topic:     topology.ChangelogTopic(t.config.ApplicationID, name),
				Partition: t.id.Partition,
			}
			t.changelogs[name] = tp
			changelog = &changelogWriter{task: t, partition: tp}
		}

		store, err := builder.Build(
			state.BackendContext{TaskID: t.id.String(), StateDir: t.config.StateDir}, changelog,
		)
		if err != nil {
			closeErr := t.closeStores(context.Background())
			return multierr.Append(fmt.Errorf("task %s: %w", t.id, err), closeErr)
		}
		t.stores[name] = store
	}
	return nil
}

func (t *StreamTask) ID() ID {
	return t.id
}

func (t *StreamTask) State() State {
	return State(t.state.Load())
}

func (t *StreamTask) setState(s State) {
	old := State(t.state.Swap(int32(s)))
	if old != s {
		t.logger.Debug("Task state changed", "from", old.String(), "to", s.String())
	}
}

func (t *StreamTask) Partitions() []kafka.TopicPartition {
	return t.partitions
}

// Changelogs returns the changelog partition of every logged store by store name
func (t *StreamTask) Changelogs() map[string]kafka.TopicPartition {
	return t.changelogs
}

func (t *StreamTask) Store(name string) (*state.Store, bool) {
	s, ok := t.stores[name]
	return s, ok
}

func (t *StreamTask) StreamTime() time.Time {
	return t.streamTime
}

// Initialize starts restoring a CREATED or SUSPENDED task. Logged stores are handed to r,
// the task becomes RUNNING once all of them caught up.
func (t *StreamTask) Initialize(ctx context.Context, r ChangelogRegistrar) error {
	switch st := t.State(); st {
	case StateCreated, StateSuspended:
	default:
		return fmt.Errorf("task %s: initialize in state %s", t.id, st)
	}
	t.setState(StateRestoring)

	for _, name := range t.sub.Stores {
		store := t.stores[name]
		tp, logged := t.changelogs[name]

		if !logged {
			if store.State() != state.StateRunning {
				if err := store.MarkRunning(); err != nil {
					return NewRestorationError(err, t.id)
				}
			}
			continue
		}

		if store.State() == state.StateRunning {
			if err := store.Suspend(); err != nil {
				return NewRestorationError(err, t.id)
			}
		}
		if _, err := r.Register(ctx, store, tp); err != nil {
			return NewRestorationError(err, t.id)
		}
	}

	_, err := t.CompleteRestoration()
	return err
}

// CompleteRestoration moves a RESTORING task to RUNNING once every store is running
func (t *StreamTask) CompleteRestoration() (bool, error) {
	switch st := t.State(); st {
	case StateRunning:
		return true, nil
	case StateRestoring:
	default:
		return false, nil
	}

	for _, store := range t.stores {
		if store.State() != state.StateRunning {
			return false, nil
		}
	}

	if err := t.initTopology(); err != nil {
		return false, err
	}

	t.setState(StateRunning)
	t.logger.Info("Task running", "partitions", t.partitions)
	return true, nil
}

func (t *StreamTask) initTopology() error {
	t.processors = make(map[string]processor.UntypedProcessor)
	t.contexts = make(map[string]*nodeContext)
	t.sinks = make(map[string]*sinkHandler)

	for _, name := range t.sub.Nodes {
		node, _ := t.topology.Node(name)

		switch n := node.(type) {
		case *topology.ProcessorNode:
			t.processors[name] = n.Supplier()()
		case *topology.SinkNode:
			t.sinks[name] = &sinkHandler{node: n, collector: t.collector}
			continue
		}

		ctx := &nodeContext{
			task:       t,
			nodeName:   name,
			children:   t.topology.Children(name),
			namedEdges: t.topology.NamedEdges(name),
			stores:     make(map[string]struct{}),
		}
		if pn, ok := node.(*topology.ProcessorNode); ok {
			for _, s := range pn.Stores() {
				ctx.stores[s] = struct{}{}
			}
		}
		t.contexts[name] = ctx
	}

	t.initialised = true
	for _, name := range t.sub.Nodes {
		proc, ok := t.processors[name]
		if !ok {
			continue
		}
		if err := proc.Init(t.contexts[name]); err != nil {
			return NewProcessError(fmt.Errorf("init %s: %w", name, err), name)
		}
	}
	return nil
}

func (t *StreamTask) closeTopology() error {
	if !t.initialised {
		return nil
	}

	// flushes after this point must not forward into closed processors
	for _, store := range t.stores {
		store.SetFlushListener(nil)
	}

	var err error
	for _, name := range t.sub.Nodes {
		if proc, ok := t.processors[name]; ok {
			if cerr := proc.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close processor %s: %w", name, cerr))
			}
		}
	}

	t.processors = nil
	t.contexts = nil
	t.sinks = nil
	t.streamPunctuations.clear()
	t.wallPunctuations.clear()
	t.initialised = false
	return err
}

// AddRecords buffers records of the task's partitions and returns how many were taken
func (t *StreamTask) AddRecords(records ...kafka.ConsumerRecord) int {
	added := 0
	for _, rec := range records {
		q, ok := t.queues[rec.TopicPartition()]
		if !ok {
			continue
		}
		q.records = append(q.records, rec)
		added++
	}
	return added
}

// Buffered is the number of queued records of tp
func (t *StreamTask) Buffered(tp kafka.TopicPartition) int {
	if q, ok := t.queues[tp]; ok {
		return len(q.records)
	}
	return 0
}

// Full reports whether tp holds at least the configured maximum of buffered records
func (t *StreamTask) Full(tp kafka.TopicPartition) bool {
	return t.Buffered(tp) >= t.config.MaxBufferedPerPartition
}

func (t *StreamTask) dropBuffered() int {
	dropped := 0
	for _, q := range t.queues {
		dropped += len(q.records)
		q.records = nil
	}
	return dropped
}

// next picks the queue whose head record has the smallest timestamp
func (t *StreamTask) next() (*recordQueue, bool) {
	var (
		best   *recordQueue
		bestTS time.Time
	)
	for _, tp := range t.partitions {
		q := t.queues[tp]
		head, ok := q.head()
		if !ok {
			continue
		}
		if best == nil || head.Timestamp.Before(bestTS) {
			best, bestTS = q, head.Timestamp
		}
	}
	return best, best != nil
}

// Process runs the next buffered record through the topology. It returns false when the task
// is not running or has nothing buffered. An error is fatal to the task.
func (t *StreamTask) Process(ctx context.Context) (bool, error) {
	if t.State() != StateRunning {
		return false, nil
	}
	if err := t.collector.Err(); err != nil {
		return false, err
	}

	q, ok := t.next()
	if !ok {
		return false, nil
	}
	rec := q.pop()

	if rec.Timestamp.After(t.streamTime) {
		t.streamTime = rec.Timestamp
	}

	t.current = &rec
	err := t.processRecord(ctx, rec)
	t.current = nil
	if err != nil {
		return true, err
	}

	if _, err := t.punctuate(ctx, t.streamPunctuations, t.streamTime, processor.StreamTime); err != nil {
		return true, err
	}
	return true, nil
}

// PunctuateWallClock fires wall clock punctuators due at now
func (t *StreamTask) PunctuateWallClock(ctx context.Context, now time.Time) (int, error) {
	if t.State() != StateRunning {
		return 0, nil
	}
	return t.punctuate(ctx, t.wallPunctuations, now, processor.WallClockTime)
}

func (t *StreamTask) recordTimestamp() time.Time {
	if t.current != nil {
		return t.current.Timestamp
	}
	return t.config.Now()
}

func (t *StreamTask) markConsumed(rec kafka.ConsumerRecord) {
	t.consumed[rec.TopicPartition()] = kafka.Offset{Offset: rec.Offset + 1, LeaderEpoch: rec.LeaderEpoch}
	t.commitNeeded = true
}

// CommitNeeded reports whether records were consumed since the last commit
func (t *StreamTask) CommitNeeded() bool {
	return t.commitNeeded
}

// PrepareCommit flushes the stores and waits for every produced record to be acknowledged.
// It returns the offsets that may then be committed, nil if there is nothing to commit.
func (t *StreamTask) PrepareCommit(ctx context.Context) (map[kafka.TopicPartition]kafka.Offset, error) {
	if t.State() != StateRunning {
		return nil, nil
	}

	for _, name := range t.sub.Stores {
		if err := t.stores[name].Flush(ctx); err != nil {
			if IsFatal(err) {
				return nil, err
			}
			return nil, fmt.Errorf("flush store %s: %w", name, err)
		}
	}

	if err := t.collector.Flush(ctx); err != nil {
		return nil, err
	}

	if !t.commitNeeded {
		return nil, nil
	}

	out := make(map[kafka.TopicPartition]kafka.Offset, len(t.consumed))
	for tp, o := range t.consumed {
		out[tp] = o
	}
	return out, nil
}

// PostCommit checkpoints logged stores at their acknowledged changelog offsets
func (t *StreamTask) PostCommit() error {
	t.commitNeeded = false

	offsets := t.collector.Offsets()

	var err error
	for name, tp := range t.changelogs {
		o, ok := offsets[tp]
		if !ok {
			continue
		}
		err = multierr.Append(err, t.stores[name].Checkpoint(o+1))
	}
	return err
}

// Suspend stops processing and keeps the stores open for a later Initialize.
// The caller commits before suspending a running task.
func (t *StreamTask) Suspend(r ChangelogRegistrar) error {
	switch st := t.State(); st {
	case StateRunning, StateRestoring:
	case StateSuspended:
		return nil
	default:
		return fmt.Errorf("task %s: suspend in state %s", t.id, st)
	}

	err := t.closeTopology()
	t.unregister(r)

	if dropped := t.dropBuffered(); dropped > 0 {
		t.logger.Debug("Dropped buffered records", "count", dropped)
	}
	t.consumed = make(map[kafka.TopicPartition]kafka.Offset)
	t.commitNeeded = false

	t.setState(StateSuspended)
	t.logger.Info("Task suspended")
	return err
}

func (t *StreamTask) unregister(r ChangelogRegistrar) {
	if r == nil {
		return
	}
	for name, tp := range t.changelogs {
		if t.stores[name].State() == state.StateRestoring {
			r.Unregister(tp)
		}
	}
}

// Close releases the topology, the stores and the collector. A clean close expects the
// task to have been committed.
func (t *StreamTask) Close(ctx context.Context, clean bool, r ChangelogRegistrar) error {
	if t.State() == StateClosed {
		return nil
	}
	t.setState(StateClosing)

	err := t.closeTopology()
	t.unregister(r)
	t.dropBuffered()

	err = multierr.Append(err, t.closeStores(ctx))
	if cerr := t.collector.Close(ctx); cerr != nil && clean {
		err = multierr.Append(err, cerr)
	}

	t.setState(StateClosed)
	t.logger.Info("Task closed", "clean", clean)
	return err
}

func (t *StreamTask) closeStores(ctx context.Context) error {
	var err error
	for _, name := range t.sub.Stores {
		if store, ok := t.stores[name]; ok {
			err = multierr.Append(err, store.Close(ctx))
		}
	}
	return err
}

// Info is a point in time view of a task for health reporting
type Info struct {
	ID         ID
	State      State
	Partitions []kafka.TopicPartition
	Stores     map[string]state.StoreState
}

// Info summarises the task for health reporting
func (t *StreamTask) Info() Info {
	stores := make(map[string]state.StoreState, len(t.stores))
	for name, s := range t.stores {
		stores[name] = s.State()
	}
	return Info{ID: t.id, State: t.State(), Partitions: slices.Clone(t.partitions), Stores: stores}
}

// processAt runs rec through a processor or sink node
func (t *StreamTask) processAt(ctx context.Context, nodeName string, rec *record.UntypedRecord) error {
	if sink, ok := t.sinks[nodeName]; ok {
		return sink.Process(ctx, rec)
	}

	proc, ok := t.processors[nodeName]
	if !ok {
		return fmt.Errorf("unknown node: %s", nodeName)
	}

	if err := proc.Process(ctx, rec); err != nil {
		if isTaskError(err) {
			return err
		}
		return NewProcessError(err, nodeName)
	}
	return nil
}

func isTaskError(err error) bool {
	if _, ok := AsProcessError(err); ok {
		return true
	}
	if _, ok := AsSerdeError(err); ok {
		return true
	}
	if _, ok := AsProductionError(err); ok {
		return true
	}
	return IsFatal(err)
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

// addPartitions extends the task with partitions of the same task id
func (t *StreamTask) addPartitions(partitions []kafka.TopicPartition) {
	for _, tp := range partitions {
		if _, ok := t.queues[tp]; ok {
			continue
		}
		t.queues[tp] = &recordQueue{}
		t.partitions = append(t.partitions, tp)
	}
	slices.SortFunc(t.partitions, compareTopicPartitions)
}
