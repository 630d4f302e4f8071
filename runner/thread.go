package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
	"github.com/hugolhafner/go-streams-runtime/runner/committer"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/task"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

var ErrAlreadyStarted = errors.New("stream thread was already started")

var _ kafka.RebalanceListener = (*StreamThread)(nil)

// pollError is a failed batch pull, retried after the poll error backoff
type pollError struct {
	err error
}

func (e *pollError) Error() string {
	return "poll: " + e.err.Error()
}

func (e *pollError) Unwrap() error {
	return e.err
}

// StreamThread runs the tasks of the partitions its consumer is assigned. The consumer,
// restore consumer and producer are owned by the thread and never shared.
type StreamThread struct {
	name     string
	topology *topology.Topology
	config   Config

	consumer        kafka.Consumer
	restoreConsumer kafka.Consumer
	producer        kafka.Producer

	puller     *kafka.BatchPuller
	restorer   *state.Restorer
	tasks      *task.Manager
	watermarks *kafka.WatermarkTracker
	committer  committer.Committer

	// owned by the thread goroutine
	paused            map[kafka.TopicPartition]struct{}
	committed         map[kafka.TopicPartition]int64
	fatal             error
	lastHealthRefresh time.Time

	state  atomic.Int32
	health atomic.Pointer[Health]
	stores atomic.Pointer[storeIndex]

	stopOnce sync.Once
	stopCh   chan struct{}

	logger    logger.Logger
	telemetry *streamsotel.Telemetry
}

// NewStreamThread creates the clients of a thread through supplier
func NewStreamThread(
	name string, topo *topology.Topology, supplier kafka.Supplier, opts ...Option,
) (*StreamThread, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	consumer, err := supplier.Consumer(kafka.ClientConfig{ClientID: name + "-consumer", GroupID: config.ApplicationID})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	restoreConsumer, err := supplier.RestoreConsumer(kafka.ClientConfig{ClientID: name + "-restore-consumer"})
	if err != nil {
		consumer.Close()
		return nil, fmt.Errorf("create restore consumer: %w", err)
	}

	producer, err := supplier.Producer(kafka.ClientConfig{ClientID: name + "-producer"})
	if err != nil {
		consumer.Close()
		restoreConsumer.Close()
		return nil, fmt.Errorf("create producer: %w", err)
	}

	l := config.Logger.With("component", "stream-thread", "thread", name)

	t := &StreamThread{
		name:            name,
		topology:        topo,
		config:          config,
		consumer:        consumer,
		restoreConsumer: restoreConsumer,
		producer:        producer,
		puller:          kafka.NewBatchPuller(consumer),
		restorer: state.NewRestorer(
			restoreConsumer,
			state.WithRestoreBatchSize(config.RestoreBatchSize),
			state.WithRestorePollTimeout(config.RestorePollTimeout),
			state.WithRestoreTolerance(config.RestoreTolerance),
			state.WithRestoreLogger(l),
		),
		tasks: task.NewManager(
			topo, producer,
			task.WithApplicationID(config.ApplicationID),
			task.WithStateDir(config.StateDir),
			task.WithErrorHandler(config.ErrorHandler),
			task.WithTelemetry(config.Telemetry),
			task.WithLogger(l),
			task.WithMaxBufferedPerPartition(config.MaxBufferedPerPartition),
			task.WithClock(config.Now),
		),
		watermarks: kafka.NewWatermarkTracker(consumer),
		committer: committer.NewPeriodicCommitter(
			committer.WithMaxInterval(config.CommitInterval),
			committer.WithMaxCount(config.CommitMaxRecords),
			committer.WithClock(config.Now),
		),
		paused:    make(map[kafka.TopicPartition]struct{}),
		committed: make(map[kafka.TopicPartition]int64),
		stopCh:    make(chan struct{}),
		logger:    l,
		telemetry: config.Telemetry,
	}
	t.stores.Store(&storeIndex{})

	return t, nil
}

func (t *StreamThread) Name() string {
	return t.name
}

func (t *StreamThread) State() ThreadState {
	return ThreadState(t.state.Load())
}

// setState is only called from the thread goroutine. Invalid transitions are ignored.
func (t *StreamThread) setState(next ThreadState) bool {
	old := t.State()
	if !old.CanTransitionTo(next) {
		t.logger.Debug("Ignoring thread state transition", "from", old.String(), "to", next.String())
		return false
	}

	t.state.Store(int32(next))
	if old == next {
		return true
	}

	t.logger.Info("Thread state changed", "from", old.String(), "to", next.String())
	if t.config.StateListener != nil {
		t.config.StateListener(t.name, next, old)
	}
	return true
}

// Stop asks the thread to finish its current batch, commit and shut down. It does not wait.
func (t *StreamThread) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// Close releases the clients of a thread that was never run. It is a no-op otherwise.
func (t *StreamThread) Close() {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateDead)) {
		return
	}

	t.restorer.Close()
	t.consumer.Close()
	t.restoreConsumer.Close()
	t.producer.Close()
}

// Run subscribes to the source topics and processes until ctx is cancelled, Stop is called
// or a task fails. The clients are closed when Run returns.
func (t *StreamThread) Run(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return ErrAlreadyStarted
	}
	if t.config.StateListener != nil {
		t.config.StateListener(t.name, StateStarting, StateCreated)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopCh:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	topics := t.topology.SourceTopics()
	if err := t.consumer.Subscribe(topics, t); err != nil {
		t.shutdown(ctx, false)
		return fmt.Errorf("subscribe to %v: %w", topics, err)
	}

	t.logger.Info("Stream thread started", "topics", topics)

	var errAttempts uint = 0
	for pollCtx.Err() == nil {
		err := t.runOnce(pollCtx)
		if err == nil {
			errAttempts = 0
			continue
		}

		var pe *pollError
		if !errors.As(err, &pe) {
			t.logger.Error("Stream thread failed", "error", err)
			t.shutdown(ctx, false)
			return err
		}

		t.logger.Warn("Poll error", "error", err, "attempt", errAttempts)
		select {
		case <-pollCtx.Done():
		case <-time.After(t.config.PollErrorBackoff.Next(errAttempts)):
		}
		errAttempts++
	}

	t.logger.Info("Stream thread stopping")
	t.shutdown(ctx, true)
	return nil
}

// runOnce is one loop iteration. ctx is cancelled on shutdown, which only interrupts
// waiting: pulled records are still processed and committed.
func (t *StreamThread) runOnce(ctx context.Context) error {
	work := context.WithoutCancel(ctx)

	if err := t.restore(ctx); err != nil {
		return err
	}

	if err := t.tasks.RetryPending(work, t.restorer); err != nil {
		return err
	}
	t.syncPaused(t.consumer.Assignment())

	timeout := t.config.PollTimeout
	if t.restorer.Restoring() > 0 || t.tasks.Pending() > 0 {
		timeout = 0
	}

	pollErr := t.poll(ctx, timeout)
	if t.fatal != nil {
		return t.fatal
	}
	if errors.Is(pollErr, kafka.ErrClosed) {
		return pollErr
	}

	if err := t.process(work); err != nil {
		return err
	}
	if err := t.punctuate(work); err != nil {
		return err
	}
	if err := t.maybeCommit(work); err != nil {
		return err
	}

	if err := t.tasks.CloseSuspended(work, t.config.SuspendedRetention); err != nil {
		t.logger.Warn("Failed to close suspended tasks", "error", err)
	}

	t.maybeRunning()
	t.publishHealth(t.config.Now().Sub(t.lastHealthRefresh) >= t.config.HealthInterval)

	if pollErr != nil {
		if !retriable(pollErr) {
			return fmt.Errorf("poll: %w", pollErr)
		}
		return &pollError{err: pollErr}
	}
	return nil
}

// retriable reports broker errors a later iteration may get past
func retriable(err error) bool {
	return kafka.IsTransient(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// restore replays changelogs and starts the tasks whose stores caught up
func (t *StreamThread) restore(ctx context.Context) error {
	if t.restorer.Restoring() > 0 {
		done, applied, err := t.restorer.Restore(ctx)
		if applied > 0 {
			t.telemetry.RestoredRecords.Add(
				ctx, int64(applied), metric.WithAttributes(streamsotel.AttrThread.String(t.name)),
			)
		}
		if err != nil {
			return t.restorationFailed(ctx, err)
		}
		if len(done) > 0 {
			t.logger.Debug("Changelogs restored", "changelogs", done)
		}
	}

	started := false
	for _, tk := range t.tasks.Active() {
		if tk.State() != task.StateRestoring {
			continue
		}

		running, err := tk.CompleteRestoration()
		if err != nil {
			return t.failTask(context.WithoutCancel(ctx), tk, err)
		}
		started = started || running
	}

	if started {
		t.publishStores()
	}
	return nil
}

func (t *StreamThread) restorationFailed(ctx context.Context, err error) error {
	var re *state.RestoreError
	if errors.As(err, &re) {
		if tk, ok := t.tasks.TaskForChangelog(re.Changelog); ok {
			t.logger.Error("Failed to restore task", "task", tk.ID().String(), "store", re.Store, "error", err)
			if cerr := t.tasks.CloseTasks(context.WithoutCancel(ctx), []*task.StreamTask{tk}, false, t.restorer); cerr != nil {
				t.logger.Warn("Failed to close task", "task", tk.ID().String(), "error", cerr)
			}
			return task.NewRestorationError(err, tk.ID())
		}
	}
	return fmt.Errorf("restore changelogs: %w", err)
}

// syncPaused pauses partitions whose task cannot take records and resumes the others
func (t *StreamThread) syncPaused(partitions []kafka.TopicPartition) {
	var pause, resume []kafka.TopicPartition
	for _, tp := range partitions {
		tk, ok := t.tasks.TaskFor(tp)
		want := !ok || tk.State() != task.StateRunning || tk.Full(tp)
		_, paused := t.paused[tp]

		switch {
		case want && !paused:
			t.paused[tp] = struct{}{}
			pause = append(pause, tp)
		case !want && paused:
			delete(t.paused, tp)
			resume = append(resume, tp)
		}
	}

	if len(pause) > 0 {
		t.consumer.Pause(pause...)
		t.logger.Debug("Paused partitions", "partitions", pause)
	}
	if len(resume) > 0 {
		t.consumer.Resume(resume...)
		t.logger.Debug("Resumed partitions", "partitions", resume)
	}
}

// forget drops bookkeeping of partitions leaving the thread
func (t *StreamThread) forget(partitions []kafka.TopicPartition) {
	var resume []kafka.TopicPartition
	for _, tp := range partitions {
		if _, ok := t.paused[tp]; ok {
			delete(t.paused, tp)
			resume = append(resume, tp)
		}
		delete(t.committed, tp)
	}

	// a later owner of the partition on this consumer starts unpaused
	if len(resume) > 0 {
		t.consumer.Resume(resume...)
	}
}

func (t *StreamThread) poll(ctx context.Context, timeout time.Duration) error {
	tel := t.telemetry
	pollStart := time.Now()

	ctx, span := tel.Tracer.Start(
		ctx, "receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeReceive,
			semconv.MessagingConsumerGroupName(t.config.ApplicationID),
			streamsotel.AttrThread.String(t.name),
		),
	)
	records, err := t.puller.Pull(ctx, timeout, t.config.MaxPollRecords)

	status := streamsotel.StatusSuccess
	if err != nil {
		status = streamsotel.StatusError
		span.RecordError(err)
	}
	tel.PollDuration.Record(
		ctx, time.Since(pollStart).Seconds(), metric.WithAttributes(
			streamsotel.AttrPollStatus.String(status),
			streamsotel.AttrThread.String(t.name),
		),
	)
	span.SetAttributes(semconv.MessagingBatchMessageCount(len(records)))
	span.End()

	for _, rec := range records {
		tp := rec.TopicPartition()
		tk, ok := t.tasks.TaskFor(tp)
		if !ok || tk.AddRecords(rec) == 0 {
			t.logger.Debug("Dropping record of a partition without task", "partition", tp.String(), "offset", rec.Offset)
			continue
		}

		tel.MessagesConsumed.Add(
			ctx, 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(rec.Partition), 10)),
			),
		)
	}

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("pull batch: %w", err)
	}
	return nil
}

// process runs every buffered record, taking one record per task in turn
func (t *StreamThread) process(ctx context.Context) error {
	active := t.tasks.Active()

	processed := 0
	for progress := true; progress; {
		progress = false
		for _, tk := range active {
			ok, err := tk.Process(ctx)
			if err != nil {
				t.committer.RecordProcessed(processed)
				return t.failTask(ctx, tk, err)
			}
			if ok {
				progress = true
				processed++
			}
		}
	}

	t.committer.RecordProcessed(processed)
	return nil
}

func (t *StreamThread) punctuate(ctx context.Context) error {
	now := t.config.Now()
	for _, tk := range t.tasks.Active() {
		if tk.State() != task.StateRunning {
			continue
		}
		if _, err := tk.PunctuateWallClock(ctx, now); err != nil {
			return t.failTask(ctx, tk, err)
		}
	}
	return nil
}

// failTask commits every other task, then closes tk without committing it
func (t *StreamThread) failTask(ctx context.Context, tk *task.StreamTask, err error) error {
	t.logger.Error("Task failed", "task", tk.ID().String(), "error", err)

	others := make([]*task.StreamTask, 0)
	for _, other := range t.tasks.Active() {
		if other != tk {
			others = append(others, other)
		}
	}

	if _, cerr := t.commit(ctx, others); cerr != nil {
		err = multierr.Append(err, cerr)
	}
	if cerr := t.tasks.CloseTasks(ctx, []*task.StreamTask{tk}, false, t.restorer); cerr != nil {
		t.logger.Warn("Failed to close failed task", "task", tk.ID().String(), "error", cerr)
	}
	t.taskCountChanged(ctx, -1)

	return fmt.Errorf("task %s: %w", tk.ID(), err)
}

func (t *StreamThread) maybeCommit(ctx context.Context) error {
	if !t.committer.TryCommit() {
		return nil
	}

	committed, err := t.commit(ctx, t.tasks.Active())
	t.committer.UnlockCommit(committed && err == nil)
	return err
}

// commit flushes tasks and commits the offsets of their processed records. Tasks failing
// fatally are closed dirty after the others were committed and their errors are returned.
// A transient offset commit failure is only logged, the next commit covers the same records.
func (t *StreamThread) commit(ctx context.Context, tasks []*task.StreamTask) (bool, error) {
	if len(tasks) == 0 {
		return true, nil
	}

	fctx, cancel := context.WithTimeout(ctx, t.config.FlushTimeout)
	defer cancel()

	offsets := make(map[kafka.TopicPartition]kafka.Offset)
	var (
		prepared, failed []*task.StreamTask
		taskErr          error
		committed        = true
	)
	for _, tk := range tasks {
		o, err := tk.PrepareCommit(fctx)
		if err != nil {
			if task.IsFatal(err) {
				failed = append(failed, tk)
				taskErr = multierr.Append(taskErr, fmt.Errorf("task %s: %w", tk.ID(), err))
			} else {
				committed = false
				t.logger.Warn("Failed to prepare commit", "task", tk.ID().String(), "error", err)
			}
			continue
		}
		if len(o) == 0 {
			continue
		}

		for tp, off := range o {
			offsets[tp] = off
		}
		prepared = append(prepared, tk)
	}

	if len(offsets) > 0 {
		start := time.Now()
		err := t.consumer.Commit(fctx, offsets)

		status := streamsotel.StatusSuccess
		if err != nil {
			status = streamsotel.StatusError
		}
		t.telemetry.CommitDuration.Record(
			ctx, time.Since(start).Seconds(), metric.WithAttributes(
				streamsotel.AttrCommitStatus.String(status),
				streamsotel.AttrThread.String(t.name),
			),
		)

		switch {
		case err != nil && retriable(err):
			committed = false
			t.logger.Warn("Failed to commit offsets", "error", err)
		case err != nil:
			committed = false
			taskErr = multierr.Append(taskErr, fmt.Errorf("commit offsets: %w", err))
		default:
			t.logger.Debug("Committed offsets", "partitions", len(offsets))
			for tp, off := range offsets {
				t.committed[tp] = off.Offset
			}
			for _, tk := range prepared {
				if err := tk.PostCommit(); err != nil {
					t.logger.Warn("Failed to checkpoint stores", "task", tk.ID().String(), "error", err)
				}
			}
		}
	}

	if len(failed) > 0 {
		if err := t.tasks.CloseTasks(ctx, failed, false, t.restorer); err != nil {
			t.logger.Warn("Failed to close tasks", "error", err)
		}
		t.taskCountChanged(ctx, -len(failed))
	}
	return committed, taskErr
}

// maybeRunning moves the thread to RUNNING once every assigned task is running
func (t *StreamThread) maybeRunning() {
	switch t.State() {
	case StatePartitionsAssigned, StatePartitionsRevoked:
	default:
		return
	}

	if t.tasks.Pending() > 0 {
		return
	}
	for _, tk := range t.tasks.Active() {
		if tk.State() != task.StateRunning {
			return
		}
	}
	t.setState(StateRunning)
}

func (t *StreamThread) taskCountChanged(ctx context.Context, delta int) {
	if delta == 0 {
		return
	}
	t.telemetry.TasksActive.Add(ctx, int64(delta), metric.WithAttributes(streamsotel.AttrThread.String(t.name)))
}

// shutdown commits unless forced or timed out, then closes the tasks and the clients
func (t *StreamThread) shutdown(ctx context.Context, clean bool) {
	t.setState(StatePendingShutdown)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.config.ShutdownTimeout)
	defer cancel()

	active := len(t.tasks.Active())
	if clean {
		committed, err := t.commit(sctx, t.tasks.Active())
		switch {
		case err != nil:
			t.logger.Error("Final commit failed", "error", err)
			clean = false
		case !committed:
			t.logger.Warn("Final commit did not complete")
		}
		if sctx.Err() != nil {
			t.logger.Warn("Shutdown timeout reached, closing tasks without commit")
			clean = false
		}
	}

	if err := t.tasks.CloseAll(sctx, clean, t.restorer); err != nil {
		t.logger.Warn("Failed to close tasks", "error", err)
	}
	t.taskCountChanged(sctx, -active)

	t.restorer.Close()
	t.consumer.Close()
	t.restoreConsumer.Close()
	t.producer.Close()

	t.stores.Store(&storeIndex{})
	t.setState(StateDead)
	t.publishHealth(false)
	t.logger.Info("Stream thread stopped", "clean", clean)
}
