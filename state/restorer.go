package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
)

// ErrMissingChangelog is returned when the changelog partition of a logged store does not exist
var ErrMissingChangelog = errors.New("changelog topic does not exist")

// RestoreError is returned when a changelog record could not be applied to its store
type RestoreError struct {
	Changelog kafka.TopicPartition
	Store     string
	Err       error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore %s from %s: %v", e.Store, e.Changelog, e.Err)
}

func (e *RestoreError) Unwrap() error {
	return e.Err
}

type restoration struct {
	store *Store
	end   int64
	count int64
}

type RestorerConfig struct {
	BatchSize   int
	PollTimeout time.Duration
	// Tolerance is how many records behind the end offset a store may be and still count as restored
	Tolerance int64
	Logger    logger.Logger
}

type RestorerOption func(*RestorerConfig)

func WithRestoreBatchSize(n int) RestorerOption {
	return func(c *RestorerConfig) {
		if n > 0 {
			c.BatchSize = n
		}
	}
}

func WithRestorePollTimeout(d time.Duration) RestorerOption {
	return func(c *RestorerConfig) {
		c.PollTimeout = d
	}
}

func WithRestoreTolerance(n int64) RestorerOption {
	return func(c *RestorerConfig) {
		if n >= 0 {
			c.Tolerance = n
		}
	}
}

func WithRestoreLogger(l logger.Logger) RestorerOption {
	return func(c *RestorerConfig) {
		c.Logger = l
	}
}

func defaultRestorerConfig() RestorerConfig {
	return RestorerConfig{
		BatchSize:   1000,
		PollTimeout: 10 * time.Millisecond,
		Logger:      logger.NewNoopLogger(),
	}
}

// Restorer replays changelog partitions into their stores through a manually assigned
// consumer. It is owned by one stream thread.
type Restorer struct {
	consumer kafka.Consumer
	puller   *kafka.BatchPuller
	config   RestorerConfig
	logger   logger.Logger

	active map[kafka.TopicPartition]*restoration
}

func NewRestorer(consumer kafka.Consumer, opts ...RestorerOption) *Restorer {
	config := defaultRestorerConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Restorer{
		consumer: consumer,
		puller:   kafka.NewBatchPuller(consumer),
		config:   config,
		logger:   config.Logger.With("component", "restorer"),
		active:   make(map[kafka.TopicPartition]*restoration),
	}
}

// Register puts store into restoration from changelog. The store is restored once its
// position reaches the changelog high watermark taken now. It returns true when nothing had
// to be replayed and the store is already running.
func (r *Restorer) Register(ctx context.Context, store *Store, changelog kafka.TopicPartition) (bool, error) {
	if _, ok := r.active[changelog]; ok {
		return false, fmt.Errorf("changelog %s is already restoring", changelog)
	}

	if store.State() == StateCreated {
		if err := store.BeginRestore(); err != nil {
			return false, err
		}
	}

	wm, err := r.consumer.WatermarkOffsets(ctx, changelog)
	if errors.Is(err, kafka.ErrUnknownTopic) {
		return false, fmt.Errorf("%w: %s of store %s", ErrMissingChangelog, changelog, store.Name())
	}
	if err != nil {
		return false, fmt.Errorf("watermarks of %s: %w", changelog, err)
	}

	start, ok, err := store.StartOffset()
	if err != nil {
		return false, &RestoreError{Changelog: changelog, Store: store.Name(), Err: err}
	}
	if !ok || start < wm.Low {
		start = wm.Low
	}

	if start >= wm.High-r.config.Tolerance {
		r.logger.Debug(
			"Store is up to date", "store", store.Name(), "changelog", changelog.String(),
			"position", start, "high", wm.High,
		)
		if err := store.Checkpoint(start); err != nil {
			return false, err
		}
		return true, store.MarkRunning()
	}

	if err := r.consumer.Assign([]kafka.TopicPartitionOffset{{TopicPartition: changelog, Offset: start}}); err != nil {
		return false, fmt.Errorf("assign %s: %w", changelog, err)
	}

	r.active[changelog] = &restoration{store: store, end: wm.High}
	r.logger.Info(
		"Restoring store", "store", store.Name(), "changelog", changelog.String(),
		"from", start, "to", wm.High,
	)
	return false, nil
}

// Unregister stops restoring changelog without marking its store as running
func (r *Restorer) Unregister(changelog kafka.TopicPartition) {
	if _, ok := r.active[changelog]; !ok {
		return
	}

	delete(r.active, changelog)
	r.consumer.Unassign(changelog)
}

func (r *Restorer) Restoring() int {
	return len(r.active)
}

// Restore applies one batch of changelog records. It returns the changelogs whose stores
// finished restoring in this step and the number of records applied.
func (r *Restorer) Restore(ctx context.Context) ([]kafka.TopicPartition, int, error) {
	if len(r.active) == 0 {
		return nil, 0, nil
	}

	records, err := r.puller.Pull(ctx, r.config.PollTimeout, r.config.BatchSize)
	if err != nil && !kafka.IsTransient(err) && !errors.Is(err, context.Canceled) {
		return nil, 0, fmt.Errorf("poll changelogs: %w", err)
	}
	if err != nil {
		r.logger.Debug("Transient changelog poll error", "error", err)
	}

	applied := 0
	for _, rec := range records {
		tp := rec.TopicPartition()
		entry, ok := r.active[tp]
		if !ok {
			continue
		}

		if err := entry.store.Restore(rec.Key, rec.Value, rec.Offset); err != nil {
			return nil, applied, &RestoreError{Changelog: tp, Store: entry.store.Name(), Err: err}
		}
		entry.count++
		applied++
	}

	var done []kafka.TopicPartition
	for tp, entry := range r.active {
		if entry.store.Position() < entry.end-r.config.Tolerance {
			continue
		}

		if err := entry.store.MarkRunning(); err != nil {
			return done, applied, &RestoreError{Changelog: tp, Store: entry.store.Name(), Err: err}
		}

		r.logger.Info(
			"Store restored", "store", entry.store.Name(), "changelog", tp.String(),
			"records", entry.count, "position", entry.store.Position(),
		)
		delete(r.active, tp)
		r.consumer.Unassign(tp)
		done = append(done, tp)
	}

	return done, applied, nil
}

// Close unassigns every changelog still restoring
func (r *Restorer) Close() {
	for tp := range r.active {
		r.Unregister(tp)
	}
}
