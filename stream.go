package streams

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/hugolhafner/go-streams-runtime/runner"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

const Version = "v0.1.0" // x-release-please-version

var (
	ErrAlreadyRunning   = errors.New("application is already running")
	ErrClosed           = errors.New("application is closed")
	ErrNotCopartitioned = errors.New("source topics of a subtopology have different partition counts")
	ErrUnknownStore     = errors.New("unknown state store")
)

// Application runs a topology on NumThreads stream threads sharing one consumer group
type Application struct {
	topology *topology.Topology
	config   Config
	supplier kafka.Supplier

	processID string
	logger    logger.Logger

	mu        sync.Mutex
	running   bool
	threads   []*runner.StreamThread
	closeOnce sync.Once
	closedCh  chan struct{}
}

func NewApplication(supplier kafka.Supplier, topology *topology.Topology, opts ...ConfigOption) (*Application, error) {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return NewApplicationWithConfig(supplier, topology, config)
}

func NewApplicationWithConfig(supplier kafka.Supplier, topology *topology.Topology, config Config) (*Application, error) {
	if config.ApplicationID == "" {
		return nil, errors.New("application id is required")
	}
	if config.NumThreads < 1 {
		return nil, fmt.Errorf("number of threads must be at least 1, got %d", config.NumThreads)
	}
	if config.Logger == nil {
		config.Logger = logger.NewNoopLogger()
	}

	processID := ulid.Make().String()
	return &Application{
		topology:  topology,
		config:    config,
		supplier:  supplier,
		processID: processID,
		logger:    config.Logger.With("component", "application", "application_id", config.ApplicationID, "process", processID),
		closedCh:  make(chan struct{}),
	}, nil
}

// Run prepares the changelog topics and runs the stream threads until ctx is cancelled,
// Close is called or a thread fails. A failing thread stops the others.
func (a *Application) Run(ctx context.Context) error {
	if err := a.startRunning(); err != nil {
		return err
	}
	defer a.Close()

	if err := a.prepareTopics(ctx); err != nil {
		return err
	}

	threads, err := a.createThreads()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.closedCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	a.logger.Info("Starting application", "threads", len(threads), "topics", a.topology.SourceTopics())

	g, gctx := errgroup.WithContext(runCtx)
	for _, th := range threads {
		g.Go(
			func() error {
				if err := th.Run(gctx); err != nil {
					return fmt.Errorf("%s: %w", th.Name(), err)
				}
				return nil
			},
		)
	}

	err = g.Wait()
	if err != nil {
		a.logger.Error("Application stopped with error", "error", err)
	} else {
		a.logger.Info("Application stopped")
	}
	return err
}

func (a *Application) createThreads() ([]*runner.StreamThread, error) {
	opts := a.config.threadOptions()

	threads := make([]*runner.StreamThread, 0, a.config.NumThreads)
	for i := 1; i <= a.config.NumThreads; i++ {
		name := fmt.Sprintf("%s-%s-StreamThread-%d", a.config.ApplicationID, a.processID, i)
		th, err := runner.NewStreamThread(name, a.topology, a.supplier, opts...)
		if err != nil {
			for _, created := range threads {
				created.Close()
			}
			return nil, fmt.Errorf("create stream thread %d: %w", i, err)
		}
		threads = append(threads, th)
	}

	a.mu.Lock()
	a.threads = threads
	a.mu.Unlock()

	return threads, nil
}

// prepareTopics checks copartitioning of the source topics and creates missing changelogs
// with one partition per task
func (a *Application) prepareTopics(ctx context.Context) error {
	admin, err := a.supplier.Admin(kafka.ClientConfig{ClientID: a.config.ApplicationID + "-admin"})
	if err != nil {
		return fmt.Errorf("create admin client: %w", err)
	}
	defer admin.Close()

	counts, err := admin.PartitionCounts(ctx, a.topology.SourceTopics()...)
	if err != nil {
		return fmt.Errorf("describe source topics: %w", err)
	}

	partitions := make(map[int]int32)
	for _, sub := range a.topology.Subtopologies() {
		for _, topic := range sub.SourceTopics {
			n := counts[topic]
			if have, ok := partitions[sub.ID]; ok && have != n {
				return fmt.Errorf("%w: subtopology %d, topic %s has %d partitions, expected %d",
					ErrNotCopartitioned, sub.ID, topic, n, have)
			}
			partitions[sub.ID] = n
		}
	}

	changelogs := a.topology.ChangelogTopics(a.config.ApplicationID)
	if len(changelogs) == 0 {
		return nil
	}
	if !a.config.CreateChangelogs {
		return checkChangelogs(ctx, admin, changelogs, partitions)
	}

	topics := make(map[string]kafka.TopicConfig, len(changelogs))
	for name, cl := range changelogs {
		topics[name] = kafka.TopicConfig{
			Partitions:        partitions[cl.Subtopology],
			ReplicationFactor: a.config.ReplicationFactor,
			Configs:           cl.Config,
		}
	}

	if err := admin.EnsureTopics(ctx, topics); err != nil {
		return fmt.Errorf("create changelog topics: %w", err)
	}
	a.logger.Debug("Changelog topics ready", "topics", len(topics))
	return nil
}

// checkChangelogs fails unless every changelog exists with a partition per task
func checkChangelogs(
	ctx context.Context, admin kafka.Admin, changelogs map[string]topology.Changelog, partitions map[int]int32,
) error {
	names := slices.Sorted(maps.Keys(changelogs))
	counts, err := admin.PartitionCounts(ctx, names...)
	if errors.Is(err, kafka.ErrUnknownTopic) {
		return fmt.Errorf("%w: %w", state.ErrMissingChangelog, err)
	}
	if err != nil {
		return fmt.Errorf("describe changelog topics: %w", err)
	}

	for _, name := range names {
		want := partitions[changelogs[name].Subtopology]
		if counts[name] < want {
			return fmt.Errorf("%w: %s has %d partitions, expected %d", state.ErrMissingChangelog, name, counts[name], want)
		}
	}
	return nil
}

// Close stops the threads. Run returns once they finished their final commit.
func (a *Application) Close() {
	a.closeOnce.Do(
		func() {
			a.mu.Lock()
			defer a.mu.Unlock()

			a.running = false
			for _, th := range a.threads {
				th.Stop()
			}
			close(a.closedCh)
		},
	)
}

func (a *Application) startRunning() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrAlreadyRunning
	}

	select {
	case <-a.closedCh:
		return ErrClosed
	default:
	}

	a.running = true
	return nil
}

func (a *Application) snapshotThreads() []*runner.StreamThread {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.threads
}

// Health returns the latest snapshot of every thread
func (a *Application) Health() []runner.Health {
	threads := a.snapshotThreads()
	out := make([]runner.Health, 0, len(threads))
	for _, th := range threads {
		out = append(out, th.Health())
	}
	return out
}

// IsRunning reports whether every thread is RUNNING
func (a *Application) IsRunning() bool {
	threads := a.snapshotThreads()
	if len(threads) == 0 {
		return false
	}
	for _, th := range threads {
		if th.State() != runner.StateRunning {
			return false
		}
	}
	return true
}

// ReadOnlyStore returns a view over every local instance of the named store
func (a *Application) ReadOnlyStore(name string) (*CompositeStore, error) {
	if _, ok := a.topology.Store(name); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
	return &CompositeStore{name: name, threads: a.snapshotThreads}, nil
}
