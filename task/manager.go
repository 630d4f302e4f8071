package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/topology"
	"go.uber.org/multierr"
)

type suspendedTask struct {
	task  *StreamTask
	since time.Time
}

// Manager owns the tasks of one stream thread. It is not safe for concurrent use.
type Manager struct {
	topology *topology.Topology
	producer kafka.Producer
	opts     []Option
	now      func() time.Time
	logger   logger.Logger

	active      map[ID]*StreamTask
	suspended   map[ID]suspendedTask
	pending     map[ID][]kafka.TopicPartition
	byPartition map[kafka.TopicPartition]*StreamTask
}

func NewManager(topo *topology.Topology, producer kafka.Producer, opts ...Option) *Manager {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &Manager{
		topology:    topo,
		producer:    producer,
		opts:        opts,
		now:         config.Now,
		logger:      config.Logger.With("component", "task-manager"),
		active:      make(map[ID]*StreamTask),
		suspended:   make(map[ID]suspendedTask),
		pending:     make(map[ID][]kafka.TopicPartition),
		byPartition: make(map[kafka.TopicPartition]*StreamTask),
	}
}

// TaskIDs groups partitions by the task that processes them
func (m *Manager) TaskIDs(partitions []kafka.TopicPartition) map[ID][]kafka.TopicPartition {
	out := make(map[ID][]kafka.TopicPartition)
	for _, tp := range partitions {
		group, ok := m.topology.SubtopologyForTopic(tp.Topic)
		if !ok {
			m.logger.Warn("Assigned partition of unknown topic", "topic", tp.Topic, "partition", tp.Partition)
			continue
		}
		id := ID{Group: group, Partition: tp.Partition}
		out[id] = append(out[id], tp)
	}
	return out
}

func sortedIDs[T any](m map[ID]T) []ID {
	ids := make([]ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.SortFunc(
		ids, func(a, b ID) int {
			switch {
			case a.Less(b):
				return -1
			case b.Less(a):
				return 1
			default:
				return 0
			}
		},
	)
	return ids
}

// Assign creates or resumes the tasks of partitions and starts their restoration.
// Suspended tasks that are not part of the assignment are closed.
func (m *Manager) Assign(ctx context.Context, partitions []kafka.TopicPartition, r ChangelogRegistrar) error {
	groups := m.TaskIDs(partitions)

	var err error
	for _, id := range sortedIDs(m.suspended) {
		if _, keep := groups[id]; keep {
			continue
		}
		s := m.suspended[id]
		delete(m.suspended, id)
		err = multierr.Append(err, s.task.Close(ctx, true, r))
	}

	for _, id := range sortedIDs(groups) {
		tps := groups[id]

		if t, ok := m.active[id]; ok {
			t.addPartitions(tps)
			m.index(t)
			continue
		}

		if s, ok := m.suspended[id]; ok {
			delete(m.suspended, id)
			s.task.addPartitions(tps)
			m.logger.Info("Resuming task", "task", id.String())
			if ierr := m.start(ctx, s.task, r); ierr != nil {
				return multierr.Append(err, ierr)
			}
			continue
		}

		m.pending[id] = append(m.pending[id], tps...)
	}

	return multierr.Append(err, m.createPending(ctx, r))
}

// RetryPending creates the tasks whose stores were still locked on an earlier attempt
func (m *Manager) RetryPending(ctx context.Context, r ChangelogRegistrar) error {
	if len(m.pending) == 0 {
		return nil
	}
	return m.createPending(ctx, r)
}

// Pending is the number of tasks waiting to be created
func (m *Manager) Pending() int {
	return len(m.pending)
}

func (m *Manager) createPending(ctx context.Context, r ChangelogRegistrar) error {
	for _, id := range sortedIDs(m.pending) {
		tps := m.pending[id]

		t, err := NewStreamTask(id, m.topology, tps, m.producer, m.opts...)
		if errors.Is(err, state.ErrStoreLocked) {
			m.logger.Info("Store still locked, retrying later", "task", id.String(), "error", err)
			continue
		}
		if err != nil {
			return fmt.Errorf("create task %s: %w", id, err)
		}

		delete(m.pending, id)
		m.logger.Info("Created task", "task", id.String(), "partitions", tps)
		if err := m.start(ctx, t, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) start(ctx context.Context, t *StreamTask, r ChangelogRegistrar) error {
	m.active[t.id] = t
	m.index(t)
	return t.Initialize(ctx, r)
}

func (m *Manager) index(t *StreamTask) {
	for _, tp := range t.partitions {
		m.byPartition[tp] = t
	}
}

func (m *Manager) unindex(t *StreamTask) {
	for _, tp := range t.partitions {
		if m.byPartition[tp] == t {
			delete(m.byPartition, tp)
		}
	}
}

// TasksFor returns the active tasks owning any of partitions and forgets pending creations for them
func (m *Manager) TasksFor(partitions []kafka.TopicPartition) []*StreamTask {
	var out []*StreamTask
	for _, tp := range partitions {
		if t, ok := m.byPartition[tp]; ok && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}

	for id, tps := range m.pending {
		tps = slices.DeleteFunc(tps, func(tp kafka.TopicPartition) bool { return slices.Contains(partitions, tp) })
		if len(tps) == 0 {
			delete(m.pending, id)
		} else {
			m.pending[id] = tps
		}
	}

	slices.SortFunc(out, func(a, b *StreamTask) int { return compareIDs(a.id, b.id) })
	return out
}

func compareIDs(a, b ID) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

// Suspend moves tasks from active to suspended. They stay open until the next Assign
// without them or CloseSuspended.
func (m *Manager) Suspend(tasks []*StreamTask, r ChangelogRegistrar) error {
	var err error
	for _, t := range tasks {
		if _, ok := m.active[t.id]; !ok {
			continue
		}
		delete(m.active, t.id)
		m.unindex(t)

		if serr := t.Suspend(r); serr != nil {
			err = multierr.Append(err, serr)
		}
		m.suspended[t.id] = suspendedTask{task: t, since: m.now()}
	}
	return err
}

// CloseTasks closes active tasks
func (m *Manager) CloseTasks(ctx context.Context, tasks []*StreamTask, clean bool, r ChangelogRegistrar) error {
	var err error
	for _, t := range tasks {
		if _, ok := m.active[t.id]; !ok {
			continue
		}
		delete(m.active, t.id)
		m.unindex(t)
		err = multierr.Append(err, t.Close(ctx, clean, r))
	}
	return err
}

// CloseSuspended closes tasks suspended for longer than olderThan
func (m *Manager) CloseSuspended(ctx context.Context, olderThan time.Duration) error {
	now := m.now()

	var err error
	for _, id := range sortedIDs(m.suspended) {
		s := m.suspended[id]
		if now.Sub(s.since) < olderThan {
			continue
		}
		delete(m.suspended, id)
		err = multierr.Append(err, s.task.Close(ctx, true, nil))
	}
	return err
}

func (m *Manager) TaskFor(tp kafka.TopicPartition) (*StreamTask, bool) {
	t, ok := m.byPartition[tp]
	return t, ok
}

// TaskForChangelog returns the active task restoring changelog
func (m *Manager) TaskForChangelog(changelog kafka.TopicPartition) (*StreamTask, bool) {
	for _, t := range m.active {
		for _, tp := range t.changelogs {
			if tp == changelog {
				return t, true
			}
		}
	}
	return nil, false
}

// Active returns the active tasks ordered by id
func (m *Manager) Active() []*StreamTask {
	out := make([]*StreamTask, 0, len(m.active))
	for _, id := range sortedIDs(m.active) {
		out = append(out, m.active[id])
	}
	return out
}

func (m *Manager) Suspended() []*StreamTask {
	out := make([]*StreamTask, 0, len(m.suspended))
	for _, id := range sortedIDs(m.suspended) {
		out = append(out, m.suspended[id].task)
	}
	return out
}

// CloseAll closes every active and suspended task
func (m *Manager) CloseAll(ctx context.Context, clean bool, r ChangelogRegistrar) error {
	err := m.CloseTasks(ctx, m.Active(), clean, r)
	for _, id := range sortedIDs(m.suspended) {
		err = multierr.Append(err, m.suspended[id].task.Close(ctx, clean, r))
		delete(m.suspended, id)
	}
	m.pending = make(map[ID][]kafka.TopicPartition)
	return err
}
