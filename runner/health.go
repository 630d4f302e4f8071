package runner

import (
	"context"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/state"
	"github.com/hugolhafner/go-streams-runtime/task"
)

// PartitionHealth is the position of the thread in one source partition
type PartitionHealth struct {
	kafka.WatermarkOffsets
	// Committed is the last committed offset, -1 before the first commit
	Committed int64
	Lag       int64
}

// Health is a point in time view of a thread, safe to read from any goroutine
type Health struct {
	Thread     string
	State      ThreadState
	Tasks      []task.Info
	Partitions []PartitionHealth
	// Restoring is the number of changelogs still being replayed
	Restoring int
	UpdatedAt time.Time
}

// storeIndex maps store names to the read-only views of the running tasks owning them
type storeIndex map[string][]*state.ReadOnlyView

func (t *StreamThread) Health() Health {
	if h := t.health.Load(); h != nil {
		return *h
	}
	return Health{Thread: t.name, State: t.State()}
}

// Stores returns read-only views of every running task's instance of the named store
func (t *StreamThread) Stores(name string) []*state.ReadOnlyView {
	idx := t.stores.Load()
	if idx == nil {
		return nil
	}
	return (*idx)[name]
}

// publishStores refreshes the views handed to queries. Only RUNNING tasks are included.
func (t *StreamThread) publishStores() {
	idx := make(storeIndex)
	for _, tk := range t.tasks.Active() {
		if tk.State() != task.StateRunning {
			continue
		}
		for _, name := range t.topology.Subtopologies()[tk.ID().Group].Stores {
			if s, ok := tk.Store(name); ok {
				idx[name] = append(idx[name], s.ReadOnly())
			}
		}
	}
	t.stores.Store(&idx)
}

// publishHealth stores a new snapshot. Watermarks are only queried when refresh is set.
func (t *StreamThread) publishHealth(refresh bool) {
	now := t.config.Now()

	prev := t.health.Load()
	partitions := []PartitionHealth(nil)
	if prev != nil {
		partitions = prev.Partitions
	}

	if refresh {
		ctx, cancel := context.WithTimeout(context.Background(), t.config.PollTimeout+time.Second)
		wms, err := t.watermarks.Snapshot(ctx)
		cancel()

		if err != nil {
			t.logger.Debug("Failed to refresh watermarks", "error", err)
		} else {
			partitions = make([]PartitionHealth, 0, len(wms))
			for _, wm := range wms {
				committed, ok := t.committed[wm.TopicPartition]
				if !ok {
					committed = -1
				}
				partitions = append(
					partitions, PartitionHealth{WatermarkOffsets: wm, Committed: committed, Lag: wm.Lag(committed)},
				)
			}
			t.lastHealthRefresh = now
		}
	}

	active := t.tasks.Active()
	tasks := make([]task.Info, 0, len(active))
	for _, tk := range active {
		tasks = append(tasks, tk.Info())
	}

	t.health.Store(
		&Health{
			Thread:     t.name,
			State:      t.State(),
			Tasks:      tasks,
			Partitions: partitions,
			Restoring:  t.restorer.Restoring(),
			UpdatedAt:  now,
		},
	)
}
