package runner

import (
	"context"
	"fmt"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

// The callbacks run inside Consume on the thread goroutine. Their context is the poll
// context, so work done here must not be cut short by a shutdown in progress.

func (t *StreamThread) OnPartitionsAssigned(ctx context.Context, partitions []kafka.TopicPartition) {
	t.setState(StatePartitionsAssigned)
	work := context.WithoutCancel(ctx)

	before := len(t.tasks.Active())
	t.forget(partitions)
	if err := t.tasks.Assign(work, partitions, t.restorer); err != nil {
		t.fail(fmt.Errorf("assign partitions: %w", err))
	}
	t.taskCountChanged(work, len(t.tasks.Active())-before)

	t.syncPaused(partitions)
	t.publishStores()

	t.logger.Info(
		"Partitions assigned",
		"partitions", partitions,
		"tasks", len(t.tasks.Active()),
		"pending", t.tasks.Pending(),
	)
}

// OnPartitionsRevoked commits the revoked tasks and suspends them. Buffered records of the
// partitions are dropped, they are fetched again from the committed offset by the next owner.
func (t *StreamThread) OnPartitionsRevoked(ctx context.Context, partitions []kafka.TopicPartition) {
	t.setState(StatePartitionsRevoked)
	work := context.WithoutCancel(ctx)

	if n := t.puller.Discard(partitions...); n > 0 {
		t.logger.Debug("Discarded pulled records of revoked partitions", "records", n)
	}

	revoked := t.tasks.TasksFor(partitions)
	if _, err := t.commit(work, revoked); err != nil {
		t.fail(fmt.Errorf("commit revoked tasks: %w", err))
	}

	before := len(t.tasks.Active())
	if err := t.tasks.Suspend(revoked, t.restorer); err != nil {
		t.logger.Warn("Failed to suspend tasks", "error", err)
	}
	t.taskCountChanged(work, len(t.tasks.Active())-before)

	t.forget(partitions)
	t.publishStores()

	t.logger.Info("Partitions revoked", "partitions", partitions, "tasks", len(revoked))
}

// OnPartitionsLost closes the tasks without committing, another member may already own them
func (t *StreamThread) OnPartitionsLost(ctx context.Context, partitions []kafka.TopicPartition) {
	t.setState(StatePartitionsRevoked)
	work := context.WithoutCancel(ctx)

	t.puller.Discard(partitions...)

	lost := t.tasks.TasksFor(partitions)
	if err := t.tasks.CloseTasks(work, lost, false, t.restorer); err != nil {
		t.logger.Warn("Failed to close lost tasks", "error", err)
	}
	t.taskCountChanged(work, -len(lost))

	t.forget(partitions)
	t.publishStores()

	t.logger.Warn("Partitions lost", "partitions", partitions, "tasks", len(lost))
}

// fail records the first error raised where it cannot be returned
func (t *StreamThread) fail(err error) {
	t.logger.Error("Stream thread failure", "error", err)
	if t.fatal == nil {
		t.fatal = err
	}
}
