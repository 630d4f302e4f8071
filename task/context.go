package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugolhafner/go-streams-runtime/processor"
	"github.com/hugolhafner/go-streams-runtime/record"
	"github.com/hugolhafner/go-streams-runtime/state"
)

var _ processor.UntypedContext = (*nodeContext)(nil)

type nodeContext struct {
	task       *StreamTask
	nodeName   string
	children   []string
	namedEdges map[string]string // childName -> actual node name
	stores     map[string]struct{}
}

func (c *nodeContext) TaskID() string {
	return c.task.id.String()
}

func (c *nodeContext) Store(name string) (state.KeyValueStore, error) {
	if _, ok := c.stores[name]; !ok {
		return nil, fmt.Errorf("%w: %s is not connected to %s", processor.ErrUnknownStore, name, c.nodeName)
	}

	store, ok := c.task.stores[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", processor.ErrUnknownStore, name)
	}
	return store, nil
}

func (c *nodeContext) Schedule(
	interval time.Duration, typ processor.PunctuationType, fn processor.Punctuator,
) (processor.Cancellable, error) {
	if interval <= 0 {
		return nil, errors.New("punctuation interval must be positive")
	}
	if fn == nil {
		return nil, errors.New("punctuator is nil")
	}

	switch typ {
	case processor.StreamTime:
		return c.task.streamPunctuations.schedule(c.nodeName, interval, c.task.streamTime, fn), nil
	case processor.WallClockTime:
		return c.task.wallPunctuations.schedule(c.nodeName, interval, c.task.config.Now(), fn), nil
	default:
		return nil, fmt.Errorf("unknown punctuation type %s", typ)
	}
}

func (c *nodeContext) StreamTime() time.Time {
	return c.task.streamTime
}

func (c *nodeContext) Forward(ctx context.Context, rec *record.UntypedRecord) error {
	for _, child := range c.children {
		if err := c.task.processAt(ctx, child, rec); err != nil {
			return fmt.Errorf("forward to %s: %w", child, err)
		}
	}
	return nil
}

func (c *nodeContext) ForwardTo(ctx context.Context, childName string, rec *record.UntypedRecord) error {
	actualName, ok := c.namedEdges[childName]
	if !ok {
		return fmt.Errorf("%w: %s", processor.ErrUnknownChild, childName)
	}
	return c.task.processAt(ctx, actualName, rec)
}
