package kafka

import (
	"context"
	"fmt"
	"slices"
)

type WatermarkTracker struct {
	consumer Consumer
}

func NewWatermarkTracker(consumer Consumer) *WatermarkTracker {
	return &WatermarkTracker{consumer: consumer}
}

// Snapshot queries low and high watermarks for every partition currently assigned to the consumer.
// Entries are sorted by topic and partition.
func (w *WatermarkTracker) Snapshot(ctx context.Context) ([]WatermarkOffsets, error) {
	assigned := w.consumer.Assignment()

	out := make([]WatermarkOffsets, 0, len(assigned))
	for _, tp := range assigned {
		wm, err := w.consumer.WatermarkOffsets(ctx, tp)
		if err != nil {
			return nil, fmt.Errorf("watermark offsets for %s: %w", tp, err)
		}

		wm.TopicPartition = tp
		if wm.Low < 0 {
			wm.Low = 0
		}
		if wm.High < wm.Low {
			wm.High = wm.Low
		}
		out = append(out, wm)
	}

	slices.SortFunc(
		out, func(a, b WatermarkOffsets) int {
			switch {
			case a.TopicPartition.Less(b.TopicPartition):
				return -1
			case b.TopicPartition.Less(a.TopicPartition):
				return 1
			default:
				return 0
			}
		},
	)

	return out, nil
}
