package metrics

import (
	"strconv"

	"github.com/hugolhafner/go-streams-runtime/runner"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streams"

// HealthSource provides the latest health snapshot of every stream thread
type HealthSource interface {
	Health() []runner.Health
}

var _ prometheus.Collector = (*HealthCollector)(nil)

// HealthCollector exposes thread health snapshots as Prometheus gauges. Values are read
// from the source on every scrape, nothing is cached.
type HealthCollector struct {
	source HealthSource

	threadState   *prometheus.Desc
	taskState     *prometheus.Desc
	restoring     *prometheus.Desc
	lag           *prometheus.Desc
	lowWatermark  *prometheus.Desc
	highWatermark *prometheus.Desc
	committed     *prometheus.Desc
}

func newDesc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func NewHealthCollector(source HealthSource) *HealthCollector {
	partitionLabels := []string{"thread", "topic", "partition"}

	return &HealthCollector{
		source:        source,
		threadState:   newDesc("thread_state", "Set to 1 for the state each stream thread is in", "thread", "state"),
		taskState:     newDesc("task_state", "Set to 1 for the state each active task is in", "thread", "task", "state"),
		restoring:     newDesc("restoring_changelogs", "Changelog partitions still being restored", "thread"),
		lag:           newDesc("partition_lag", "Records between the committed offset and the high watermark", partitionLabels...),
		lowWatermark:  newDesc("partition_low_watermark", "Earliest available offset", partitionLabels...),
		highWatermark: newDesc("partition_high_watermark", "Offset of the next record to be written", partitionLabels...),
		committed:     newDesc("partition_committed_offset", "Last committed offset", partitionLabels...),
	}
}

func (c *HealthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.threadState
	ch <- c.taskState
	ch <- c.restoring
	ch <- c.lag
	ch <- c.lowWatermark
	ch <- c.highWatermark
	ch <- c.committed
}

func (c *HealthCollector) Collect(ch chan<- prometheus.Metric) {
	for _, h := range c.source.Health() {
		ch <- prometheus.MustNewConstMetric(c.threadState, prometheus.GaugeValue, 1, h.Thread, h.State.String())
		ch <- prometheus.MustNewConstMetric(c.restoring, prometheus.GaugeValue, float64(h.Restoring), h.Thread)

		for _, tk := range h.Tasks {
			ch <- prometheus.MustNewConstMetric(
				c.taskState, prometheus.GaugeValue, 1, h.Thread, tk.ID.String(), tk.State.String(),
			)
		}

		for _, p := range h.Partitions {
			partition := strconv.FormatInt(int64(p.Partition), 10)
			ch <- prometheus.MustNewConstMetric(c.lag, prometheus.GaugeValue, float64(p.Lag), h.Thread, p.Topic, partition)
			ch <- prometheus.MustNewConstMetric(c.lowWatermark, prometheus.GaugeValue, float64(p.Low), h.Thread, p.Topic, partition)
			ch <- prometheus.MustNewConstMetric(c.highWatermark, prometheus.GaugeValue, float64(p.High), h.Thread, p.Topic, partition)
			if p.Committed >= 0 {
				ch <- prometheus.MustNewConstMetric(c.committed, prometheus.GaugeValue, float64(p.Committed), h.Thread, p.Topic, partition)
			}
		}
	}
}
