// Package metrics 把 dsui 运行时统计导出为 Prometheus 指标
//
// Collector 在每次抓取时读取一次统计快照，不在日志热路径上做任何额外工作。
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uniyakcom/dsui/core"
)

const namespace = "dsui"

// Source 统计来源（*dsui.Runtime 实现）
type Source interface {
	Stats() core.Stats
}

// Collector prometheus.Collector 实现
type Collector struct {
	src Source

	ips *prometheus.Desc

	arenaPages       *prometheus.Desc
	arenaFree        *prometheus.Desc
	arenaExpansions  *prometheus.Desc
	arenaExhausted   *prometheus.Desc
	arenaBadReleases *prometheus.Desc

	streamLogged      *prometheus.Desc
	streamBlocked     *prometheus.Desc
	streamFiltered    *prometheus.Desc
	streamDropped     *prometheus.Desc
	streamOverwritten *prometheus.Desc
	streamCached      *prometheus.Desc
	streamEnabled     *prometheus.Desc
	streamRefilled    *prometheus.Desc

	writerBytes   *prometheus.Desc
	writerBuffers *prometheus.Desc
	writerDropped *prometheus.Desc
	writerPending *prometheus.Desc
	writerFailed  *prometheus.Desc
}

// NewCollector 创建 Collector
func NewCollector(src Source) *Collector {
	desc := func(sub, name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, labels, nil)
	}
	streamLabels := []string{"stream", "sink", "mode"}
	return &Collector{
		src: src,
		ips: desc("", "instrumentation_points", "Number of registered instrumentation points"),

		arenaPages:       desc("arena", "pages", "Total pages owned by the buffer arena"),
		arenaFree:        desc("arena", "free_pages", "Pages currently on the arena free list"),
		arenaExpansions:  desc("arena", "expansions_total", "Times the arena doubled its capacity"),
		arenaExhausted:   desc("arena", "exhausted_total", "Acquire calls that failed at the page limit"),
		arenaBadReleases: desc("arena", "bad_releases_total", "Double or foreign buffer releases"),

		streamLogged:      desc("stream", "logged_total", "Records logged", streamLabels...),
		streamBlocked:     desc("stream", "blocked_total", "Synchronous cache refills on the logging path", streamLabels...),
		streamFiltered:    desc("stream", "filtered_total", "Events dropped by the pre-filter", streamLabels...),
		streamDropped:     desc("stream", "dropped_total", "Events dropped on allocation or sink failure", streamLabels...),
		streamOverwritten: desc("stream", "overwritten_total", "Ring buffers overwritten before output", streamLabels...),
		streamCached:      desc("stream", "cached_buffers", "Buffers currently in the stream cache", streamLabels...),
		streamEnabled:     desc("stream", "enabled_entities", "Entities enabled on the stream", streamLabels...),
		streamRefilled:    desc("stream", "refilled_buffers_total", "Buffers added to the cache by the replenisher", streamLabels...),

		writerBytes:   desc("writer", "bytes_total", "Bytes written to the sink", "sink"),
		writerBuffers: desc("writer", "buffers_total", "Buffers written to the sink", "sink"),
		writerDropped: desc("writer", "dropped_buffers_total", "Buffers discarded after a sink failure", "sink"),
		writerPending: desc("writer", "pending_buffers", "Buffers queued but not yet written", "sink"),
		writerFailed:  desc("writer", "failed", "1 if the sink has failed", "sink"),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ips,
		c.arenaPages, c.arenaFree, c.arenaExpansions, c.arenaExhausted, c.arenaBadReleases,
		c.streamLogged, c.streamBlocked, c.streamFiltered, c.streamDropped, c.streamOverwritten,
		c.streamCached, c.streamEnabled, c.streamRefilled,
		c.writerBytes, c.writerBuffers, c.writerDropped, c.writerPending, c.writerFailed,
	} {
		ch <- d
	}
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.ips, float64(st.IPs))

	a := st.Arena
	gauge(c.arenaPages, float64(a.Pages))
	gauge(c.arenaFree, float64(a.Free))
	counter(c.arenaExpansions, float64(a.Expansions))
	counter(c.arenaExhausted, float64(a.Exhausted))
	counter(c.arenaBadReleases, float64(a.BadReleases))

	for _, s := range st.Streams {
		l := []string{strconv.FormatUint(uint64(s.ID), 10), s.Sink, s.Mode.String()}
		counter(c.streamLogged, float64(s.Logged), l...)
		counter(c.streamBlocked, float64(s.Blocked), l...)
		counter(c.streamFiltered, float64(s.Filtered), l...)
		counter(c.streamDropped, float64(s.Dropped), l...)
		counter(c.streamOverwritten, float64(s.Overwritten), l...)
		gauge(c.streamCached, float64(s.Cached), l...)
		gauge(c.streamEnabled, float64(s.Enabled), l...)
		counter(c.streamRefilled, float64(s.Refilled), l...)
	}

	for _, w := range st.Writers {
		counter(c.writerBytes, float64(w.Bytes), w.Name)
		counter(c.writerBuffers, float64(w.Buffers), w.Name)
		counter(c.writerDropped, float64(w.Dropped), w.Name)
		gauge(c.writerPending, float64(w.Pending), w.Name)
		failed := 0.0
		if w.Failed {
			failed = 1
		}
		gauge(c.writerFailed, failed, w.Name)
	}
}
