package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniyakcom/dsui/core"
)

type fixedSource core.Stats

func (f fixedSource) Stats() core.Stats { return core.Stats(f) }

func sampleStats() core.Stats {
	return core.Stats{
		IPs:   3,
		Arena: core.ArenaStats{PageSize: 4096, Pages: 8, Free: 5, CheckedOut: 3, Expansions: 2},
		Streams: []core.StreamStats{
			{ID: 1, Sink: "trace.dsui", Mode: core.ModeNormal, Logged: 120, Blocked: 4, Cached: 3, Enabled: 2, Refilled: 11},
			{ID: 2, Sink: "trace.dsui", Mode: core.ModeRing, Logged: 7, Overwritten: 9},
		},
		Writers: []core.WriterStats{
			{Name: "trace.dsui", Bytes: 4096, Buffers: 1, Failed: true},
		},
	}
}

// TestCollector 测试指标按 Stream / sink 标签导出
func TestCollector(t *testing.T) {
	c := NewCollector(fixedSource(sampleStats()))
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP dsui_stream_logged_total Records logged
# TYPE dsui_stream_logged_total counter
dsui_stream_logged_total{mode="normal",sink="trace.dsui",stream="1"} 120
dsui_stream_logged_total{mode="ring",sink="trace.dsui",stream="2"} 7
# HELP dsui_stream_refilled_buffers_total Buffers added to the cache by the replenisher
# TYPE dsui_stream_refilled_buffers_total counter
dsui_stream_refilled_buffers_total{mode="normal",sink="trace.dsui",stream="1"} 11
dsui_stream_refilled_buffers_total{mode="ring",sink="trace.dsui",stream="2"} 0
# HELP dsui_writer_failed 1 if the sink has failed
# TYPE dsui_writer_failed gauge
dsui_writer_failed{sink="trace.dsui"} 1
# HELP dsui_arena_pages Total pages owned by the buffer arena
# TYPE dsui_arena_pages gauge
dsui_arena_pages 8
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dsui_stream_logged_total", "dsui_stream_refilled_buffers_total", "dsui_writer_failed", "dsui_arena_pages")
	assert.NoError(t, err)
}

// TestCollectorLint 测试指标命名通过 lint 且数量正确
func TestCollectorLint(t *testing.T) {
	c := NewCollector(fixedSource(sampleStats()))
	problems, err := testutil.CollectAndLint(c)
	require.NoError(t, err)
	assert.Empty(t, problems)
	// 1 ip + 5 arena + 8*2 stream + 5 writer
	assert.Equal(t, 27, testutil.CollectAndCount(c))
}
