package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniyakcom/dsui/core"
)

// TestOptionsDefaults 测试零值选项补全默认值
func TestOptionsDefaults(t *testing.T) {
	var o Options
	require.NoError(t, o.Validate())
	assert.Equal(t, DefaultOptions(), o)
	assert.Equal(t, o.PageSize, o.Arena().PageSize)
}

// TestOptionsValidate 测试非法运行时选项被拒绝
func TestOptionsValidate(t *testing.T) {
	bad := []Options{
		{PageSize: 10},
		{InitialPages: -1},
		{InitialPages: 8, MaxPages: 4},
		{Workers: -1},
		{ShutdownTimeout: -time.Second},
	}
	for i, o := range bad {
		assert.ErrorIs(t, o.Validate(), core.ErrInvalidConfig, "case %d", i)
	}
}

// TestPresets 测试预设按名称返回副本，未知名称回落到 normal
func TestPresets(t *testing.T) {
	for name := range Presets {
		p := Preset(name)
		assert.Equal(t, name, p.Name)
		p.Rate = -1
		assert.NotEqual(t, -1, Preset(name).Rate, "Preset must return a copy")
	}
	assert.Equal(t, "normal", Preset("nope").Name)
}

// TestAdvise 测试按负载给出的缓存建议
func TestAdvise(t *testing.T) {
	a := NewAdvisor(4096)

	assert.Equal(t, Stream{CacheSize: 0, Mode: core.ModeNormal}, a.Advise(Direct()))
	assert.Equal(t, Stream{CacheSize: 16, Mode: core.ModeRing}, a.Advise(Ring()))

	// 100k/s * 10ms * 60B = 60000B → 15 页
	s := a.Advise(Normal())
	assert.Equal(t, core.ModeNormal, s.Mode)
	assert.Equal(t, 15, s.CacheSize)

	hot := Normal()
	hot.Rate = 100_000_000
	assert.Equal(t, maxCache, a.Advise(hot).CacheSize)

	cold := Normal()
	cold.Rate = 1
	assert.Equal(t, minCache, a.Advise(cold).CacheSize)
	assert.NoError(t, a.Advise(nil).Validate())
}

// TestEntityState 测试实体配置转换为直方图启用参数
func TestEntityState(t *testing.T) {
	e := Entity{Histogram: Histogram{LowerBound: 1, UpperBound: 9, Buckets: 4, TuneAmount: 2}}
	st := e.State()
	assert.Equal(t, int64(1), st.Histogram.LowerBound)
	assert.Equal(t, int64(9), st.Histogram.UpperBound)
	assert.Equal(t, 4, st.Histogram.Buckets)
	assert.Equal(t, 2, st.Histogram.TuneAmount)
}

const sample = `
runtime:
  page_size: 4096
  workers: 4
  shutdown_timeout: 3s
sinks:
  - name: trace
    type: file
    path: /tmp/trace.dsui
    compress: true
  - name: collector
    type: socket
    host: 127.0.0.1
    port: 9000
streams:
  - name: main
    sink: trace
    profile: normal
    enable:
      - {group: app, name: requests, kind: counter}
      - group: app
        name: latency
        kind: histogram
        histogram: {buckets: 10, tune_amount: 100}
      - {group: app, name: tick}
  - name: recorder
    sink: collector
    mode: ring
    cache_size: 8
`

// TestParse 测试 YAML 配置解析
func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 4096, f.Runtime.PageSize)
	assert.Equal(t, 4, f.Runtime.Workers)
	assert.Equal(t, 3*time.Second, f.Runtime.ShutdownTimeout)
	assert.Equal(t, DefaultOptions().InitialPages, f.Runtime.InitialPages)

	require.Len(t, f.Sinks, 2)
	assert.True(t, f.Sinks[0].Compress)
	assert.Equal(t, 9000, f.Sinks[1].Port)

	require.Len(t, f.Streams, 2)
	main := f.Streams[0]
	require.Len(t, main.Enable, 3)
	assert.Equal(t, core.KindCounter, main.Enable[0].Kind)
	assert.Equal(t, core.KindHistogram, main.Enable[1].Kind)
	assert.Equal(t, 100, main.Enable[1].Entity().Histogram.TuneAmount)
	assert.Equal(t, core.KindEvent, main.Enable[2].Kind)

	adv := NewAdvisor(f.Runtime.PageSize)
	assert.Equal(t, core.ModeNormal, main.Resolve(adv).Mode)
	rec := f.Streams[1].Resolve(adv)
	assert.Equal(t, Stream{CacheSize: 8, Mode: core.ModeRing}, rec)
}

// TestParseErrors 测试非法 YAML 配置报错
func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field": "bogus: 1\n",
		"bad mode":      "sinks: [{name: a, type: file, path: x}]\nstreams: [{sink: a, mode: sideways}]\n",
		"bad kind":      "sinks: [{name: a, type: file, path: x}]\nstreams: [{sink: a, enable: [{name: x, kind: gauge}]}]\n",
		"dup sink":      "sinks: [{name: a, type: file, path: x}, {name: a, type: file, path: y}]\n",
		"sink type":     "sinks: [{name: a, type: pigeon}]\n",
		"no path":       "sinks: [{name: a, type: file}]\n",
		"bad port":      "sinks: [{name: a, type: socket, host: h, port: 70000}]\n",
		"ring direct":   "sinks: [{name: a, type: file, path: x}]\nstreams: [{sink: a, mode: ring, cache_size: 0}]\n",
		"bad profile":   "sinks: [{name: a, type: file, path: x}]\nstreams: [{sink: a, profile: turbo}]\n",
		"empty ip":      "sinks: [{name: a, type: file, path: x}]\nstreams: [{sink: a, enable: [{group: g}]}]\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, core.ErrInvalidConfig, name)
	}

	_, err := Parse([]byte("streams: [{sink: missing}]\n"))
	assert.ErrorIs(t, err, core.ErrUnknownSink)
}

// TestLoad 测试从文件加载配置
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsui.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Streams, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
