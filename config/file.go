package config

import (
	"bytes"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/uniyakcom/dsui/core"
)

// Sink 类型
const (
	SinkFile   = "file"
	SinkSocket = "socket"
)

// File YAML 配置文件
//
//	runtime:
//	  page_size: 32768
//	  workers: 8
//	sinks:
//	  - name: trace
//	    type: file
//	    path: /tmp/app.dsui
//	streams:
//	  - name: main
//	    sink: trace
//	    profile: normal
//	    enable:
//	      - {group: app, name: requests, kind: counter}
type File struct {
	Runtime Options      `yaml:"runtime"`
	Sinks   []SinkSpec   `yaml:"sinks"`
	Streams []StreamSpec `yaml:"streams"`
}

// SinkSpec 输出目标
type SinkSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // file | socket
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"` // 仅 file：zstd 压缩
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
}

// StreamSpec 一个 Stream 及其启用的埋点
//
// profile 给出基础缓冲配置，cache_size / mode 显式出现时覆盖之。
type StreamSpec struct {
	Name      string       `yaml:"name"`
	Sink      string       `yaml:"sink"`
	Profile   string       `yaml:"profile"`
	CacheSize *int         `yaml:"cache_size"`
	Mode      *core.Mode   `yaml:"mode"`
	Enable    []EnableSpec `yaml:"enable"`
}

// EnableSpec 在 Stream 上启用（并按需注册）一个埋点
type EnableSpec struct {
	Group     string    `yaml:"group"`
	Name      string    `yaml:"name"`
	Kind      core.Kind `yaml:"kind"`
	Info      string    `yaml:"info"`
	Histogram Histogram `yaml:"histogram"`
}

// Entity 实体配置
func (e EnableSpec) Entity() Entity { return Entity{Histogram: e.Histogram} }

// Resolve 由 profile 与显式字段得到最终 Stream 配置
func (s StreamSpec) Resolve(a *Advisor) Stream {
	var out Stream
	if s.Profile != "" {
		out = a.Advise(Preset(s.Profile))
	} else {
		out = a.Advise(Normal())
	}
	if s.Mode != nil {
		out.Mode = *s.Mode
	}
	if s.CacheSize != nil {
		out.CacheSize = *s.CacheSize
	}
	return out
}

// Load 读取并解析 YAML 文件
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap("config.Load", err)
	}
	return Parse(data)
}

// Parse 解析 YAML（未知字段视为错误），补全默认值并校验
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, core.Errorf("config.Parse", core.ErrInvalidConfig, "%v", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate 校验引用关系与取值范围
func (f *File) Validate() error {
	const op = "config.File"
	if err := f.Runtime.Validate(); err != nil {
		return err
	}
	sinks := make(map[string]bool, len(f.Sinks))
	for i, s := range f.Sinks {
		if s.Name == "" {
			return core.Errorf(op, core.ErrInvalidConfig, "sinks[%d]: empty name", i)
		}
		if sinks[s.Name] {
			return core.Errorf(op, core.ErrInvalidConfig, "sink %q defined twice", s.Name)
		}
		sinks[s.Name] = true
		switch s.Type {
		case SinkFile:
			if s.Path == "" {
				return core.Errorf(op, core.ErrInvalidConfig, "sink %q: empty path", s.Name)
			}
		case SinkSocket:
			if s.Host == "" || s.Port <= 0 || s.Port > 65535 {
				return core.Errorf(op, core.ErrInvalidConfig, "sink %q: bad address %s:%d", s.Name, s.Host, s.Port)
			}
		default:
			return core.Errorf(op, core.ErrInvalidConfig, "sink %q: unknown type %q", s.Name, s.Type)
		}
	}

	adv := NewAdvisor(f.Runtime.PageSize)
	for i, s := range f.Streams {
		if !sinks[s.Sink] {
			return core.Errorf(op, core.ErrUnknownSink, "streams[%d]: sink %q", i, s.Sink)
		}
		if s.Profile != "" {
			if _, ok := Presets[s.Profile]; !ok {
				return core.Errorf(op, core.ErrInvalidConfig, "streams[%d]: unknown profile %q", i, s.Profile)
			}
		}
		if err := s.Resolve(adv).Validate(); err != nil {
			return err
		}
		for j, e := range s.Enable {
			if e.Name == "" {
				return core.Errorf(op, core.ErrInvalidConfig, "streams[%d].enable[%d]: empty name", i, j)
			}
			if e.Kind == 0 {
				f.Streams[i].Enable[j].Kind = core.KindEvent
			}
		}
	}
	return nil
}
