package callbacks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/tools"
)

var TimeNowFn = time.Now

// ToolStats holds the counters of a single tool.
type ToolStats struct {
	Tool      string                  `json:"tool" yaml:"tool"`
	Calls     uint32                  `json:"calls" yaml:"calls"`
	Succeeded uint32                  `json:"succeeded" yaml:"succeeded"`
	Failed    uint32                  `json:"failed" yaml:"failed"`
	ByKind    map[toolerr.Kind]uint32 `json:"by_kind,omitempty" yaml:"by_kind,omitempty"`
}

// Stats is a callback that counts tool calls and failures by kind,
// to be reported when the server stops.
type Stats struct {
	lock     sync.Mutex
	started  time.Time
	tools    map[string]*ToolStats
	notFound uint32
}

func NewStats() *Stats {
	return &Stats{
		started: TimeNowFn(),
		tools:   map[string]*ToolStats{},
	}
}

func (s *Stats) get(name string) *ToolStats {
	ts := s.tools[name]
	if ts == nil {
		ts = &ToolStats{Tool: name}
		s.tools[name] = ts
	}
	return ts
}

func (s *Stats) OnToolStart(ctx context.Context, tool tools.ITool, input string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.get(tool.Name()).Calls++
}

func (s *Stats) OnToolEnd(ctx context.Context, tool tools.ITool, input string, output string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.get(tool.Name()).Succeeded++
}

// OnToolError counts the failure. Calls rejected before start,
// such as not initialized, are counted as calls too.
func (s *Stats) OnToolError(ctx context.Context, tool tools.ITool, input string, err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	ts := s.get(tool.Name())
	kind := toolerr.KindOf(err)
	if kind == toolerr.KindNotInitialized {
		ts.Calls++
	}
	ts.Failed++
	if ts.ByKind == nil {
		ts.ByKind = map[toolerr.Kind]uint32{}
	}
	ts.ByKind[kind]++
}

func (s *Stats) OnToolNotFound(ctx context.Context, tool string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.notFound++
}

// Snapshot returns a copy of the counters, sorted by tool name.
func (s *Stats) Snapshot() []ToolStats {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]ToolStats, 0, len(s.tools))
	for _, ts := range s.tools {
		c := *ts
		if ts.ByKind != nil {
			c.ByKind = make(map[toolerr.Kind]uint32, len(ts.ByKind))
			for k, v := range ts.ByKind {
				c.ByKind[k] = v
			}
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Tool < list[j].Tool
	})
	return list
}

// NotFound returns the number of calls to unknown tools.
func (s *Stats) NotFound() uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.notFound
}

// Uptime returns the time since the Stats was created.
func (s *Stats) Uptime() time.Duration {
	return TimeNowFn().Sub(s.started)
}
