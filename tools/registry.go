package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "tools")

// maxLoggedInput limits the size of arguments written to the log
const maxLoggedInput = 512

// Descriptor describes a registered tool for introspection.
type Descriptor struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description" yaml:"description"`
	InputSchema map[string]any `json:"input_schema" yaml:"input_schema"`
	Enabled     bool           `json:"enabled" yaml:"enabled"`
	Missing     []string       `json:"missing,omitempty" yaml:"missing,omitempty"`
	// Example is a generated input, for tools that provide one.
	Example any `json:"example,omitempty" yaml:"example,omitempty"`
}

// Registry is the table of tools exposed to the agent.
// Tools are registered at startup; the registry is read-only afterwards
// and safe for concurrent calls.
type Registry struct {
	caps     *CapabilityMatrix
	timeout  time.Duration
	callback Callback

	tools  []ITool
	byName map[string]ITool
}

// RegistryOption configures the Registry
type RegistryOption func(*Registry)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithCallback sets the lifecycle callback.
func WithCallback(cb Callback) RegistryOption {
	return func(r *Registry) {
		r.callback = cb
	}
}

// NewRegistry returns an empty registry gated by caps.
func NewRegistry(caps *CapabilityMatrix, opts ...RegistryOption) *Registry {
	if caps == nil {
		caps = NewStaticCapabilityMatrix()
	}
	r := &Registry{
		caps:   caps,
		byName: map[string]ITool{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds tools to the registry.
func (r *Registry) Register(list ...ITool) error {
	for _, t := range list {
		if t == nil {
			return errors.New("tool is nil")
		}
		name := t.Name()
		if name == "" {
			return errors.New("tool name is empty")
		}
		if _, ok := r.byName[name]; ok {
			return errors.Errorf("tool already registered: %s", name)
		}
		r.byName[name] = t
		r.tools = append(r.tools, t)
	}
	return nil
}

// Get returns the tool by name.
func (r *Registry) Get(name string) (ITool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tools returns the registered tools, in registration order.
func (r *Registry) Tools() []ITool {
	return append([]ITool(nil), r.tools...)
}

// Capabilities returns the capability matrix.
func (r *Registry) Capabilities() *CapabilityMatrix {
	return r.caps
}

// List returns the descriptors of the registered tools.
// Disabled tools are listed with the configuration they miss.
func (r *Registry) List() []Descriptor {
	list := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		c := r.caps.Get(t.Name())
		d := Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: schemaMap(t.Parameters()),
			Enabled:     c.Enabled,
			Missing:     c.Missing,
		}
		if ex, ok := t.(Exampler); ok {
			d.Example = ex.Example()
		}
		list = append(list, d)
	}
	return list
}

func schemaMap(params any) map[string]any {
	bs, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(bs, &m)
	return m
}

// Call invokes the named tool with JSON arguments.
// Any returned error is a *toolerr.Error.
func (r *Registry) Call(ctx context.Context, name, input string) (string, error) {
	callID := uuid.NewString()

	tool, ok := r.byName[name]
	if !ok {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		if r.callback != nil {
			r.callback.OnToolNotFound(ctx, name)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"call_id", callID,
			"status", "tool_not_found",
			"tool", name,
		)
		return "", toolerr.Newf(toolerr.KindUnexpected, "unknown tool: %q", name).WithTool(name)
	}

	// the capability gate precedes decoding and validation
	if c := r.caps.Get(name); !c.Enabled {
		metricskey.StatsToolCallsNotInitialized.IncrCounter(1, name)
		te := toolerr.NotInitialized(name, c.Missing...)
		logger.ContextKV(ctx, xlog.WARNING,
			"call_id", callID,
			"status", "not_initialized",
			"tool", name,
			"missing", c.Missing,
		)
		if r.callback != nil {
			r.callback.OnToolError(ctx, tool, input, te)
		}
		return "", te
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"call_id", callID,
		"status", "started",
		"tool", name,
		"input", llmutils.Truncate(input, maxLoggedInput),
	)
	if r.callback != nil {
		r.callback.OnToolStart(ctx, tool, input)
	}

	started := time.Now()
	res, err := tool.Call(ctx, input)
	metricskey.PerfToolCall.MeasureSince(started, name)

	if err != nil {
		te := normalize(err).WithTool(name)
		metricskey.StatsToolCallsFailed.IncrCounter(1, name, string(te.Kind))
		logger.ContextKV(ctx, xlog.ERROR,
			"call_id", callID,
			"status", "failed",
			"tool", name,
			"kind", te.Kind,
			"stage", te.Stage,
			"status_code", te.StatusCode,
			"duration", time.Since(started).String(),
			"err", te.Message,
		)
		if r.callback != nil {
			r.callback.OnToolError(ctx, tool, input, te)
		}
		return "", te
	}

	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"call_id", callID,
		"status", "succeeded",
		"tool", name,
		"duration", time.Since(started).String(),
	)
	if r.callback != nil {
		r.callback.OnToolEnd(ctx, tool, input, res)
	}
	return res, nil
}

func normalize(err error) *toolerr.Error {
	if te, ok := toolerr.As(err); ok {
		return te
	}
	if errors.Is(err, ErrFailedUnmarshalInput) {
		return toolerr.New(toolerr.KindValidation, ErrFailedUnmarshalInput.Error()).WithCause(err)
	}
	return toolerr.Normalize(err)
}
