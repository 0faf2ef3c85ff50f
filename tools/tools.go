package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/effective-security/sops-mcp/toolerr"
)

//go:generate mockgen -source=tools.go -destination=../mocks/mocktools/tools_mock.gen.go -package mocktools -exclude_interfaces=Tool

// Tool names
const (
	WebSearch     = "web_search"
	KBSearch      = "kb_search"
	CreateRequest = "create_request"
)

// Names lists the tools in registration order.
var Names = []string{WebSearch, KBSearch, CreateRequest}

var (
	ErrFailedUnmarshalInput = errors.New("failed to unmarshal input: check the schema and try again")
)

// ITool is a tool for the agent to interact with different applications.
type ITool interface {
	// Name returns the name of the Tool.
	Name() string
	// Description returns the description of the tool, to be shown to the agent.
	Description() string
	// Parameters returns the JSON schema of the tool input.
	Parameters() any

	// Call executes the tool with the given input and returns the result.
	// If the tool fails to parse the input, it should return ErrFailedUnmarshalInput error.
	Call(context.Context, string) (string, error)
}

// Exampler is implemented by tools that can generate a sample input.
type Exampler interface {
	Example() any
}

type Callback interface {
	OnToolStart(context.Context, ITool, string)
	OnToolEnd(context.Context, ITool, string, string)
	OnToolError(context.Context, ITool, string, error)
	OnToolNotFound(context.Context, string)
}

type Tool[I any, O any] interface {
	ITool
	Run(context.Context, *I) (*O, error)
}

// Decode unmarshals the tool arguments.
// Empty input decodes to the zero value, so that required field
// checks report the missing fields. A value of the wrong JSON type
// is reported as a validation error on its field.
func Decode[I any](input string) (*I, error) {
	var req I
	if strings.TrimSpace(input) == "" {
		return &req, nil
	}
	bs := llmutils.CleanJSON([]byte(input))
	if err := json.Unmarshal(bs, &req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, toolerr.Validation(typeErr.Field,
				fmt.Sprintf("invalid %s: expected %s, got %s", typeErr.Field, jsonType(typeErr.Type), typeErr.Value)).
				WithCause(err)
		}
		return nil, errors.WithStack(ErrFailedUnmarshalInput)
	}
	return &req, nil
}

// jsonType returns the JSON name of the Go type expected by a field.
func jsonType(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Struct, reflect.Map:
		return "object"
	}
	return t.String()
}

// Encode returns the JSON result of a tool.
func Encode(v any) (string, error) {
	bs, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal output")
	}
	return string(bs), nil
}

// CallWith decodes the input, runs the tool and encodes the result.
func CallWith[I any, O any](ctx context.Context, t Tool[I, O], input string) (string, error) {
	req, err := Decode[I](input)
	if err != nil {
		return "", err
	}
	out, err := t.Run(ctx, req)
	if err != nil {
		return "", err
	}
	return Encode(out)
}
