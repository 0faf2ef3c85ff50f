package tools_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/mocks/mockticketing"
	"github.com/effective-security/sops-mcp/mocks/mocktools"
	"github.com/effective-security/sops-mcp/pkg/schema"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/tools/ticketing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type echoRequest struct {
	Text string `json:"text" jsonschema:"title=Text,description=Text to echo"`
}

var echoRequestType = reflect.TypeOf(echoRequest{})

func mockTool(ctrl *gomock.Controller, name string) *mocktools.MockITool {
	sc, err := schema.New(echoRequestType)
	if err != nil {
		panic(err)
	}
	t := mocktools.NewMockITool(ctrl)
	t.EXPECT().Name().Return(name).AnyTimes()
	t.EXPECT().Description().Return("test tool " + name).AnyTimes()
	t.EXPECT().Parameters().Return(sc.Parameters).AnyTimes()
	return t
}

func TestRegistry_NotInitialized(t *testing.T) {
	ctrl := gomock.NewController(t)

	// no Call expectation: any downstream call fails the test
	tool := mockTool(ctrl, tools.CreateRequest)
	cb := mocktools.NewMockCallback(ctrl)
	cb.EXPECT().OnToolError(gomock.Any(), tool, `{"subject":""}`, gomock.Any()).Times(1)

	caps := tools.NewStaticCapabilityMatrix(tools.Capability{
		Tool:    tools.CreateRequest,
		Missing: []string{"REQUEST_ACCESS_TOKEN"},
	})
	r := tools.NewRegistry(caps, tools.WithCallback(cb))
	require.NoError(t, r.Register(tool))

	// invalid input still reports the configuration problem
	_, err := r.Call(context.Background(), tools.CreateRequest, `{"subject":""}`)
	require.Error(t, err)

	te, ok := toolerr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolerr.KindNotInitialized, te.Kind)
	assert.Equal(t, tools.CreateRequest, te.Tool)
	assert.Equal(t, "create_request is not initialized: missing REQUEST_ACCESS_TOKEN", te.Message)
}

func TestRegistry_Call(t *testing.T) {
	ctrl := gomock.NewController(t)

	tool := mockTool(ctrl, tools.WebSearch)
	cb := mocktools.NewMockCallback(ctrl)

	caps := tools.NewStaticCapabilityMatrix(tools.Capability{Tool: tools.WebSearch, Enabled: true})
	r := tools.NewRegistry(caps, tools.WithCallback(cb), tools.WithTimeout(time.Second))
	require.NoError(t, r.Register(tool))

	got, ok := r.Get(tools.WebSearch)
	assert.True(t, ok)
	assert.Equal(t, tool, got)
	assert.Len(t, r.Tools(), 1)
	assert.Same(t, caps, r.Capabilities())

	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		cb.EXPECT().OnToolStart(gomock.Any(), tool, `{"text":"hi"}`)
		tool.EXPECT().Call(gomock.Any(), `{"text":"hi"}`).Return(`{"text":"hi"}`, nil)
		cb.EXPECT().OnToolEnd(gomock.Any(), tool, `{"text":"hi"}`, `{"text":"hi"}`)

		res, err := r.Call(ctx, tools.WebSearch, `{"text":"hi"}`)
		require.NoError(t, err)
		assert.Equal(t, `{"text":"hi"}`, res)
	})

	t.Run("unmarshal", func(t *testing.T) {
		cb.EXPECT().OnToolStart(gomock.Any(), tool, "plain string")
		tool.EXPECT().Call(gomock.Any(), "plain string").Return("", errors.WithStack(tools.ErrFailedUnmarshalInput))
		cb.EXPECT().OnToolError(gomock.Any(), tool, "plain string", gomock.Any())

		_, err := r.Call(ctx, tools.WebSearch, "plain string")
		require.Error(t, err)
		assert.True(t, toolerr.IsKind(err, toolerr.KindValidation))
		assert.EqualError(t, err, "validation_error: failed to unmarshal input: check the schema and try again")
	})

	t.Run("status", func(t *testing.T) {
		cb.EXPECT().OnToolStart(gomock.Any(), tool, "{}")
		tool.EXPECT().Call(gomock.Any(), "{}").Return("", toolerr.FromStatus(401, nil))
		cb.EXPECT().OnToolError(gomock.Any(), tool, "{}", gomock.Any())

		_, err := r.Call(ctx, tools.WebSearch, "{}")
		te, ok := toolerr.As(err)
		require.True(t, ok)
		assert.Equal(t, toolerr.KindAuth, te.Kind)
		assert.Equal(t, tools.WebSearch, te.Tool)
		assert.Equal(t, 401, te.StatusCode)
	})

	t.Run("unexpected", func(t *testing.T) {
		cb.EXPECT().OnToolStart(gomock.Any(), tool, "{}")
		tool.EXPECT().Call(gomock.Any(), "{}").Return("", errors.New("boom"))
		cb.EXPECT().OnToolError(gomock.Any(), tool, "{}", gomock.Any())

		_, err := r.Call(ctx, tools.WebSearch, "{}")
		assert.True(t, toolerr.IsKind(err, toolerr.KindUnexpected))
		assert.EqualError(t, err, "unexpected_error: unexpected error: boom")
	})

	t.Run("not_found", func(t *testing.T) {
		cb.EXPECT().OnToolNotFound(gomock.Any(), "missing")

		_, err := r.Call(ctx, "missing", "{}")
		assert.True(t, toolerr.IsKind(err, toolerr.KindUnexpected))
		assert.EqualError(t, err, `unexpected_error: unknown tool: "missing"`)
	})
}

func TestRegistry_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)

	tool := mockTool(ctrl, tools.KBSearch)
	tool.EXPECT().Call(gomock.Any(), "{}").DoAndReturn(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", errors.WithStack(ctx.Err())
	})

	caps := tools.NewStaticCapabilityMatrix(tools.Capability{Tool: tools.KBSearch, Enabled: true})
	r := tools.NewRegistry(caps, tools.WithTimeout(20*time.Millisecond))
	require.NoError(t, r.Register(tool))

	_, err := r.Call(context.Background(), tools.KBSearch, "{}")
	te, ok := toolerr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolerr.KindNetwork, te.Kind)
	assert.True(t, te.Retryable)
	assert.Contains(t, te.Message, "timeout")
}

func TestRegistry_Register(t *testing.T) {
	ctrl := gomock.NewController(t)

	r := tools.NewRegistry(nil)
	require.NoError(t, r.Register(mockTool(ctrl, tools.WebSearch)))
	assert.EqualError(t, r.Register(mockTool(ctrl, tools.WebSearch)), "tool already registered: web_search")
	assert.EqualError(t, r.Register(mockTool(ctrl, "")), "tool name is empty")
	assert.EqualError(t, r.Register(nil), "tool is nil")

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, tools.WebSearch, list[0].Name)
	assert.False(t, list[0].Enabled)
	assert.Equal(t, "object", list[0].InputSchema["type"])
}

func TestDecode(t *testing.T) {
	t.Parallel()

	req, err := tools.Decode[echoRequest]("```json\n{\"text\":\"hi\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Text)

	req, err = tools.Decode[echoRequest]("  ")
	require.NoError(t, err)
	assert.Empty(t, req.Text)

	_, err = tools.Decode[echoRequest]("plain string")
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	_, err = tools.Decode[echoRequest](`{"text": 1}`)
	te, ok := toolerr.As(err)
	require.True(t, ok)
	assert.Equal(t, toolerr.KindValidation, te.Kind)
	assert.Equal(t, "text", te.Field)
	assert.Equal(t, "invalid text: expected string, got number", te.Message)

	_, err = tools.Decode[echoRequest](`"text"`)
	assert.True(t, errors.Is(err, tools.ErrFailedUnmarshalInput))

	s, err := tools.Encode(req)
	require.NoError(t, err)
	assert.Equal(t, `{"text":""}`, s)
}

func TestRegistry_WrongArgumentType(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	// no Create expectation: a decoding failure never reaches the adapter
	createRequest, err := ticketing.New(mockticketing.NewMockCreator(ctrl))
	require.NoError(t, err)

	caps := tools.NewStaticCapabilityMatrix(tools.Capability{Tool: tools.CreateRequest, Enabled: true})
	r := tools.NewRegistry(caps)
	require.NoError(t, r.Register(createRequest))

	tcs := []struct {
		input string
		field string
		msg   string
	}{
		{
			input: `{"subject":"x","requester_email":"a@b.com","priority":5}`,
			field: "priority",
			msg:   "invalid priority: expected string, got number",
		},
		{
			input: `{"subject":"x","requester_email":"a@b.com","cc":"c@d.com"}`,
			field: "cc",
			msg:   "invalid cc: expected array, got string",
		},
		{
			input: `{"subject":123,"requester_email":"a@b.com"}`,
			field: "subject",
			msg:   "invalid subject: expected string, got number",
		},
		{
			input: `{"subject":"x","requester_email":"a@b.com","spam":"no"}`,
			field: "spam",
			msg:   "invalid spam: expected boolean, got string",
		},
	}
	for _, tc := range tcs {
		_, err := r.Call(context.Background(), tools.CreateRequest, tc.input)
		te, ok := toolerr.As(err)
		require.True(t, ok, tc.input)
		assert.Equal(t, toolerr.KindValidation, te.Kind, tc.input)
		assert.Equal(t, tc.field, te.Field, tc.input)
		assert.Equal(t, tc.msg, te.Message, tc.input)
		assert.Equal(t, tools.CreateRequest, te.Tool, tc.input)
	}
}
