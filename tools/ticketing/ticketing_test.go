package ticketing_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/mocks/mockticketing"
	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/tools/ticketing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTool(t *testing.T, server *httptest.Server) *ticketing.Tool {
	client := ticketing.NewClient(config.TicketingConfig{
		BaseURL:     server.URL + "/",
		AccessToken: "token-123",
	}).WithHTTPClient(server.Client())
	tool, err := ticketing.New(client)
	require.NoError(t, err)
	return tool
}

func validRequest() *ticketing.CreateRequest {
	return &ticketing.CreateRequest{
		Subject:        gofakeit.HackerPhrase(),
		RequesterEmail: gofakeit.Email(),
	}
}

func TestTool(t *testing.T) {
	t.Parallel()

	_, err := ticketing.New(nil)
	assert.EqualError(t, err, "creator is required")

	ctrl := gomock.NewController(t)
	tool, err := ticketing.New(mockticketing.NewMockCreator(ctrl))
	require.NoError(t, err)

	assert.Equal(t, tools.CreateRequest, tool.Name())
	assert.Contains(t, tool.Description(), "service desk")

	params := llmutils.ToJSON(tool.Parameters())
	assert.Contains(t, params, `"required":["subject","requester_email"]`)
	assert.Contains(t, params, `"enum":["low","medium","high","urgent"]`)
	assert.Contains(t, params, `"enum":["tier1","tier2","tier3","tier4"]`)
}

func TestValidation(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	creator := mockticketing.NewMockCreator(ctrl)
	creator.EXPECT().Create(gomock.Any(), gomock.Any()).Times(0)

	tool, err := ticketing.New(creator)
	require.NoError(t, err)

	tcs := []struct {
		input string
		field string
		msg   string
	}{
		{input: `{}`, field: "subject", msg: "subject is required and cannot be empty"},
		{input: `{"subject":"","requester_email":"a@b.com","priority":"high"}`, field: "subject", msg: "subject is required and cannot be empty"},
		{input: `{"subject":"  ","requester_email":"a@b.com"}`, field: "subject", msg: "subject is required and cannot be empty"},
		{input: `{"subject":"VPN down","priority":"urgent-ish","cc":["bad"]}`, field: "requester_email", msg: "requester_email is required and cannot be empty"},
		{input: `{"subject":"VPN down","requester_email":"not-an-email"}`, field: "requester_email", msg: `invalid email address in requester_email: "not-an-email"`},
		{input: `{"subject":"VPN down","requester_email":"a@b"}`, field: "requester_email", msg: `invalid email address in requester_email: "a@b"`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","priority":"urgent-ish"}`, field: "priority", msg: `invalid priority "urgent-ish": must be one of: low, medium, high, urgent`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","impact":"Low"}`, field: "impact", msg: `invalid impact "Low": must be one of: low, medium, high, urgent`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","support_tier":"tier5"}`, field: "support_tier", msg: `invalid support_tier "tier5": must be one of: tier1, tier2, tier3, tier4`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","status":"done"}`, field: "status", msg: `invalid status "done": must be one of: open, in_progress, pending, resolved, closed`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","assignee":"tech"}`, field: "assignee", msg: `invalid email address in assignee: "tech"`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","cc":["x@y.com","not-an-email"]}`, field: "cc", msg: `invalid email address in cc: "not-an-email"`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","cc":["x@y.com","  "]}`, field: "cc", msg: `invalid email address in cc: ""`},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","attachments":[{"ref_file_name":"abc"}]}`, field: "attachments[0].real_name", msg: "attachments[0].real_name is required and cannot be empty"},
		{input: `{"subject":"VPN down","requester_email":"a@b.com","links":{"assets":[{"asset_id":1}]}}`, field: "links.assets[0].asset_model", msg: "links.assets[0].asset_model is required and cannot be empty"},
	}
	for _, tc := range tcs {
		_, err := tool.Call(context.Background(), tc.input)
		te, ok := toolerr.As(err)
		require.True(t, ok, tc.input)
		assert.Equal(t, toolerr.KindValidation, te.Kind, tc.input)
		assert.Equal(t, tc.field, te.Field, tc.input)
		assert.Equal(t, tc.msg, te.Message, tc.input)
	}
}

func TestValidation_ReachesAdapter(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	creator := mockticketing.NewMockCreator(ctrl)
	tool, err := ticketing.New(creator)
	require.NoError(t, err)

	creator.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *ticketing.CreateRequest) (*ticketing.TicketResult, error) {
			assert.Equal(t, "a@b.com", req.RequesterEmail)
			assert.Equal(t, "low", req.Priority)
			assert.Equal(t, "tier1", req.SupportTier)
			assert.Equal(t, []string{"x@y.com"}, req.CC)
			return &ticketing.TicketResult{Success: true, Message: ticketing.MessageCreated, ID: "42"}, nil
		}).Times(1)

	res, err := tool.Run(context.Background(), &ticketing.CreateRequest{
		Subject:        "Laptop will not boot",
		RequesterEmail: " a@b.com ",
		CC:             []string{" x@y.com "},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ID)
}

func TestExample(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	creator := mockticketing.NewMockCreator(ctrl)
	creator.EXPECT().Create(gomock.Any(), gomock.Any()).Return(&ticketing.TicketResult{Success: true}, nil).Times(1)
	tool, err := ticketing.New(creator)
	require.NoError(t, err)

	ex, ok := tool.Example().(*ticketing.CreateRequest)
	require.True(t, ok)
	_, err = tool.Run(context.Background(), ex)
	require.NoError(t, err)
}

func TestNewPayload(t *testing.T) {
	t.Parallel()

	req := &ticketing.CreateRequest{
		Subject:        "Printer jam",
		RequesterEmail: "jane@example.com",
	}
	req.SetDefaults()
	assert.Equal(t,
		`{"subject":"Printer jam","requesterEmail":"jane@example.com","impactName":"Low","priorityName":"Low","urgencyName":"Low","statusName":"Open","spam":false,"supportLevel":"tier1"}`,
		llmutils.ToJSON(ticketing.NewPayload(req)))

	full := &ticketing.CreateRequest{
		Subject:         "Printer jam",
		RequesterEmail:  "jane@example.com",
		Description:     "Tray 2",
		Category:        "Hardware",
		Impact:          "high",
		Priority:        "urgent",
		Urgency:         "medium",
		SupportTier:     "tier2",
		Status:          "in_progress",
		Source:          "Email",
		Spam:            true,
		Tags:            []string{"printer"},
		Department:      "Finance",
		Location:        "HQ",
		Assignee:        "tech@example.com",
		TechnicianGroup: "Hardware",
		CC:              []string{"boss@example.com"},
		Links: &ticketing.Links{
			Assets: []ticketing.AssetLink{{AssetModel: "asset_hardware", AssetID: 1}},
			CIs:    []ticketing.CILink{{CIID: 2, CIModel: "cmdb"}},
		},
		CustomFields: map[string]any{"floor": 3},
		Attachments:  []ticketing.Attachment{{RefFileName: "abc", RealName: "xyz.pdf"}},
	}
	exp := `{"subject":"Printer jam","requesterEmail":"jane@example.com","impactName":"High","priorityName":"Urgent","urgencyName":"Medium","statusName":"In Progress","spam":true,"supportLevel":"tier2","categoryName":"Hardware","source":"Email","ccEmailSet":["boss@example.com"],"tags":["printer"],"departmentName":"Finance","locationName":"HQ","assigneeEmail":"tech@example.com","technicianGroupName":"Hardware","description":"Tray 2","customField":{"floor":3},"linkAssetIds":[{"assetModel":"asset_hardware","assetId":1}],"linkCiIds":[{"ciId":2,"ciModel":"cmdb"}],"fileAttachments":[{"refFileName":"abc","realName":"xyz.pdf"}]}`
	assert.Equal(t, exp, llmutils.ToJSON(ticketing.NewPayload(full)))
}

func TestClient_Created(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		status int
		body   string
		id     string
		raw    string
	}{
		{status: http.StatusCreated, body: `{"id":"REQ-1042","subject":"x"}`, id: "REQ-1042"},
		{status: http.StatusOK, body: `{"id":1042}`, id: "1042"},
		{status: http.StatusOK, body: `{"requestId":"SR-7"}`, id: "SR-7"},
		{status: http.StatusCreated, body: `{"result":{"id":"abc-001"}}`, id: "abc-001"},
		{status: http.StatusCreated, body: `{"data":{"id":"d-9"}}`, id: "d-9"},
		{status: http.StatusCreated, body: `{"name":"no identifier"}`},
		{status: http.StatusCreated, body: `created`, raw: "created"},
	}
	for _, tc := range tcs {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		res, err := newTool(t, server).Run(context.Background(), validRequest())
		server.Close()

		require.NoError(t, err, tc.body)
		assert.True(t, res.Success)
		assert.Equal(t, ticketing.MessageCreated, res.Message)
		assert.Equal(t, tc.id, res.ID, tc.body)
		assert.Equal(t, tc.raw, res.RawResponse, tc.body)
		if tc.raw == "" {
			assert.JSONEq(t, tc.body, string(res.RequestData))
		}
	}
}

func TestClient_Request(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ticketing.RequestPath, r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var m map[string]any
		assert.NoError(t, json.Unmarshal(body, &m))
		assert.Equal(t, "Email sync fails", m["subject"])
		assert.Equal(t, "Medium", m["priorityName"])
		assert.Equal(t, false, m["spam"])
		assert.NotContains(t, m, "categoryName")
		assert.NotContains(t, m, "source")

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"REQ-1"}`))
	}))
	defer server.Close()

	out, err := newTool(t, server).Call(context.Background(),
		`{"subject":"Email sync fails","requester_email":"user@corp.example","priority":"medium"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"success":true,"message":"Request created successfully","id":"REQ-1","request_data":{"id":"REQ-1"}}`, out)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		status int
		body   string
		kind   toolerr.Kind
		msg    string
	}{
		{status: http.StatusBadRequest, body: `{"message":"requester not registered"}`, kind: toolerr.KindBadRequest, msg: "bad request: requester not registered"},
		{status: http.StatusUnauthorized, body: `{"message":"token expired"}`, kind: toolerr.KindAuth},
		{status: http.StatusForbidden, body: ``, kind: toolerr.KindAuth},
		{status: http.StatusNotFound, body: `not found`, kind: toolerr.KindNotFound},
		{status: http.StatusInternalServerError, body: `{"message":"db down"}`, kind: toolerr.KindUpstream},
		{status: http.StatusTeapot, body: `{"message":"short and stout"}`, kind: toolerr.KindUnexpected, msg: "unexpected status 418: short and stout"},
	}
	for _, tc := range tcs {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		_, err := newTool(t, server).Run(context.Background(), validRequest())
		server.Close()

		te, ok := toolerr.As(err)
		require.True(t, ok, "status %d", tc.status)
		assert.Equal(t, tc.kind, te.Kind, "status %d", tc.status)
		assert.Equal(t, tc.status, te.StatusCode)
		if tc.msg != "" {
			assert.Equal(t, tc.msg, te.Message)
		}
	}
}

func TestClient_Network(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := newTool(t, server).Run(ctx, validRequest())
		assert.True(t, toolerr.IsKind(err, toolerr.KindNetwork))
	})

	t.Run("refused", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		tool := newTool(t, server)
		server.Close()

		_, err := tool.Run(context.Background(), validRequest())
		te, ok := toolerr.As(err)
		require.True(t, ok)
		assert.Equal(t, toolerr.KindNetwork, te.Kind)
		assert.True(t, te.Retryable)
	})
}

// TestClient_Independent checks that repeated calls do not share state.
func TestClient_Independent(t *testing.T) {
	t.Parallel()

	var lock sync.Mutex
	var count int
	seen := map[string]bool{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		count++
		n := count
		seen[r.Header.Get("X-Request-ID")] = true
		lock.Unlock()

		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"id":"REQ-%d"}`, n)
	}))
	defer server.Close()

	tool := newTool(t, server)
	input := `{"subject":"Same request","requester_email":"a@b.com"}`

	first, err := tool.Call(context.Background(), input)
	require.NoError(t, err)
	second, err := tool.Call(context.Background(), input)
	require.NoError(t, err)

	assert.Contains(t, first, `"id":"REQ-1"`)
	assert.Contains(t, second, `"id":"REQ-2"`)
	assert.Len(t, seen, 2)
}
