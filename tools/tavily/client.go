package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	tavilygo "github.com/diverged/tavily-go"
	tavilyModels "github.com/diverged/tavily-go/models"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "tools/tavily")

// Client is the Searcher backed by the Tavily search API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ensure Client implements the Searcher interface
var _ Searcher = (*Client)(nil)

// NewClient returns a Tavily client.
func NewClient(cfg config.TavilyConfig) *Client {
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		httpClient: http.DefaultClient,
	}
}

func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// providerResponse is the wire format of the search response
type providerResponse struct {
	Query        string   `json:"query"`
	Answer       string   `json:"answer"`
	Results      []Result `json:"results"`
	Images       []any    `json:"images"`
	ResponseTime float64  `json:"response_time"`
}

// Search performs one search call. The provider status and body
// are captured from the transport, so that failures are classified
// by HTTP status rather than by the provider library error text.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if c.httpClient != nil && c.httpClient.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}
	rec := newRecorder(ctx, c.httpClient)

	client := tavilygo.NewClient(c.apiKey)
	if c.baseURL != "" {
		client.BaseURL = c.baseURL
	}
	client.HTTPClient = &http.Client{Transport: rec}

	maxResults := DefaultMaxResults
	if req.MaxResults != nil {
		maxResults = *req.MaxResults
	}

	searchReq := tavilyModels.SearchRequest{
		Query:             req.Query,
		SearchDepth:       req.SearchDepth,
		MaxResults:        maxResults,
		IncludeAnswer:     req.IncludeAnswer,
		IncludeRawContent: req.IncludeRawContent,
		IncludeImages:     req.IncludeImages,
		IncludeDomains:    req.IncludeDomains,
		ExcludeDomains:    req.ExcludeDomains,
	}

	started := time.Now()
	searchResp, err := tavilygo.Search(client, searchReq)
	metricskey.PerfAdapterCall.MeasureSince(started, ToolName, "tavily")

	if rec.err != nil {
		return nil, toolerr.Normalize(rec.err)
	}
	if rec.status != 0 {
		if te := toolerr.FromStatus(rec.status, rec.body); te != nil {
			return nil, te
		}
	}
	// the body of a 2xx response is decoded here,
	// a decoding failure of the provider library is not fatal
	if err != nil && (rec.status == 0 || len(rec.body) == 0) {
		if ctx.Err() != nil {
			return nil, toolerr.Normalize(ctx.Err())
		}
		return nil, toolerr.Wrapf(err, "failed to perform search")
	}

	var pr providerResponse
	if len(rec.body) > 0 {
		if err := json.Unmarshal(rec.body, &pr); err != nil {
			return nil, toolerr.Normalize(err)
		}
	} else {
		pr.Answer = searchResp.Answer
		for _, r := range searchResp.Results {
			pr.Results = append(pr.Results, Result{
				Title:   r.Title,
				URL:     r.URL,
				Content: r.Content,
				Score:   r.Score,
			})
		}
	}

	res := &SearchResult{
		Query:   req.Query,
		Results: make([]Result, 0, len(pr.Results)),
		Metadata: SearchMetadata{
			TotalResults: len(pr.Results),
			SearchDepth:  req.SearchDepth,
			ResponseTime: pr.ResponseTime,
		},
	}
	if req.IncludeAnswer {
		res.Answer = pr.Answer
	}
	if req.IncludeImages {
		res.Images = pr.Images
	}
	for _, r := range pr.Results {
		if !req.IncludeRawContent {
			r.RawContent = ""
		}
		res.Results = append(res.Results, r)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"query", req.Query,
		"results", len(res.Results),
		"duration", time.Since(started).String(),
	)

	return res, nil
}

// recorder is a RoundTripper that binds the call context to the request
// and keeps the status and body of the response.
type recorder struct {
	ctx  context.Context
	base http.RoundTripper

	status int
	body   []byte
	err    error
}

func newRecorder(ctx context.Context, client *http.Client) *recorder {
	base := http.DefaultTransport
	if client != nil && client.Transport != nil {
		base = client.Transport
	}
	return &recorder{ctx: ctx, base: base}
}

func (r *recorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := r.base.RoundTrip(req.WithContext(r.ctx))
	if err != nil {
		r.err = err
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.err = err
		return nil, err
	}
	r.status = resp.StatusCode
	r.body = body
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
