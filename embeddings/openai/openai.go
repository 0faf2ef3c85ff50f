// Package openai provides the embedding client for the OpenAI embeddings API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/xlog"
	oai "github.com/openai/openai-go/v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "embeddings/openai")

const (
	DefaultBaseURL = "https://api.openai.com/v1"
)

// ErrEmptyResponse is returned when the API returns no embeddings.
var ErrEmptyResponse = errors.New("empty response")

// Doer performs a HTTP request.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client computes embeddings with the OpenAI embeddings API.
type Client struct {
	token      string
	baseURL    string
	model      string
	httpClient Doer
	// tag is the tool name reported in metrics
	tag string
}

// New returns a new embeddings client.
func New(cfg config.OpenAIConfig) *Client {
	c := &Client{
		token:      cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.EmbeddingModel,
		httpClient: http.DefaultClient,
		tag:        "kb_search",
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = config.DefaultEmbeddingModel
	}
	return c
}

// WithHTTPClient sets the HTTP client.
func (c *Client) WithHTTPClient(d Doer) *Client {
	c.httpClient = d
	return c
}

// WithMetricsTag sets the tool tag reported with the call duration.
func (c *Client) WithMetricsTag(tag string) *Client {
	c.tag = tag
	return c
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Embed returns the embedding of a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// EmbedBatch returns the embeddings of texts, in input order.
// Errors are returned as *toolerr.Error.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, toolerr.New(toolerr.KindValidation, "no input to embed")
	}

	params := oai.EmbeddingNewParams{
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          oai.EmbeddingModel(c.model),
		EncodingFormat: oai.EmbeddingNewParamsEncodingFormatFloat,
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	started := time.Now()
	r, err := c.httpClient.Do(req)
	metricskey.PerfAdapterCall.MeasureSince(started, c.tag, string(toolerr.StageEmbedding))
	if err != nil {
		return nil, toolerr.Normalize(err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, toolerr.Normalize(err)
	}
	if te := toolerr.FromStatus(r.StatusCode, body); te != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", r.StatusCode,
			"model", c.model,
			"err", te.Message,
		)
		return nil, te
	}

	var response oai.CreateEmbeddingResponse
	if err = json.Unmarshal(body, &response); err != nil {
		return nil, toolerr.Normalize(errors.WithStack(err))
	}
	if len(response.Data) != len(texts) {
		return nil, toolerr.Newf(toolerr.KindUnexpected, "%s: expected %d embeddings, got %d",
			ErrEmptyResponse.Error(), len(texts), len(response.Data))
	}

	res := make([][]float32, len(texts))
	for i, d := range response.Data {
		idx := int(d.Index)
		if idx < 0 || idx >= len(res) {
			idx = i
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		res[idx] = vec
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", c.model,
		"inputs", len(texts),
		"dimensions", len(res[0]),
		"duration", time.Since(started).String(),
	)
	return res, nil
}
