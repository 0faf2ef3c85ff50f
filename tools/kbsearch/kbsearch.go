package kbsearch

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/schema"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/validation"
	"github.com/effective-security/sops-mcp/vectorindex"
	"github.com/effective-security/xlog"
)

//go:generate mockgen -source=kbsearch.go -destination=../../mocks/mockkbsearch/kbsearch_mock.gen.go -package mockkbsearch

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "tools/kbsearch")

const ToolName = tools.KBSearch

// Defaults
const (
	DefaultTopK = 5
	// MaxTopK is the largest top_k the index accepts when metadata is returned
	MaxTopK = 1000
)

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query           string `json:"query" yaml:"query" validate:"required" jsonschema:"title=Query,description=The question or keywords to search the knowledge base for."`
	TopK            *int   `json:"top_k,omitempty" yaml:"top_k,omitempty" validate:"required,between=1 1000" jsonschema:"title=Top K,description=Maximum number of similar entries to return.,minimum=1,maximum=1000,default=5"`
	IncludeMetadata *bool  `json:"include_metadata,omitempty" yaml:"include_metadata,omitempty" jsonschema:"title=Include Metadata,description=Include the full metadata of each entry.,default=true"`
}

// SetDefaults fills the optional fields that were not provided.
func (r *SearchRequest) SetDefaults() {
	if r.TopK == nil {
		v := DefaultTopK
		r.TopK = &v
	}
	if r.IncludeMetadata == nil {
		v := true
		r.IncludeMetadata = &v
	}
}

// Match is a single knowledge base entry.
type Match struct {
	ID       string         `json:"id" yaml:"id"`
	Score    float64        `json:"score" yaml:"score"`
	Text     string         `json:"text" yaml:"text"`
	Source   string         `json:"source" yaml:"source"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// SearchMetadata describes the search that was performed.
type SearchMetadata struct {
	TotalResults   int    `json:"total_results" yaml:"total_results"`
	EmbeddingModel string `json:"embedding_model" yaml:"embedding_model"`
	IndexName      string `json:"index_name" yaml:"index_name"`
}

// SearchResult represents the tool output.
type SearchResult struct {
	Query    string         `json:"query" yaml:"query"`
	Results  []Match        `json:"results" yaml:"results"`
	Metadata SearchMetadata `json:"metadata" yaml:"metadata"`
}

// Embedder computes the embedding of a text.
type Embedder interface {
	// Model returns the embedding model name.
	Model() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Tool is a tool that provides the knowledge base search
type Tool struct {
	name        string
	description string
	funcParams  any

	embedder Embedder
	index    vectorindex.Index
}

// ensure Tool implements the tools.Tool interface
var _ tools.Tool[SearchRequest, SearchResult] = (*Tool)(nil)

// New returns the kb_search tool.
func New(embedder Embedder, index vectorindex.Index) (*Tool, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if index == nil {
		return nil, errors.New("index is required")
	}
	sc, err := schema.New(reflect.TypeOf(SearchRequest{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Tool{
		name:        ToolName,
		description: "Search the IT service desk knowledge base by semantic similarity. Returns the most similar past tickets and articles with similarity score, text and source.",
		funcParams:  sc.Parameters,
		embedder:    embedder,
		index:       index,
	}, nil
}

func (t *Tool) Name() string {
	return t.name
}

func (t *Tool) Description() string {
	return t.description
}

func (t *Tool) Parameters() any {
	return t.funcParams
}

// Example returns a generated input that passes validation.
func (t *Tool) Example() any {
	req := &SearchRequest{
		Query: gofakeit.HackerPhrase(),
		TopK:  ptr(gofakeit.Number(1, 10)),
	}
	req.SetDefaults()
	return req
}

func ptr[T any](v T) *T {
	return &v
}

// Run embeds the query, then queries the index.
// A failed embedding is never followed by the index query.
func (t *Tool) Run(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		req = &SearchRequest{}
	}
	validation.TrimStrings(req)
	req.SetDefaults()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	vec, err := t.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, toolerr.Normalize(err).WithStage(toolerr.StageEmbedding)
	}
	if len(vec) == 0 {
		return nil, toolerr.New(toolerr.KindUnexpected, "embedding provider returned an empty vector").
			WithStage(toolerr.StageEmbedding)
	}

	topK := *req.TopK
	includeMetadata := *req.IncludeMetadata
	// text and source are read from metadata
	matches, err := t.index.Query(ctx, &vectorindex.QueryRequest{
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, toolerr.Normalize(err).WithStage(toolerr.StageIndexQuery)
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}

	res := &SearchResult{
		Query:   req.Query,
		Results: make([]Match, 0, len(matches)),
		Metadata: SearchMetadata{
			TotalResults:   len(matches),
			EmbeddingModel: t.embedder.Model(),
			IndexName:      t.index.Name(),
		},
	}
	for i := range matches {
		m := &matches[i]
		item := Match{
			ID:     m.ID,
			Score:  m.Score,
			Text:   m.Text(vectorindex.MetadataText),
			Source: m.Text(vectorindex.MetadataSource),
		}
		if includeMetadata && len(m.Metadata) > 0 {
			item.Metadata = m.Metadata
		}
		res.Results = append(res.Results, item)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"index", res.Metadata.IndexName,
		"top_k", topK,
		"results", len(res.Results),
	)
	return res, nil
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	return tools.CallWith[SearchRequest, SearchResult](ctx, t, input)
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	for _, m := range r.Results {
		fmt.Fprintf(&buf, "- ID: %s\n", m.ID)
		fmt.Fprintf(&buf, "  SCORE: %f\n", m.Score)
		if m.Source != "" {
			fmt.Fprintf(&buf, "  SOURCE: %s\n", m.Source)
		}
		fmt.Fprintf(&buf, "  TEXT: %s\n", m.Text)
	}
	return buf.String()
}
