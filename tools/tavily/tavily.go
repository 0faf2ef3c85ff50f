package tavily

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/schema"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/validation"
)

//go:generate mockgen -source=tavily.go -destination=../../mocks/mocktavily/tavily_mock.gen.go -package mocktavily

const ToolName = tools.WebSearch

// Defaults
const (
	DefaultMaxResults  = 5
	DefaultSearchDepth = "basic"
)

// SearchRequest represents the tool input.
type SearchRequest struct {
	Query             string   `json:"query" yaml:"query" validate:"required" jsonschema:"title=Query,description=The query to search the web for."`
	MaxResults        *int     `json:"max_results,omitempty" yaml:"max_results,omitempty" validate:"required,between=1 20" jsonschema:"title=Max Results,description=Maximum number of results to return.,minimum=1,maximum=20,default=5"`
	SearchDepth       string   `json:"search_depth,omitempty" yaml:"search_depth,omitempty" validate:"oneof=basic advanced" jsonschema:"title=Search Depth,description=The depth of the search.,enum=basic,enum=advanced,default=basic"`
	IncludeAnswer     bool     `json:"include_answer,omitempty" yaml:"include_answer,omitempty" jsonschema:"title=Include Answer,description=Include a short answer to the query.,default=false"`
	IncludeRawContent bool     `json:"include_raw_content,omitempty" yaml:"include_raw_content,omitempty" jsonschema:"title=Include Raw Content,description=Include the parsed content of each result.,default=false"`
	IncludeImages     bool     `json:"include_images,omitempty" yaml:"include_images,omitempty" jsonschema:"title=Include Images,description=Include images related to the query.,default=false"`
	IncludeDomains    []string `json:"include_domains,omitempty" yaml:"include_domains,omitempty" jsonschema:"title=Include Domains,description=Domains to restrict the search to."`
	ExcludeDomains    []string `json:"exclude_domains,omitempty" yaml:"exclude_domains,omitempty" jsonschema:"title=Exclude Domains,description=Domains to exclude from the search."`
}

// SetDefaults fills the optional fields that were not provided.
func (r *SearchRequest) SetDefaults() {
	if r.MaxResults == nil {
		v := DefaultMaxResults
		r.MaxResults = &v
	}
	if r.SearchDepth == "" {
		r.SearchDepth = DefaultSearchDepth
	}
}

// Result is a single search hit.
type Result struct {
	Title      string  `json:"title" yaml:"title"`
	URL        string  `json:"url" yaml:"url"`
	Content    string  `json:"content" yaml:"content"`
	RawContent string  `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`
	Score      float64 `json:"score" yaml:"score"`
}

// SearchMetadata describes the search that was performed.
type SearchMetadata struct {
	TotalResults int     `json:"total_results" yaml:"total_results"`
	SearchDepth  string  `json:"search_depth" yaml:"search_depth"`
	ResponseTime float64 `json:"response_time,omitempty" yaml:"response_time,omitempty"`
}

// SearchResult represents the tool output.
type SearchResult struct {
	Query    string         `json:"query" yaml:"query"`
	Answer   string         `json:"answer,omitempty" yaml:"answer,omitempty"`
	Results  []Result       `json:"results" yaml:"results"`
	Images   []any          `json:"images,omitempty" yaml:"images,omitempty"`
	Metadata SearchMetadata `json:"metadata" yaml:"metadata"`
}

// Searcher performs a web search.
type Searcher interface {
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
}

// Tool is a tool that provides a web search functionality
type Tool struct {
	name        string
	description string
	funcParams  any

	searcher Searcher
}

// ensure Tool implements the tools.Tool interface
var _ tools.Tool[SearchRequest, SearchResult] = (*Tool)(nil)

// New returns the web_search tool backed by the searcher.
func New(searcher Searcher) (*Tool, error) {
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	sc, err := schema.New(reflect.TypeOf(SearchRequest{}))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}
	tool := &Tool{
		name:        ToolName,
		description: "Search the web for current information. Returns ranked results with title, URL, content snippet and relevance score, and optionally a short answer.",
		funcParams:  sc.Parameters,
		searcher:    searcher,
	}
	return tool, nil
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
		Query:         gofakeit.Question(),
		IncludeAnswer: gofakeit.Bool(),
	}
	req.SetDefaults()
	return req
}

// Run validates the request and performs the search.
// Include and exclude domain lists are forwarded as provided,
// even when they overlap.
func (t *Tool) Run(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		req = &SearchRequest{}
	}
	validation.TrimStrings(req)
	req.SetDefaults()
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	return t.searcher.Search(ctx, req)
}

func (t *Tool) Call(ctx context.Context, input string) (string, error) {
	return tools.CallWith[SearchRequest, SearchResult](ctx, t, input)
}

func (r *SearchResult) String() string {
	var buf bytes.Buffer
	if r.Answer != "" {
		fmt.Fprintf(&buf, "ANSWER: %s\n", r.Answer)
	}

	for _, result := range r.Results {
		fmt.Fprintf(&buf, "- URL: %s\n", result.URL)
		fmt.Fprintf(&buf, "  TITLE: %s\n", result.Title)
		fmt.Fprintf(&buf, "  SCORE: %f\n", result.Score)
		fmt.Fprintf(&buf, "  CONTENT: %s\n", result.Content)
	}

	return buf.String()
}
