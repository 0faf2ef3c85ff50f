// Package milvus implements the vector index over a Milvus collection.
package milvus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/vectorindex"
	"github.com/effective-security/xlog"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "vectorindex/milvus")

// nprobe of the search params
const defaultNProbe = 10

// Searcher is the subset of the Milvus client used by the index.
type Searcher interface {
	Search(ctx context.Context, collName string, partitions []string,
		expr string, outputFields []string, vectors []entity.Vector, vectorField string,
		metricType entity.MetricType, topK int, sp entity.SearchParam, opts ...client.SearchQueryOptionFunc,
	) ([]client.SearchResult, error)
	Close() error
}

// DialFunc connects to Milvus.
type DialFunc func(ctx context.Context, cfg config.MilvusConfig) (Searcher, error)

// Dial connects with the Milvus SDK client.
func Dial(ctx context.Context, cfg config.MilvusConfig) (Searcher, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address: cfg.Address,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return c, nil
}

// Index is a Milvus collection.
// The connection is established on first use and kept for the process lifetime.
type Index struct {
	cfg  config.MilvusConfig
	dial DialFunc
	tag  string

	lock sync.Mutex
	conn Searcher
}

var _ vectorindex.Index = (*Index)(nil)

// New returns an index for the configured collection.
func New(cfg config.MilvusConfig) *Index {
	if cfg.VectorField == "" {
		cfg.VectorField = config.DefaultVectorField
	}
	if cfg.MetricType == "" {
		cfg.MetricType = config.DefaultMetricType
	}
	return &Index{
		cfg:  cfg,
		dial: Dial,
		tag:  "kb_search",
	}
}

// WithDialer replaces the connection function.
func (x *Index) WithDialer(dial DialFunc) *Index {
	x.dial = dial
	return x
}

// Name returns the collection name.
func (x *Index) Name() string {
	return x.cfg.Collection
}

func (x *Index) connect(ctx context.Context) (Searcher, error) {
	x.lock.Lock()
	defer x.lock.Unlock()

	if x.conn != nil {
		return x.conn, nil
	}
	conn, err := x.dial(ctx, x.cfg)
	if err != nil {
		return nil, err
	}
	x.conn = conn
	logger.KV(xlog.DEBUG, "status", "connected", "address", x.cfg.Address, "collection", x.cfg.Collection)
	return conn, nil
}

// Close releases the connection.
func (x *Index) Close() error {
	x.lock.Lock()
	defer x.lock.Unlock()

	if x.conn == nil {
		return nil
	}
	err := x.conn.Close()
	x.conn = nil
	return err
}

// Query performs a similarity search.
// Output fields are returned as match metadata when requested.
func (x *Index) Query(ctx context.Context, req *vectorindex.QueryRequest) ([]vectorindex.Match, error) {
	conn, err := x.connect(ctx)
	if err != nil {
		return nil, connectError(x.cfg.Address, err)
	}

	var outputFields []string
	if req.IncludeMetadata {
		outputFields = x.cfg.OutputFields
	}

	sp, err := entity.NewIndexIvfFlatSearchParam(defaultNProbe)
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "milvus search params")
	}

	started := time.Now()
	results, err := conn.Search(
		ctx, x.cfg.Collection, []string{}, "", outputFields,
		[]entity.Vector{entity.FloatVector(req.Vector)},
		x.cfg.VectorField, entity.MetricType(x.cfg.MetricType), req.TopK, sp,
	)
	metricskey.PerfAdapterCall.MeasureSince(started, x.tag, "milvus_search")
	if err != nil {
		return nil, toolerr.Wrapf(err, "milvus search")
	}

	var matches []vectorindex.Match
	for _, res := range results {
		if res.Err != nil {
			return nil, toolerr.Wrapf(res.Err, "milvus search")
		}
		for i := 0; i < res.ResultCount; i++ {
			m := vectorindex.Match{
				ID: columnValue(res.IDs, i),
			}
			if i < len(res.Scores) {
				m.Score = float64(res.Scores[i])
			}
			if len(res.Fields) > 0 {
				m.Metadata = map[string]any{}
				for _, field := range res.Fields {
					if v, err := field.Get(i); err == nil {
						m.Metadata[field.Name()] = v
					}
				}
			}
			matches = append(matches, m)
		}
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"collection", x.cfg.Collection,
		"matches", len(matches),
		"duration", time.Since(started).String(),
	)
	return matches, nil
}

func columnValue(col entity.Column, i int) string {
	if col == nil {
		return ""
	}
	v, err := col.Get(i)
	if err != nil {
		return ""
	}
	return fmt.Sprint(v)
}

// connectError reports a failed connection as a network error,
// unless the failure already carries a more specific kind.
func connectError(address string, err error) *toolerr.Error {
	if te, ok := toolerr.As(err); ok {
		return te
	}
	if te := toolerr.FromGRPC(err); te != nil && te.Kind != toolerr.KindUnexpected && te.Kind != toolerr.KindUpstream {
		return te
	}
	return toolerr.Newf(toolerr.KindNetwork, "unable to connect to milvus at %s: %s", address, err.Error()).WithCause(err)
}
