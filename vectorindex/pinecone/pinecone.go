// Package pinecone implements the vector index with the Pinecone Go SDK.
//
// The control plane is used to describe the index, once per process, and to
// create it for the ingestion. Queries and upserts go to the data plane
// connection of the index.
package pinecone

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/vectorindex"
	"github.com/effective-security/xlog"
	pc "github.com/pinecone-io/go-pinecone/v3/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "vectorindex/pinecone")

// DefaultReadyInterval is the polling interval while a created index initializes
const DefaultReadyInterval = 2 * time.Second

// DataPlane is the subset of the SDK index connection used by the client.
type DataPlane interface {
	QueryByVectorValues(ctx context.Context, in *pc.QueryByVectorValuesRequest) (*pc.QueryVectorsResponse, error)
	UpsertVectors(ctx context.Context, in []*pc.Vector) (uint32, error)
	Close() error
}

// DialFunc opens the data plane connection of the index at host.
type DialFunc func(ctx context.Context, sdk *pc.Client, host, namespace string) (DataPlane, error)

// Dial opens the SDK index connection.
func Dial(_ context.Context, sdk *pc.Client, host, namespace string) (DataPlane, error) {
	conn, err := sdk.Index(pc.NewIndexConnParams{
		Host:      host,
		Namespace: namespace,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return conn, nil
}

// Client is a Pinecone index.
// The index host is resolved and the connection opened on first use,
// then kept for the process lifetime.
type Client struct {
	cfg        config.VectorIndexConfig
	httpClient *http.Client
	dial       DialFunc
	interval   time.Duration
	// tag is the tool name reported in metrics
	tag string

	lock sync.Mutex
	sdk  *pc.Client
	conn DataPlane
}

var (
	_ vectorindex.Index       = (*Client)(nil)
	_ vectorindex.Writer      = (*Client)(nil)
	_ vectorindex.Provisioner = (*Client)(nil)
)

// New returns a client for the configured index.
// No connection is made until the first call.
func New(cfg config.VectorIndexConfig) *Client {
	if cfg.ControlPlaneURL == "" {
		cfg.ControlPlaneURL = config.DefaultPineconeAPI
	}
	if cfg.Cloud == "" {
		cfg.Cloud = config.DefaultPineconeCloud
	}
	if cfg.Region == "" {
		cfg.Region = config.DefaultPineconeRegion
	}
	return &Client{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		dial:       Dial,
		interval:   DefaultReadyInterval,
		tag:        "kb_search",
	}
}

// WithHTTPClient sets the HTTP client of the control plane.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

// WithDialer replaces the data plane connection function.
func (c *Client) WithDialer(dial DialFunc) *Client {
	c.dial = dial
	return c
}

// WithReadyInterval sets the polling interval used by EnsureIndex.
func (c *Client) WithReadyInterval(d time.Duration) *Client {
	c.interval = d
	return c
}

// WithMetricsTag sets the tool tag reported with the call duration.
func (c *Client) WithMetricsTag(tag string) *Client {
	c.tag = tag
	return c
}

// Name returns the index name.
func (c *Client) Name() string {
	return c.cfg.IndexName
}

// Close releases the data plane connection.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return errors.WithStack(err)
}

// Query performs a similarity query.
// Matches are returned in the order of the response.
func (c *Client) Query(ctx context.Context, req *vectorindex.QueryRequest) ([]vectorindex.Match, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	res, err := conn.QueryByVectorValues(ctx, &pc.QueryByVectorValuesRequest{
		Vector:          req.Vector,
		TopK:            uint32(req.TopK),
		IncludeMetadata: req.IncludeMetadata,
	})
	metricskey.PerfAdapterCall.MeasureSince(started, c.tag, "pinecone_query")
	if err != nil {
		te := normalize(err)
		logger.ContextKV(ctx, xlog.DEBUG,
			"op", "query",
			"index", c.cfg.IndexName,
			"err", te.Message,
		)
		return nil, te
	}

	matches := make([]vectorindex.Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		if m == nil || m.Vector == nil {
			continue
		}
		match := vectorindex.Match{
			ID:    m.Vector.Id,
			Score: score(m.Score),
		}
		if m.Vector.Metadata != nil {
			match.Metadata = m.Vector.Metadata.AsMap()
		}
		matches = append(matches, match)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"op", "query",
		"index", c.cfg.IndexName,
		"matches", len(matches),
		"duration", time.Since(started).String(),
	)
	return matches, nil
}

// Upsert writes the vectors in a single request.
func (c *Client) Upsert(ctx context.Context, vectors []vectorindex.Vector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}

	list := make([]*pc.Vector, 0, len(vectors))
	for i := range vectors {
		v := &vectors[i]
		values := v.Values
		pv := &pc.Vector{
			Id:     v.ID,
			Values: &values,
		}
		if len(v.Metadata) > 0 {
			md, err := structpb.NewStruct(v.Metadata)
			if err != nil {
				return 0, toolerr.Wrapf(errors.WithStack(err), "invalid metadata of %s", v.ID)
			}
			pv.Metadata = md
		}
		list = append(list, pv)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	n, err := conn.UpsertVectors(ctx, list)
	metricskey.PerfAdapterCall.MeasureSince(started, c.tag, "pinecone_upsert")
	if err != nil {
		return 0, normalize(err)
	}
	return int(n), nil
}

// EnsureIndex creates the serverless index when it does not exist,
// with the cosine metric, and waits until it is ready.
func (c *Client) EnsureIndex(ctx context.Context, dimension int) (bool, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	sdk, err := c.control()
	if err != nil {
		return false, err
	}

	_, err = c.describe(ctx, sdk)
	if err == nil {
		return false, nil
	}
	if !toolerr.IsKind(err, toolerr.KindNotFound) {
		return false, err
	}
	if dimension <= 0 {
		return false, toolerr.Newf(toolerr.KindValidation, "invalid index dimension: %d", dimension)
	}

	dim := int32(dimension)
	metric := pc.Cosine
	started := time.Now()
	_, err = sdk.CreateServerlessIndex(ctx, &pc.CreateServerlessIndexRequest{
		Name:      c.cfg.IndexName,
		Dimension: &dim,
		Metric:    &metric,
		Cloud:     pc.Cloud(c.cfg.Cloud),
		Region:    c.cfg.Region,
	})
	metricskey.PerfAdapterCall.MeasureSince(started, c.tag, "pinecone_create_index")
	if err != nil {
		return false, normalize(err)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "index_created",
		"index", c.cfg.IndexName,
		"dimension", dimension,
		"metric", metric,
		"cloud", c.cfg.Cloud,
		"region", c.cfg.Region,
	)
	return true, c.waitReady(ctx, sdk)
}

func (c *Client) waitReady(ctx context.Context, sdk *pc.Client) error {
	for {
		idx, err := c.describe(ctx, sdk)
		if err != nil {
			return err
		}
		if idx.Status != nil && idx.Status.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return toolerr.Normalize(ctx.Err())
		case <-time.After(c.interval):
		}
	}
}

// connect returns the data plane connection.
// A failed attempt is not remembered, the next call tries again.
func (c *Client) connect(ctx context.Context) (DataPlane, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	sdk, err := c.control()
	if err != nil {
		return nil, err
	}

	host := c.cfg.Host
	if host == "" {
		idx, err := c.describe(ctx, sdk)
		if err != nil {
			return nil, err
		}
		if idx.Host == "" {
			return nil, toolerr.Newf(toolerr.KindUnexpected, "index %q has no host", c.cfg.IndexName)
		}
		host = idx.Host
	}

	conn, err := c.dial(ctx, sdk, host, c.cfg.Namespace)
	if err != nil {
		return nil, normalize(err)
	}
	c.conn = conn
	logger.KV(xlog.DEBUG, "status", "connected", "index", c.cfg.IndexName, "host", host)
	return conn, nil
}

// control returns the SDK client, the caller must hold the lock.
func (c *Client) control() (*pc.Client, error) {
	if c.sdk != nil {
		return c.sdk, nil
	}
	if c.cfg.APIKey == "" {
		return nil, toolerr.New(toolerr.KindNotInitialized, "pinecone api key is not configured")
	}
	sdk, err := pc.NewClient(pc.NewClientParams{
		ApiKey:     c.cfg.APIKey,
		Host:       c.cfg.ControlPlaneURL,
		RestClient: c.httpClient,
	})
	if err != nil {
		return nil, toolerr.Wrapf(errors.WithStack(err), "pinecone client")
	}
	c.sdk = sdk
	return sdk, nil
}

func (c *Client) describe(ctx context.Context, sdk *pc.Client) (*pc.Index, error) {
	if c.cfg.IndexName == "" {
		return nil, toolerr.New(toolerr.KindNotInitialized, "pinecone index name is not configured")
	}
	started := time.Now()
	idx, err := sdk.DescribeIndex(ctx, c.cfg.IndexName)
	metricskey.PerfAdapterCall.MeasureSince(started, c.tag, "pinecone_describe_index")
	if err != nil {
		return nil, normalize(err)
	}
	return idx, nil
}

// normalize maps the control plane HTTP status or the data plane gRPC status.
func normalize(err error) *toolerr.Error {
	var pe *pc.PineconeError
	if errors.As(err, &pe) {
		if te := toolerr.FromStatus(pe.Code, []byte(pe.Error())); te != nil {
			return te.WithCause(err)
		}
	}
	return toolerr.Normalize(err)
}

// score returns the float32 score with its shortest decimal form,
// so that 0.92 is not reported as 0.9200000166893005.
func score(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
