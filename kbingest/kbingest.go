// Package kbingest loads service desk tickets into the knowledge base index.
//
// Each ticket is rendered to text, embedded, and written to the index with
// its metadata. Failed tickets and failed batches are logged and skipped;
// the run ends with a summary.
package kbingest

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/pkg/metricskey"
	"github.com/effective-security/sops-mcp/vectorindex"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "kbingest")

// DefaultBatchSize is the number of records per upsert
const DefaultBatchSize = 100

// Embedder computes the embedding of a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summary reports the outcome of a run.
type Summary struct {
	Tickets       int           `json:"tickets" yaml:"tickets"`
	Prepared      int           `json:"prepared" yaml:"prepared"`
	Skipped       int           `json:"skipped" yaml:"skipped"`
	Upserted      int           `json:"upserted" yaml:"upserted"`
	Batches       int           `json:"batches" yaml:"batches"`
	FailedBatches int           `json:"failed_batches" yaml:"failed_batches"`
	IndexCreated  bool          `json:"index_created" yaml:"index_created"`
	Duration      time.Duration `json:"duration" yaml:"duration"`
}

// Pipeline ingests tickets into an index.
type Pipeline struct {
	embedder  Embedder
	writer    vectorindex.Writer
	indexName string
	batchSize int
}

// Option configures the Pipeline
type Option func(*Pipeline)

// WithBatchSize sets the number of records per upsert.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithIndexName sets the index name reported in logs and metrics.
func WithIndexName(name string) Option {
	return func(p *Pipeline) {
		p.indexName = name
	}
}

// New returns a pipeline.
func New(embedder Embedder, writer vectorindex.Writer, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	p := &Pipeline{
		embedder:  embedder,
		writer:    writer,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Prepare embeds the tickets and returns the index records.
// Tickets without an id or failing to embed are skipped.
func (p *Pipeline) Prepare(ctx context.Context, d *Dashboard) ([]vectorindex.Vector, int) {
	var vectors []vectorindex.Vector
	skipped := 0
	for i := range d.Tickets {
		t := &d.Tickets[i]
		if strings.TrimSpace(t.TicketID) == "" {
			logger.KV(xlog.WARNING, "reason", "missing_ticket_id", "position", i)
			skipped++
			continue
		}

		vec, err := p.embedder.Embed(ctx, t.Text())
		if err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "embed",
				"ticket", t.TicketID,
				"err", err.Error(),
			)
			skipped++
			continue
		}

		vectors = append(vectors, vectorindex.Vector{
			ID:       t.DocumentID(),
			Values:   vec,
			Metadata: t.Metadata(&d.Info),
		})
	}
	return vectors, skipped
}

// Run ingests the dashboard.
// When the writer is a vectorindex.Provisioner, the index is created
// before the first batch if it does not exist, with the dimension of the
// embeddings. An error is returned when ctx is done or the index cannot be
// provisioned; other failures are counted in the summary.
func (p *Pipeline) Run(ctx context.Context, d *Dashboard) (*Summary, error) {
	started := time.Now()
	s := &Summary{Tickets: len(d.Tickets)}

	vectors, skipped := p.Prepare(ctx, d)
	s.Prepared = len(vectors)
	s.Skipped = skipped
	if skipped > 0 {
		metricskey.StatsKBDocumentsFailed.IncrCounter(float64(skipped), p.indexName)
	}

	if prov, ok := p.writer.(vectorindex.Provisioner); ok && len(vectors) > 0 {
		created, err := prov.EnsureIndex(ctx, len(vectors[0].Values))
		if err != nil {
			s.Duration = time.Since(started)
			return s, errors.WithMessagef(err, "unable to provision index %s", p.indexName)
		}
		s.IndexCreated = created
	}

	for start := 0; start < len(vectors); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			s.Duration = time.Since(started)
			return s, errors.WithStack(err)
		}

		end := min(start+p.batchSize, len(vectors))
		batch := vectors[start:end]
		s.Batches++

		n, err := p.writer.Upsert(ctx, batch)
		if err != nil {
			s.FailedBatches++
			metricskey.StatsKBDocumentsFailed.IncrCounter(float64(len(batch)), p.indexName)
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "upsert",
				"index", p.indexName,
				"batch", s.Batches,
				"size", len(batch),
				"err", err.Error(),
			)
			continue
		}
		s.Upserted += n
		metricskey.StatsKBDocumentsUpserted.IncrCounter(float64(n), p.indexName)
		logger.ContextKV(ctx, xlog.DEBUG,
			"index", p.indexName,
			"batch", s.Batches,
			"upserted", n,
		)
	}

	s.Duration = time.Since(started)
	logger.ContextKV(ctx, xlog.INFO,
		"status", "ingested",
		"index", p.indexName,
		"tickets", s.Tickets,
		"prepared", s.Prepared,
		"skipped", s.Skipped,
		"upserted", s.Upserted,
		"failed_batches", s.FailedBatches,
		"index_created", s.IndexCreated,
		"duration", s.Duration.String(),
	)
	return s, nil
}
