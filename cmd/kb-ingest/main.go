// kb-ingest loads a service desk dashboard export into the knowledge base
// index searched by kb_search.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/embeddings/openai"
	"github.com/effective-security/sops-mcp/kbingest"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/vectorindex/pinecone"
	"github.com/effective-security/xlog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "cmd/kb-ingest")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configFile string
	envFile    string
	file       string
	batchSize  int
	verbose    bool
}

func parseFlags(args []string) (*flags, error) {
	f := new(flags)
	fs := pflag.NewFlagSet("kb-ingest", pflag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "path to the YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", "", "path to a .env file to load into the environment")
	fs.StringVarP(&f.file, "file", "f", "", "path to the dashboard JSON export")
	fs.IntVar(&f.batchSize, "batch-size", kbingest.DefaultBatchSize, "number of records per upsert")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	if f.file == "" {
		return nil, errors.New("--file is required")
	}
	if f.batchSize < 1 {
		return nil, errors.Errorf("invalid batch size: %d", f.batchSize)
	}
	return f, nil
}

func run(args []string, out io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}

	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	if f.verbose {
		xlog.SetGlobalLogLevel(xlog.DEBUG)
	}

	if f.envFile != "" {
		if err := config.LoadDotEnv(f.envFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(f.configFile)
	if err != nil {
		return err
	}
	if cfg.VectorIndex.Provider != config.ProviderPinecone {
		return errors.Errorf("ingestion requires the %s provider, got %q", config.ProviderPinecone, cfg.VectorIndex.Provider)
	}
	if c := tools.NewCapabilityMatrix(cfg).Get(tools.KBSearch); !c.Enabled {
		return errors.Errorf("missing configuration: %v", c.Missing)
	}

	d, err := kbingest.Load(f.file)
	if err != nil {
		return err
	}

	// the index is created on the first run when it does not exist
	index := pinecone.New(cfg.VectorIndex).WithMetricsTag("kb_ingest")
	defer func() {
		if cerr := index.Close(); cerr != nil {
			logger.KV(xlog.ERROR, "reason", "pinecone_close", "err", cerr.Error())
		}
	}()

	p, err := kbingest.New(
		openai.New(cfg.OpenAI).WithMetricsTag("kb_ingest"),
		index,
		kbingest.WithBatchSize(f.batchSize),
		kbingest.WithIndexName(cfg.VectorIndex.IndexName),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := p.Run(ctx, d)
	if s != nil {
		if yerr := yaml.NewEncoder(out).Encode(s); yerr != nil {
			return errors.WithStack(yerr)
		}
	}
	return err
}
