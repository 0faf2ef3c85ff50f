// sops-mcp serves the SOPS-AI tools over the Model Context Protocol.
//
// The configuration is read from an optional YAML file, an optional .env
// file and the environment. Tools without the credentials they need are
// still listed, and their calls fail with not_initialized.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/callbacks"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/embeddings/openai"
	"github.com/effective-security/sops-mcp/mcpserver"
	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/sops-mcp/tools/kbsearch"
	"github.com/effective-security/sops-mcp/tools/tavily"
	"github.com/effective-security/sops-mcp/tools/ticketing"
	"github.com/effective-security/sops-mcp/vectorindex"
	"github.com/effective-security/sops-mcp/vectorindex/milvus"
	"github.com/effective-security/sops-mcp/vectorindex/pinecone"
	"github.com/effective-security/xlog"
	"github.com/spf13/pflag"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "cmd/sops-mcp")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configFile string
	envFile    string
	transport  string
	addr       string
	logLevel   string
	listTools  bool
	verbose    int
}

func parseFlags(args []string) (*flags, error) {
	f := new(flags)
	fs := pflag.NewFlagSet("sops-mcp", pflag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "path to the YAML configuration file")
	fs.StringVar(&f.envFile, "env-file", "", "path to a .env file to load into the environment")
	fs.StringVar(&f.transport, "transport", mcpserver.TransportStdio, "transport: "+strings.Join(mcpserver.Transports, ", "))
	fs.StringVar(&f.addr, "addr", ":8080", "listen address for the sse and http transports")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warning, error")
	fs.BoolVar(&f.listTools, "list-tools", false, "print the tool descriptors and exit")
	if err := fs.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	return f, nil
}

func setupLogger(level string) error {
	l := xlog.INFO
	switch strings.ToLower(level) {
	case "debug":
		l = xlog.DEBUG
	case "info", "":
	case "warning", "warn":
		l = xlog.WARNING
	case "error":
		l = xlog.ERROR
	default:
		return errors.Errorf("invalid log level: %q", level)
	}
	// stdout carries the stdio transport
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))
	xlog.SetGlobalLogLevel(l)
	return nil
}

func run(args []string, out io.Writer) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	if err := setupLogger(f.logLevel); err != nil {
		return err
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

	stats := callbacks.NewStats()
	var extra []tools.Callback
	if p := newPrinter(f.verbose, os.Stderr); p != nil {
		extra = append(extra, p)
	}
	registry, closer, err := newRegistry(cfg, stats, extra...)
	if err != nil {
		return err
	}
	defer closer()

	if f.listTools {
		_, err = fmt.Fprint(out, llmutils.ToYAML(registry.List()))
		return errors.WithStack(err)
	}

	srv, err := mcpserver.New(cfg, registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(ctx, f.transport, f.addr)

	for _, ts := range stats.Snapshot() {
		logger.KV(xlog.INFO,
			"status", "stats",
			"tool", ts.Tool,
			"calls", ts.Calls,
			"succeeded", ts.Succeeded,
			"failed", ts.Failed,
			"by_kind", ts.ByKind,
		)
	}
	logger.KV(xlog.INFO,
		"status", "stopped",
		"uptime", stats.Uptime().String(),
		"not_found", stats.NotFound(),
	)
	return err
}

// newPrinter returns the printer of tool calls for the -v count,
// or nil when the calls are not printed.
func newPrinter(verbose int, out io.Writer) *callbacks.Printer {
	switch {
	case verbose <= 0:
		return nil
	case verbose == 1:
		return callbacks.NewPrinter(out, callbacks.ModeDefault)
	default:
		return callbacks.NewPrinter(out, callbacks.ModeVerbose)
	}
}

// newRegistry builds the tools for cfg. Every tool is registered,
// the capability matrix decides which ones can be called.
func newRegistry(cfg *config.Config, stats *callbacks.Stats, extra ...tools.Callback) (*tools.Registry, func(), error) {
	caps := tools.NewCapabilityMatrix(cfg)
	for _, c := range caps.All() {
		logger.KV(xlog.INFO,
			"tool", c.Tool,
			"enabled", c.Enabled,
			"missing", c.Missing,
		)
	}

	fanout := callbacks.NewFanout(
		callbacks.NewPackageLogger(logger),
		stats,
	)
	for _, cb := range extra {
		fanout.Add(cb)
	}
	registry := tools.NewRegistry(caps,
		tools.WithTimeout(cfg.Timeout),
		tools.WithCallback(fanout),
	)

	closer := func() {}

	webSearch, err := tavily.New(tavily.NewClient(cfg.Tavily))
	if err != nil {
		return nil, closer, err
	}

	var index vectorindex.Index
	if cfg.VectorIndex.Provider == config.ProviderMilvus {
		mi := milvus.New(cfg.VectorIndex.Milvus)
		closer = func() {
			if err := mi.Close(); err != nil {
				logger.KV(xlog.ERROR, "reason", "milvus_close", "err", err.Error())
			}
		}
		index = mi
	} else {
		pi := pinecone.New(cfg.VectorIndex)
		closer = func() {
			if err := pi.Close(); err != nil {
				logger.KV(xlog.ERROR, "reason", "pinecone_close", "err", err.Error())
			}
		}
		index = pi
	}
	kbSearch, err := kbsearch.New(openai.New(cfg.OpenAI), index)
	if err != nil {
		return nil, closer, err
	}

	createRequest, err := ticketing.New(ticketing.NewClient(cfg.Ticketing))
	if err != nil {
		return nil, closer, err
	}

	if err := registry.Register(webSearch, kbSearch, createRequest); err != nil {
		return nil, closer, err
	}
	return registry, closer, nil
}
