// Package config provides the server configuration.
//
// The configuration is built once at startup from an optional YAML file,
// an optional .env file and the process environment, and then passed
// explicitly to every constructor. Missing credentials are not errors:
// they disable the tools that need them.
package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/xlog"
	"github.com/joho/godotenv"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "config")

// Vector index providers
const (
	ProviderPinecone = "pinecone"
	ProviderMilvus   = "milvus"
)

// Defaults
const (
	DefaultServerName     = "SOPS-AI"
	DefaultTimeout        = 30 * time.Second
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultPineconeAPI    = "https://api.pinecone.io"
	DefaultPineconeCloud  = "aws"
	DefaultPineconeRegion = "us-east-1"
	DefaultVectorField    = "vector"
	DefaultMetricType     = "COSINE"
)

// Config is the server configuration.
type Config struct {
	// ServerName is reported to MCP clients.
	ServerName string `json:"server_name,omitempty" yaml:"server_name,omitempty"`
	// Timeout is the per-call deadline for a tool invocation.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Tavily      TavilyConfig      `json:"tavily" yaml:"tavily"`
	OpenAI      OpenAIConfig      `json:"openai" yaml:"openai"`
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`
	Ticketing   TicketingConfig   `json:"ticketing" yaml:"ticketing"`
}

// TavilyConfig configures the web search provider.
type TavilyConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// OpenAIConfig configures the embedding provider.
type OpenAIConfig struct {
	APIKey         string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
}

// VectorIndexConfig configures the knowledge base index.
type VectorIndexConfig struct {
	// Provider is pinecone or milvus
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Pinecone settings
	APIKey    string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	IndexName string `json:"index_name,omitempty" yaml:"index_name,omitempty"`
	// Host is the data plane host of the index.
	// When empty, it is resolved from ControlPlaneURL by IndexName once per process.
	Host            string `json:"host,omitempty" yaml:"host,omitempty"`
	ControlPlaneURL string `json:"control_plane_url,omitempty" yaml:"control_plane_url,omitempty"`
	Namespace       string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	// Cloud and Region place a serverless index created by the ingestion.
	Cloud  string `json:"cloud,omitempty" yaml:"cloud,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	Milvus MilvusConfig `json:"milvus" yaml:"milvus"`
}

// MilvusConfig configures the Milvus backend.
type MilvusConfig struct {
	Address      string   `json:"address,omitempty" yaml:"address,omitempty"`
	APIKey       string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Collection   string   `json:"collection,omitempty" yaml:"collection,omitempty"`
	VectorField  string   `json:"vector_field,omitempty" yaml:"vector_field,omitempty"`
	OutputFields []string `json:"output_fields,omitempty" yaml:"output_fields,omitempty"`
	// MetricType is L2, IP or COSINE
	MetricType string `json:"metric_type,omitempty" yaml:"metric_type,omitempty"`
}

// TicketingConfig configures the service desk REST API.
type TicketingConfig struct {
	BaseURL     string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	AccessToken string `json:"access_token,omitempty" yaml:"access_token,omitempty"`
}

// IndexDisplayName returns the name of the configured index or collection.
func (c *VectorIndexConfig) IndexDisplayName() string {
	if c.Provider == ProviderMilvus {
		return c.Milvus.Collection
	}
	return c.IndexName
}

// Load returns the configuration from file, with environment values
// filling empty settings. An empty file name loads from the environment only.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config: %s", file)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the variables from a .env file into the process
// environment. Variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.WithMessagef(err, "failed to load env file: %s", strings.Join(files, ","))
	}
	return nil
}

// LookupFunc returns the value of an environment variable.
type LookupFunc func(string) (string, bool)

// ApplyEnv fills empty settings from the environment.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	set := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	set(&c.Tavily.APIKey, "TAVILY_API_KEY")
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	set(&c.OpenAI.EmbeddingModel, "EMBEDDING_MODEL")
	set(&c.VectorIndex.Provider, "VECTOR_INDEX_PROVIDER")
	set(&c.VectorIndex.APIKey, "PINECONE_API_KEY")
	set(&c.VectorIndex.IndexName, "PINECONE_INDEX_NAME")
	set(&c.VectorIndex.Host, "PINECONE_INDEX_HOST")
	set(&c.VectorIndex.Namespace, "PINECONE_NAMESPACE")
	set(&c.VectorIndex.Cloud, "PINECONE_CLOUD")
	set(&c.VectorIndex.Region, "PINECONE_REGION")
	set(&c.VectorIndex.Milvus.Address, "MILVUS_ADDRESS")
	set(&c.VectorIndex.Milvus.APIKey, "MILVUS_API_KEY")
	set(&c.VectorIndex.Milvus.Collection, "MILVUS_COLLECTION")
	set(&c.Ticketing.BaseURL, "REQUEST_SERVER_URL")
	set(&c.Ticketing.AccessToken, "REQUEST_ACCESS_TOKEN")

	if c.Timeout == 0 {
		if v, ok := lookup("TOOL_TIMEOUT"); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				c.Timeout = d
			} else {
				logger.KV(xlog.WARNING, "reason", "invalid_timeout", "value", v, "err", err.Error())
			}
		}
	}
}

// SetDefaults fills unset optional values.
func (c *Config) SetDefaults() {
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.OpenAI.EmbeddingModel == "" {
		c.OpenAI.EmbeddingModel = DefaultEmbeddingModel
	}
	c.VectorIndex.Provider = strings.ToLower(c.VectorIndex.Provider)
	if c.VectorIndex.Provider == "" {
		c.VectorIndex.Provider = ProviderPinecone
	}
	if c.VectorIndex.ControlPlaneURL == "" {
		c.VectorIndex.ControlPlaneURL = DefaultPineconeAPI
	}
	if c.VectorIndex.Cloud == "" {
		c.VectorIndex.Cloud = DefaultPineconeCloud
	}
	if c.VectorIndex.Region == "" {
		c.VectorIndex.Region = DefaultPineconeRegion
	}
	if c.VectorIndex.Milvus.VectorField == "" {
		c.VectorIndex.Milvus.VectorField = DefaultVectorField
	}
	if c.VectorIndex.Milvus.MetricType == "" {
		c.VectorIndex.Milvus.MetricType = DefaultMetricType
	}
}

// Validate rejects structurally invalid values.
// Absent credentials are not reported here.
func (c *Config) Validate() error {
	if c.Timeout < 0 {
		return errors.Errorf("invalid timeout: %s", c.Timeout)
	}
	switch c.VectorIndex.Provider {
	case "", ProviderPinecone, ProviderMilvus:
	default:
		return errors.Errorf("invalid vector index provider: %q", c.VectorIndex.Provider)
	}
	switch strings.ToUpper(c.VectorIndex.Milvus.MetricType) {
	case "", "L2", "IP", "COSINE":
	default:
		return errors.Errorf("invalid milvus metric type: %q", c.VectorIndex.Milvus.MetricType)
	}
	for name, u := range map[string]string{
		"ticketing.base_url":             c.Ticketing.BaseURL,
		"tavily.base_url":                c.Tavily.BaseURL,
		"openai.base_url":                c.OpenAI.BaseURL,
		"vector_index.control_plane_url": c.VectorIndex.ControlPlaneURL,
	} {
		if u == "" {
			continue
		}
		if err := checkURL(u); err != nil {
			return errors.WithMessagef(err, "invalid %s", name)
		}
	}
	return nil
}

func checkURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return errors.WithStack(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("unsupported scheme: %q", s)
	}
	if u.Host == "" {
		return errors.Errorf("missing host: %q", s)
	}
	return nil
}
