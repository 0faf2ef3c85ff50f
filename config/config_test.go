package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/effective-security/sops-mcp/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupMap(m map[string]string) config.LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Tavily: config.TavilyConfig{APIKey: "from-file"},
	}
	cfg.ApplyEnv(lookupMap(map[string]string{
		"TAVILY_API_KEY":        "from-env",
		"OPENAI_API_KEY":        " sk-test ",
		"PINECONE_API_KEY":      "pc-key",
		"PINECONE_INDEX_NAME":   "kb",
		"VECTOR_INDEX_PROVIDER": "Milvus",
		"MILVUS_ADDRESS":        "localhost:19530",
		"MILVUS_COLLECTION":     "tickets",
		"REQUEST_SERVER_URL":    "https://desk.example.com",
		"REQUEST_ACCESS_TOKEN":  "token",
		"TOOL_TIMEOUT":          "5s",
		"PINECONE_REGION":       "eu-west-1",
	}))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "from-file", cfg.Tavily.APIKey)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "pc-key", cfg.VectorIndex.APIKey)
	assert.Equal(t, config.ProviderMilvus, cfg.VectorIndex.Provider)
	assert.Equal(t, "localhost:19530", cfg.VectorIndex.Milvus.Address)
	assert.Equal(t, "tickets", cfg.VectorIndex.IndexDisplayName())
	assert.Equal(t, "https://desk.example.com", cfg.Ticketing.BaseURL)
	assert.Equal(t, "token", cfg.Ticketing.AccessToken)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, "eu-west-1", cfg.VectorIndex.Region)
	assert.Equal(t, config.DefaultPineconeCloud, cfg.VectorIndex.Cloud)
}

func TestSetDefaults(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.ApplyEnv(lookupMap(map[string]string{"TOOL_TIMEOUT": "soon"}))
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultServerName, cfg.ServerName)
	assert.Equal(t, config.DefaultTimeout, cfg.Timeout)
	assert.Equal(t, config.DefaultEmbeddingModel, cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, config.ProviderPinecone, cfg.VectorIndex.Provider)
	assert.Equal(t, config.DefaultPineconeAPI, cfg.VectorIndex.ControlPlaneURL)
	assert.Equal(t, "aws", cfg.VectorIndex.Cloud)
	assert.Equal(t, "us-east-1", cfg.VectorIndex.Region)
	assert.Equal(t, "COSINE", cfg.VectorIndex.Milvus.MetricType)
	assert.Empty(t, cfg.Tavily.APIKey)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name string
		mod  func(c *config.Config)
		err  string
	}{
		{
			name: "provider",
			mod:  func(c *config.Config) { c.VectorIndex.Provider = "qdrant" },
			err:  `invalid vector index provider: "qdrant"`,
		},
		{
			name: "timeout",
			mod:  func(c *config.Config) { c.Timeout = -time.Second },
			err:  "invalid timeout: -1s",
		},
		{
			name: "ticketing_url",
			mod:  func(c *config.Config) { c.Ticketing.BaseURL = "desk.example.com" },
			err:  `invalid ticketing.base_url: unsupported scheme: "desk.example.com"`,
		},
		{
			name: "metric",
			mod:  func(c *config.Config) { c.VectorIndex.Milvus.MetricType = "HAMMING" },
			err:  `invalid milvus metric type: "HAMMING"`,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.SetDefaults()
			tc.mod(cfg)
			assert.EqualError(t, cfg.Validate(), tc.err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "from-env")
	t.Setenv("REQUEST_ACCESS_TOKEN", "env-token")
	t.Setenv("PINECONE_INDEX_NAME", "")

	cfg, err := config.Load("testdata/sops.yaml")
	require.NoError(t, err)
	assert.Equal(t, "SOPS-TEST", cfg.ServerName)
	assert.Equal(t, "tvly-from-file", cfg.Tavily.APIKey)
	assert.Equal(t, "text-embedding-3-large", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "sops-kb", cfg.VectorIndex.IndexName)
	assert.Equal(t, "tickets", cfg.VectorIndex.Namespace)
	assert.Equal(t, "https://desk.example.com", cfg.Ticketing.BaseURL)
	assert.Equal(t, "env-token", cfg.Ticketing.AccessToken)
	assert.Equal(t, config.DefaultTimeout, cfg.Timeout)

	_, err = config.Load("testdata/non-existent.yaml")
	assert.Error(t, err)

	_, err = config.Load("testdata/invalid_provider.yaml")
	assert.EqualError(t, err, `invalid vector index provider: "qdrant"`)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("SOPS_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("SOPS_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("SOPS_TEST_DOTENV"))

	require.NoError(t, config.LoadDotEnv(file))
	assert.Equal(t, "loaded", os.Getenv("SOPS_TEST_DOTENV"))

	assert.NoError(t, config.LoadDotEnv())
	assert.Error(t, config.LoadDotEnv(filepath.Join(dir, "missing.env")))
}
