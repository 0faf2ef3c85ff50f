package tools

import (
	"strings"

	"github.com/effective-security/sops-mcp/config"
)

// Capability describes whether a tool has the configuration it needs.
type Capability struct {
	Tool    string   `json:"tool" yaml:"tool"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// CapabilityMatrix maps tool names to their capability.
// It is computed once at startup and never changes.
type CapabilityMatrix struct {
	caps map[string]Capability
}

// NewCapabilityMatrix returns the capabilities of the known tools
// for the given configuration.
func NewCapabilityMatrix(cfg *config.Config) *CapabilityMatrix {
	if cfg == nil {
		cfg = new(config.Config)
	}

	m := &CapabilityMatrix{
		caps: make(map[string]Capability, len(Names)),
	}

	m.set(WebSearch, map[string]string{
		"TAVILY_API_KEY": cfg.Tavily.APIKey,
	}, "TAVILY_API_KEY")

	kb := map[string]string{
		"OPENAI_API_KEY": cfg.OpenAI.APIKey,
	}
	order := []string{"OPENAI_API_KEY"}
	if strings.EqualFold(cfg.VectorIndex.Provider, config.ProviderMilvus) {
		kb["MILVUS_ADDRESS"] = cfg.VectorIndex.Milvus.Address
		kb["MILVUS_COLLECTION"] = cfg.VectorIndex.Milvus.Collection
		order = append(order, "MILVUS_ADDRESS", "MILVUS_COLLECTION")
	} else {
		kb["PINECONE_API_KEY"] = cfg.VectorIndex.APIKey
		kb["PINECONE_INDEX_NAME"] = cfg.VectorIndex.IndexName
		order = append(order, "PINECONE_API_KEY", "PINECONE_INDEX_NAME")
	}
	m.set(KBSearch, kb, order...)

	m.set(CreateRequest, map[string]string{
		"REQUEST_SERVER_URL":   cfg.Ticketing.BaseURL,
		"REQUEST_ACCESS_TOKEN": cfg.Ticketing.AccessToken,
	}, "REQUEST_SERVER_URL", "REQUEST_ACCESS_TOKEN")

	return m
}

// NewStaticCapabilityMatrix returns a matrix with the given capabilities.
// Tools that are not listed are disabled.
func NewStaticCapabilityMatrix(caps ...Capability) *CapabilityMatrix {
	m := &CapabilityMatrix{
		caps: make(map[string]Capability, len(caps)),
	}
	for _, c := range caps {
		m.caps[c.Tool] = c
	}
	return m
}

func (m *CapabilityMatrix) set(tool string, values map[string]string, order ...string) {
	c := Capability{Tool: tool}
	for _, key := range order {
		if strings.TrimSpace(values[key]) == "" {
			c.Missing = append(c.Missing, key)
		}
	}
	c.Enabled = len(c.Missing) == 0
	m.caps[tool] = c
}

// Get returns the capability of the tool.
// Unknown tools are reported as disabled.
func (m *CapabilityMatrix) Get(tool string) Capability {
	if c, ok := m.caps[tool]; ok {
		return c
	}
	return Capability{Tool: tool}
}

// Enabled returns true if the tool can be called.
func (m *CapabilityMatrix) Enabled(tool string) bool {
	return m.Get(tool).Enabled
}

// All returns the capabilities of the known tools, in registration order.
func (m *CapabilityMatrix) All() []Capability {
	list := make([]Capability, 0, len(Names))
	for _, name := range Names {
		list = append(list, m.Get(name))
	}
	return list
}
