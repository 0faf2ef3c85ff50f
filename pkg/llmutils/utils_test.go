package llmutils_test

import (
	"testing"

	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/stretchr/testify/assert"
)

func Test_CleanJSON(t *testing.T) {
	agentOutput := "\n```json\n\n{\"query\": \"vpn\", \"top_k\": 3}\n\n```\n\n"
	clean := llmutils.CleanJSON([]byte(agentOutput))

	expected := "{\"query\": \"vpn\", \"top_k\": 3}"
	assert.Equal(t, expected, string(clean))

	agentOutput = "Here you go:\n```json\n\n[{\"query\": \"vpn\"}]\n```\n\n"
	clean = llmutils.CleanJSON([]byte(agentOutput))

	expected = "[{\"query\": \"vpn\"}]"
	assert.Equal(t, expected, string(clean))

	plain := "plain string"
	assert.Equal(t, plain, string(llmutils.CleanJSON([]byte(plain))))
}

func Test_ToJSON(t *testing.T) {
	type Person struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	p := Person{Name: "John", Age: 30}
	expected := `{"name":"John","age":30}`
	assert.Equal(t, expected, llmutils.ToJSON(p))
}

func Test_ToYAML(t *testing.T) {
	type Person struct {
		Name string `yaml:"name"`
		Age  int    `yaml:"age"`
	}
	p := Person{Name: "John", Age: 30}
	expected := "name: John\nage: 30\n"
	assert.Equal(t, expected, llmutils.ToYAML(p))
}

func Test_Truncate(t *testing.T) {
	assert.Equal(t, "hello", llmutils.Truncate("hello", 10))
	assert.Equal(t, "hel...", llmutils.Truncate("hello", 3))
	assert.Equal(t, "hello", llmutils.Truncate("hello", 0))
	// does not split the two byte rune
	assert.Equal(t, "a...", llmutils.Truncate("aé", 2))
}
