package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	// StatsToolCallsFailed is tagged with the error kind
	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool", "kind"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotInitialized = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_initialized",
		Help:         "stats_tool_calls_not_initialized provides total tool calls rejected for missing configuration",
		RequiredTags: []string{"tool"},
	}

	StatsKBDocumentsUpserted = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_kb_documents_upserted",
		Help:         "stats_kb_documents_upserted provides total knowledge base documents upserted",
		RequiredTags: []string{"index"},
	}

	StatsKBDocumentsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_kb_documents_failed",
		Help:         "stats_kb_documents_failed provides total knowledge base documents failed to ingest",
		RequiredTags: []string{"index"},
	}
)

// Perf
var (
	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	// PerfAdapterCall measures a single downstream call,
	// stage is the provider or step name
	PerfAdapterCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_adapter_call",
		Help:         "perf_adapter_call provides duration of downstream call made by a tool",
		RequiredTags: []string{"tool", "stage"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfAdapterCall,
	&PerfToolCall,
	&StatsKBDocumentsFailed,
	&StatsKBDocumentsUpserted,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsNotInitialized,
	&StatsToolCallsSucceeded,
}
