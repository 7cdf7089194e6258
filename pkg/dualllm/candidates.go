package dualllm

// fallbackOption is always a valid answer: the secondary model has no
// relevant content to offer, or its response could not be parsed.
const fallbackOption = "no relevant content"

// candidateTables is the explicit, per-tool, finite candidate-answer
// contract required by §4.3: the set of short answers a secondary model may
// assign when summarising isolated tool content in response to a question.
// Keyed by tool name; tools with no entry get the bare fallback set.
var candidateTables = map[string][]string{
	"fetch_emails": {"urgent", "not urgent", fallbackOption},
	"read_file":    {"contains the requested information", "does not contain the requested information", fallbackOption},
	"web_search":   {"relevant result", "irrelevant result", fallbackOption},
}

// candidatesForTool returns the deterministic candidate list for toolName.
func candidatesForTool(toolName string) []string {
	if opts, ok := candidateTables[toolName]; ok {
		return opts
	}
	return []string{fallbackOption}
}
