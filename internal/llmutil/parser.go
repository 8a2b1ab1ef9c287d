// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// ExtractJSONObject finds the first balanced {...} span in an LLM response
// that is itself a valid JSON object. Models like to wrap structured output in
// prose or markdown fences, so every '{' is a candidate start, tried in order.
// Braces inside JSON string literals do not count towards the balance.
func ExtractJSONObject(response string) (string, bool) {
	start := strings.IndexByte(response, '{')
	for start >= 0 {
		spans, resume := scanBraces(response, start)
		for _, sp := range spans {
			if resume >= 0 && sp.open > resume {
				break
			}
			if sp.close < 0 {
				continue
			}
			candidate := response[sp.open : sp.close+1]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		start = resume
	}
	return "", false
}

// span is a '{' and the index of the '}' closing it, or -1 when unbalanced.
type span struct {
	open, close int
}

// scanBraces tokenizes response once from start and pairs every '{' that sits
// outside a string literal with its closing '}'. A scan from any such '{'
// would tokenize the rest of the input identically, so one pass settles all
// of them. A '{' that falls inside a string literal starts a different
// tokenization; the first one is returned as resume, or -1 if there is none.
func scanBraces(response string, start int) ([]span, int) {
	var (
		spans    []span
		open     []int
		resume   = -1
		inString bool
		escaped  bool
	)

	for i := start; i < len(response); i++ {
		c := response[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c == '{' && resume < 0:
				resume = i
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			open = append(open, len(spans))
			spans = append(spans, span{open: i, close: -1})
		case '}':
			if n := len(open); n > 0 {
				spans[open[n-1]].close = i
				open = open[:n-1]
			}
		}
	}
	return spans, resume
}

// ParseJSONResponse extracts the first JSON object from an LLM response and
// decodes it into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	obj, ok := ExtractJSONObject(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in LLM response. Response (truncated): %s", TruncateString(strings.TrimSpace(response), 200))
	}

	var result T
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, TruncateString(obj, 500))
	}
	return &result, nil
}

// TruncateString truncates a string to a maximum length in bytes.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Simple truncation; does not account for rune boundaries but sufficient for error logging.
	return s[:maxLen] + "..."
}
