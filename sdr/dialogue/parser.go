package dialogue

import (
	"encoding/json"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
)

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRe   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// OutputParser recovers tool calls that a model wrote as plain text.
// Only registered names are accepted.
type OutputParser struct {
	toolCallPatterns []*regexp.Regexp
	allowed          map[string]bool
}

func NewOutputParser(toolNames []string) *OutputParser {
	allowed := make(map[string]bool, len(toolNames))
	for _, n := range toolNames {
		allowed[n] = true
	}
	return &OutputParser{
		toolCallPatterns: []*regexp.Regexp{
			// [{"name": "tool", "arguments": {...}}]
			regexp.MustCompile(`(?s)\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`),
			// tool_name({"arg": "value"})
			regexp.MustCompile(`(?s)(\w+)\s*\(\s*(\{.*?\})\s*\)`),
			// {"tool_calls": [{"function": {"name": "tool", "arguments": "..."}}]}
			regexp.MustCompile(`(?s)"tool_calls"\s*:\s*\[\s*\{\s*"function"\s*:\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*"((?:[^"\\]|\\.)*)"\s*\}\s*\}\s*\]`),
		},
		allowed: allowed,
	}
}

// ParseToolCalls extracts tool calls in the order the patterns find them.
func (p *OutputParser) ParseToolCalls(text string) []ports.ToolCall {
	var calls []ports.ToolCall
	for i, pattern := range p.toolCallPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			name := strings.TrimSpace(match[1])
			if !p.allowed[name] {
				continue
			}
			argsStr := strings.TrimSpace(match[2])
			if i == 2 {
				// arguments arrive as an escaped JSON string
				var unquoted string
				if err := json.Unmarshal([]byte(`"`+argsStr+`"`), &unquoted); err != nil {
					continue
				}
				argsStr = unquoted
			}
			args, ok := p.normalizeArgs(argsStr)
			if !ok {
				continue
			}
			calls = append(calls, ports.ToolCall{Name: name, Args: args})
		}
	}
	return calls
}

func (p *OutputParser) normalizeArgs(s string) (json.RawMessage, bool) {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), true
	}
	fixed := fixJSON(s)
	if json.Valid([]byte(fixed)) {
		return json.RawMessage(fixed), true
	}
	return nil, false
}

// fixJSON repairs trailing commas, bare keys and single quotes.
func fixJSON(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = unquotedKeyRe.ReplaceAllString(s, `$1"$2":`)
	return strings.ReplaceAll(s, "'", "\"")
}
