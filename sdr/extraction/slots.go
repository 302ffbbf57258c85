package extraction

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
)

const (
	outDateLayout = "2006-01-02"
	outTimeLayout = "15:04"
)

// Extractor pulls slot values out of a raw user message.
type Extractor struct {
	rules RuleSource
}

func NewExtractor(rules RuleSource) *Extractor {
	return &Extractor{rules: rules}
}

// Extract returns values only for slots that are unset in current. Nothing
// is written to current.
func (e *Extractor) Extract(text string, current map[string]string) map[string]string {
	rules := e.rules.Current()
	lower := strings.ToLower(text)
	found := make(map[string]string)

	unset := func(key string) bool { return current[key] == "" }

	if unset(conversation.SlotName) {
		if name := extractName(rules, text, lower); name != "" {
			found[conversation.SlotName] = name
		}
	}
	if unset(conversation.SlotProcedure) {
		if v, ok := rules.procedures.match(lower); ok {
			found[conversation.SlotProcedure] = v
		}
	}
	if unset(conversation.SlotUnit) {
		if v, ok := rules.units.match(lower); ok {
			found[conversation.SlotUnit] = v
		}
	}
	if unset(conversation.SlotDate) || unset(conversation.SlotTime) {
		date, clock := extractDateTime(rules, lower)
		if date != "" && unset(conversation.SlotDate) {
			found[conversation.SlotDate] = date
		}
		if clock != "" && unset(conversation.SlotTime) {
			found[conversation.SlotTime] = clock
		}
	}
	return found
}

func extractName(rules *Rules, text, lower string) string {
	m, ok := rules.leadIns.first(lower, true)
	if !ok {
		return ""
	}
	// ToLower can change byte lengths outside ASCII; only then fall back
	// to the lower-cased text.
	src := lower
	if len(text) == len(lower) {
		src = text
	}
	rest := strings.TrimLeft(src[m.end:], " \t")
	end := strings.IndexAny(rest, " \t\n,.!?;")
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// extractDateTime splits on a whole-word separator and needs exactly two
// parts: the date on the left and the time on the right.
func extractDateTime(rules *Rules, lower string) (string, string) {
	parts := splitOnSeparators(lower, rules.separators)
	if len(parts) != 2 {
		return "", ""
	}
	left := strings.TrimSpace(parts[0])
	right := strings.TrimSpace(parts[1])

	date := parseFirst(rules.dateLayouts, outDateLayout, left, lastToken(left))
	clock := parseFirst(rules.timeLayouts, outTimeLayout, right, firstToken(right))
	return date, clock
}

func splitOnSeparators(s string, separators map[string]struct{}) []string {
	var parts []string
	fields := strings.Fields(s)
	var cur []string
	for _, f := range fields {
		if _, ok := separators[f]; ok {
			parts = append(parts, strings.Join(cur, " "))
			cur = cur[:0]
			continue
		}
		cur = append(cur, f)
	}
	return append(parts, strings.Join(cur, " "))
}

func parseFirst(layouts []string, out string, candidates ...string) string {
	for _, c := range candidates {
		c = strings.Trim(c, " ,.!?;")
		if c == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, c); err == nil {
				return t.Format(out)
			}
		}
	}
	return ""
}

func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func lastToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}
