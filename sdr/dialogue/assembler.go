package dialogue

import (
	"sort"
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// Snippet is a retrieved chunk with a score and token estimate.
type Snippet struct {
	Text       string
	Score      float32 // higher is better
	TokenCount int
}

// Budget caps what context packing may spend.
type Budget struct {
	MaxContextTokens int
	MaxSnippets      int
}

// ContextAssembler selects and packs snippets within a token budget.
type ContextAssembler struct {
	defaultBudget  Budget
	TokenEstimator func(s string) int
}

// NewContextAssembler falls back to ~4 chars per token when est is nil.
func NewContextAssembler(b Budget, est func(s string) int) *ContextAssembler {
	if est == nil {
		est = approxTokens
	}
	return &ContextAssembler{defaultBudget: b, TokenEstimator: est}
}

func approxTokens(s string) int {
	l := len(s)
	if l == 0 {
		return 0
	}
	return (l + 3) / 4
}

// TiktokenEstimator counts cl100k_base tokens. It returns nil when the
// encoding cannot be loaded, which selects the heuristic.
func TiktokenEstimator() func(s string) int {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil
	}
	return func(s string) int {
		ids, _, err := codec.Encode(s)
		if err != nil {
			return approxTokens(s)
		}
		return len(ids)
	}
}

// Pack sorts snippets by score and keeps as many as fit the budget.
// Snippets too large for what remains are skipped, not truncated.
func (a *ContextAssembler) Pack(snippets []Snippet, b *Budget) []string {
	if b == nil {
		b = &a.defaultBudget
	}
	if len(snippets) == 0 || b.MaxContextTokens <= 0 || b.MaxSnippets <= 0 {
		return nil
	}

	sorted := append([]Snippet(nil), snippets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	remaining := b.MaxContextTokens
	packed := make([]string, 0, min(len(sorted), b.MaxSnippets))
	for _, sn := range sorted {
		if len(packed) >= b.MaxSnippets || remaining <= 0 {
			break
		}
		text := strings.TrimSpace(strings.ReplaceAll(sn.Text, "\r\n", "\n"))
		if text == "" {
			continue
		}
		if sn.TokenCount <= 0 {
			sn.TokenCount = a.TokenEstimator(text)
		}
		if sn.TokenCount > remaining {
			continue
		}
		packed = append(packed, text)
		remaining -= sn.TokenCount
	}
	return packed
}
