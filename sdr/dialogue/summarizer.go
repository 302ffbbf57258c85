package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
)

// Summarizer condenses a conversation history.
type Summarizer interface {
	Summarize(ctx context.Context, turns []conversation.Turn) (string, error)
}

// LLMSummarizer asks the completion provider, usually a cheaper model, for
// a short summary.
type LLMSummarizer struct {
	completer ports.Completer
	model     string
	timeout   time.Duration
}

func NewLLMSummarizer(completer ports.Completer, model string, timeout time.Duration) *LLMSummarizer {
	return &LLMSummarizer{completer: completer, model: model, timeout: timeout}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, turns []conversation.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out, err := s.completer.Complete(ctx, ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: summaryPrompt(turns)}},
	}, ports.Options{Model: s.model, MaxNewTokens: 300, Temperature: 0.3})
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

func summaryPrompt(turns []conversation.Turn) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following conversation concisely, keeping important information such as the patient's name, desired procedure, preferred unit and discussed times:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "%s: %s\n", t.Role, t.Content)
	}
	sb.WriteString("\nSummary:")
	return sb.String()
}
