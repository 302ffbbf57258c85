package dialogue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/rs/zerolog"
)

// Retriever returns knowledge snippets for a query, most relevant first.
// It must not fail; problems degrade to an empty slice.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) []string
}

// ContextConfig tunes prompt construction.
type ContextConfig struct {
	MaxContextMessages int // N: turns sent to the model
	SummaryThreshold   int // summarise once the history grows past this
	TopK               int
	Budget             Budget
}

// ContextBuilder turns a conversation into a PromptInput.
type ContextBuilder struct {
	retriever  Retriever
	summarizer Summarizer
	assembler  *ContextAssembler
	prompts    *PromptBuilder
	cfg        ContextConfig
	logger     zerolog.Logger
}

// NewContextBuilder accepts a nil retriever or summarizer; those steps are
// then skipped.
func NewContextBuilder(retriever Retriever, summarizer Summarizer, assembler *ContextAssembler, cfg ContextConfig, logger zerolog.Logger) *ContextBuilder {
	if cfg.MaxContextMessages <= 0 {
		cfg.MaxContextMessages = 10
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 20
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Budget.MaxContextTokens <= 0 {
		cfg.Budget.MaxContextTokens = 1500
	}
	if cfg.Budget.MaxSnippets <= 0 {
		cfg.Budget.MaxSnippets = cfg.TopK
	}
	if assembler == nil {
		assembler = NewContextAssembler(cfg.Budget, nil)
	}
	return &ContextBuilder{
		retriever:  retriever,
		summarizer: summarizer,
		assembler:  assembler,
		prompts:    NewPromptBuilder(),
		cfg:        cfg,
		logger:     logger,
	}
}

// Build may set conv.Summary; the caller persists conv.
func (b *ContextBuilder) Build(ctx context.Context, conv *conversation.Conversation, userText string) (ports.PromptInput, error) {
	if err := ctx.Err(); err != nil {
		return ports.PromptInput{}, fmt.Errorf("build context: %w", err)
	}

	b.ensureSummary(ctx, conv)
	knowledge := b.knowledge(ctx, userText)

	system := SystemPrompt(conv.Stage, conv.Slots, conv.Summary, knowledge)

	turns := conv.LastTurns(b.cfg.MaxContextMessages, conversation.RoleUser, conversation.RoleAssistant)
	messages := make([]ports.PromptMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, ports.PromptMessage{Role: string(t.Role), Content: t.Content})
	}

	return b.prompts.Build(system, messages, nil, map[string]string{
		"conversation_id": conv.ID,
		"stage":           conv.Stage.String(),
	}), nil
}

// ensureSummary summarises the full history once it passes the threshold.
// A summary is never regenerated; a failed attempt leaves it empty.
func (b *ContextBuilder) ensureSummary(ctx context.Context, conv *conversation.Conversation) {
	if b.summarizer == nil || conv.Summary != "" || len(conv.Turns) <= b.cfg.SummaryThreshold {
		return
	}

	start := time.Now()
	summary, err := b.summarizer.Summarize(ctx, conv.Turns)
	if err != nil {
		b.logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("summary unavailable")
		return
	}
	conv.Summary = summary
	b.logger.Debug().
		Str("conversation_id", conv.ID).
		Int("turns", len(conv.Turns)).
		Dur("took", time.Since(start)).
		Msg("conversation summarised")
}

func (b *ContextBuilder) knowledge(ctx context.Context, query string) []string {
	if b.retriever == nil {
		return nil
	}
	texts := b.retriever.Search(ctx, query, b.cfg.TopK)
	if len(texts) == 0 {
		return nil
	}

	snippets := make([]Snippet, 0, len(texts))
	for i, text := range texts {
		// keep the retriever's order
		snippets = append(snippets, Snippet{Text: text, Score: float32(len(texts) - i)})
	}
	return b.assembler.Pack(snippets, &b.cfg.Budget)
}

// ContextString renders the conversation for logs: summary, the last few
// turns, then the collected slots.
func (b *ContextBuilder) ContextString(conv *conversation.Conversation) string {
	var parts []string
	if conv.Summary != "" {
		parts = append(parts, "Previous conversation summary: "+conv.Summary)
	}

	turns := conv.LastTurns(b.cfg.MaxContextMessages)
	if len(turns) > 0 {
		lines := make([]string, 0, len(turns))
		for _, t := range turns {
			lines = append(lines, fmt.Sprintf("%s: %s", t.Role, t.Content))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if slots := formatSlots(conv.Slots); slots != "" {
		parts = append(parts, "Collected information: "+slots)
	}
	return strings.Join(parts, "\n\n")
}
