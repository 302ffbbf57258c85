package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
)

// ErrNoChoices is returned when the API answers without any choice.
var ErrNoChoices = errors.New("completion returned no choices")

// OpenAICompleter implements Completer on the OpenAI chat completions API.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      zerolog.Logger
}

// NewOpenAIClient builds a client honouring the optional base URL.
func NewOpenAIClient(cfg config.LLMConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// NewOpenAICompleter creates a completer bound to cfg.Model by default.
func NewOpenAICompleter(client *openai.Client, cfg config.LLMConfig, logger zerolog.Logger) *OpenAICompleter {
	return &OpenAICompleter{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxNewTokens,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Complete runs one non-streaming chat completion.
func (p *OpenAICompleter) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
		Messages:    toOpenAIMessages(in),
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxNewTokens > 0 {
		req.MaxTokens = opts.MaxNewTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}

	if len(in.Tools) > 0 {
		req.Tools = toOpenAITools(in.Tools)
		req.ToolChoice = "auto"
		if opts.ToolChoice != "" {
			req.ToolChoice = opts.ToolChoice
		}
	}

	p.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("chat completion request")

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{}, ErrNoChoices
	}

	msg := resp.Choices[0].Message
	out := ports.Completion{
		Text: msg.Content,
		Usage: &ports.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ports.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func toOpenAIMessages(in ports.PromptInput) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in.Messages)+1)
	if in.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: in.System})
	}

	for _, m := range in.Messages {
		switch {
		case m.Role == ports.RoleTool && m.ToolCallID == "":
			// A call recovered from plain text has no id to answer, so the
			// result travels as a system note instead.
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf("Result of %s: %s", m.Name, m.Content),
			})
		case m.Role == ports.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})
		default:
			msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
			for _, tc := range m.ToolCalls {
				if tc.ID == "" {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, msg)
		}
	}
	return out
}

func toOpenAITools(specs []ports.ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  json.RawMessage(spec.JSONSchema),
			},
		})
	}
	return tools
}

var _ ports.Completer = (*OpenAICompleter)(nil)
