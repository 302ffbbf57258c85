package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/conversation"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/events"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/extraction"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/scheduling"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	FallbackReply = "Sorry, I couldn't process your message."
	ErrorReply    = "Sorry, an error occurred while processing your message. Please try again."
)

// ToolExecutor runs the tools offered to the model.
type ToolExecutor interface {
	Execute(ctx context.Context, call ports.ToolCall) scheduling.Result
	Specs() []ports.ToolSpec
	Names() []string
}

// EventSink receives a notification per processed turn.
type EventSink interface {
	Publish(ctx context.Context, ev events.TurnEvent) error
}

// Response is the reply envelope of one turn.
type Response struct {
	ConversationID string            `json:"conversationId"`
	Message        string            `json:"message"`
	CurrentStage   string            `json:"currentStage"`
	Slots          map[string]string `json:"slots"`
	RequiresHuman  bool              `json:"requiresHuman"`
	FunctionCalls  []string          `json:"functionCalls,omitempty"`
}

// Snapshot is a read-only view of a conversation.
type Snapshot struct {
	ConversationID string              `json:"conversationId"`
	Found          bool                `json:"found"`
	Stage          string              `json:"stage"`
	Slots          map[string]string   `json:"slots"`
	Turns          []conversation.Turn `json:"turns"`
	Summary        string              `json:"summary,omitempty"`
	RequiresHuman  bool                `json:"requiresHuman"`
	CreatedAt      time.Time           `json:"createdAt,omitempty"`
	UpdatedAt      time.Time           `json:"updatedAt,omitempty"`
}

// EngineConfig tunes the completion calls of a turn.
type EngineConfig struct {
	Model             string
	MaxNewTokens      int
	Temperature       float32
	CompletionTimeout time.Duration
}

// Dependencies are the collaborators of an Engine. Store, Completer,
// Context and Tools are required.
type Dependencies struct {
	Store      *conversation.Store
	Completer  ports.Completer
	Context    *ContextBuilder
	Tools      ToolExecutor
	Extractor  *extraction.Extractor
	Stages     *extraction.StageMachine
	Escalation *extraction.Detector
	Limiter    ports.RateLimiter
	Tracer     ports.Tracer
	Metrics    *MetricsCollector
	Events     EventSink
}

// Engine runs the turn pipeline.
type Engine struct {
	store      *conversation.Store
	completer  ports.Completer
	contexts   *ContextBuilder
	tools      ToolExecutor
	parser     *OutputParser
	extractor  *extraction.Extractor
	stages     *extraction.StageMachine
	escalation *extraction.Detector
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	metrics    *MetricsCollector
	events     EventSink
	cfg        EngineConfig
	logger     zerolog.Logger
}

func NewEngine(deps Dependencies, cfg EngineConfig, logger zerolog.Logger) (*Engine, error) {
	var missing []string
	if deps.Store == nil {
		missing = append(missing, "store")
	}
	if deps.Completer == nil {
		missing = append(missing, "completer")
	}
	if deps.Context == nil {
		missing = append(missing, "context builder")
	}
	if deps.Tools == nil {
		missing = append(missing, "tools")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("dialogue engine: missing %s", strings.Join(missing, ", "))
	}

	e := &Engine{
		store:      deps.Store,
		completer:  deps.Completer,
		contexts:   deps.Context,
		tools:      deps.Tools,
		parser:     NewOutputParser(deps.Tools.Names()),
		extractor:  deps.Extractor,
		stages:     deps.Stages,
		escalation: deps.Escalation,
		limiter:    deps.Limiter,
		tracer:     deps.Tracer,
		metrics:    deps.Metrics,
		events:     deps.Events,
		cfg:        cfg,
		logger:     logger,
	}
	if e.extractor == nil || e.escalation == nil {
		rules := extraction.DefaultRules()
		if e.extractor == nil {
			e.extractor = extraction.NewExtractor(rules)
		}
		if e.escalation == nil {
			e.escalation = extraction.NewDetector(rules)
		}
	}
	if e.stages == nil {
		e.stages = extraction.NewStageMachine(nil)
	}
	if e.limiter == nil {
		e.limiter = &noOpRateLimiter{}
	}
	if e.tracer == nil {
		e.tracer = &noOpTracer{}
	}
	if e.metrics == nil {
		e.metrics = NewMetricsCollector()
	}
	return e, nil
}

// ProcessMessage runs one turn. It never fails: a completion failure yields
// the error envelope and leaves only the user turn recorded.
func (e *Engine) ProcessMessage(ctx context.Context, conversationID, text string) Response {
	start := time.Now()
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	unlock, err := e.store.Lock(ctx, conversationID)
	if err != nil {
		return e.fail(ctx, start, conversationID, nil, fmt.Errorf("acquire conversation lock: %w", err))
	}
	defer unlock()

	ctx, finish := e.tracer.StartSpan(ctx, "turn", map[string]any{"conversation_id": conversationID})

	conv := e.store.GetOrCreate(ctx, conversationID)
	e.store.AppendTurn(ctx, conv, conversation.RoleUser, text)

	// a failed turn records nothing beyond the user message
	prevSummary := conv.Summary
	abort := func(err error) Response {
		conv.Summary = prevSummary
		finish(err)
		return e.fail(ctx, start, conversationID, conv, err)
	}

	prompt, err := e.contexts.Build(ctx, conv, text)
	if err != nil {
		return abort(err)
	}
	prompt.Tools = e.tools.Specs()

	if e.logger.GetLevel() <= zerolog.DebugLevel {
		e.logger.Debug().Str("conversation_id", conv.ID).Str("context", e.contexts.ContextString(conv)).Msg("turn context")
	}

	first, err := e.complete(ctx, prompt, ports.Options{ToolChoice: "auto"})
	if err != nil {
		return abort(err)
	}

	reply := first.Text
	var functionCalls []string
	if call, ok := e.pickToolCall(first); ok {
		res := e.tools.Execute(ctx, call)
		e.metrics.RecordTool(call.Name, res.Success)
		e.tracer.Event(ctx, "tool_invoked", map[string]any{"tool": call.Name, "success": res.Success})
		functionCalls = append(functionCalls, call.Name)

		followUp := prompt
		followUp.Messages = append(append([]ports.PromptMessage(nil), prompt.Messages...),
			ports.PromptMessage{Role: ports.RoleAssistant, Content: first.Text, ToolCalls: []ports.ToolCall{call}},
			ports.PromptMessage{Role: ports.RoleTool, Name: call.Name, ToolCallID: call.ID, Content: res.Message},
		)
		second, err := e.complete(ctx, followUp, ports.Options{ToolChoice: "none"})
		if err != nil {
			return abort(err)
		}
		reply = second.Text
	}

	if strings.TrimSpace(reply) == "" {
		reply = FallbackReply
	}
	e.store.AppendTurn(ctx, conv, conversation.RoleAssistant, reply)

	found := e.extractor.Extract(text, conv.Slots)
	for _, key := range conversation.SlotKeys {
		if v, ok := found[key]; ok {
			e.store.SetSlot(ctx, conv, key, v)
		}
	}

	if next := e.stages.Advance(conv.Stage, text, conv.Slots); next != conv.Stage {
		e.tracer.Event(ctx, "stage_advanced", map[string]any{"from": conv.Stage.String(), "to": next.String()})
		conv.Stage = next
	}
	conv.RequiresHuman = e.escalation.Detect(text)
	e.store.Save(ctx, conv)

	resp := Response{
		ConversationID: conv.ID,
		Message:        reply,
		CurrentStage:   conv.Stage.String(),
		Slots:          conv.SlotsCopy(),
		RequiresHuman:  conv.RequiresHuman,
		FunctionCalls:  functionCalls,
	}

	e.publish(ctx, resp)
	e.metrics.RecordTurn(time.Since(start), nil, resp.RequiresHuman)
	finish(nil)
	return resp
}

// pickToolCall honours at most one call: the provider's first structured
// call, or else the first registered call written in the text.
func (e *Engine) pickToolCall(c ports.Completion) (ports.ToolCall, bool) {
	if len(c.ToolCalls) > 0 {
		return c.ToolCalls[0], true
	}
	if calls := e.parser.ParseToolCalls(c.Text); len(calls) > 0 {
		return calls[0], true
	}
	return ports.ToolCall{}, false
}

func (e *Engine) complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	release, err := e.limiter.Acquire(ctx, "completion")
	if err != nil {
		return ports.Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	defer release()

	if e.cfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CompletionTimeout)
		defer cancel()
	}
	opts.Model = e.cfg.Model
	opts.MaxNewTokens = e.cfg.MaxNewTokens
	opts.Temperature = e.cfg.Temperature

	ctx, finish := e.tracer.StartSpan(ctx, "provider_call", map[string]any{
		"tool_choice": opts.ToolChoice,
		"messages":    len(in.Messages),
	})
	out, err := e.completer.Complete(ctx, in, opts)
	finish(err)
	if err != nil {
		return ports.Completion{}, fmt.Errorf("completion: %w", err)
	}
	if out.Usage != nil {
		e.metrics.RecordUsage(out.Usage.PromptTokens, out.Usage.CompletionTokens)
	}
	return out, nil
}

func (e *Engine) fail(ctx context.Context, start time.Time, conversationID string, conv *conversation.Conversation, cause error) Response {
	ev := e.logger.Error().Err(cause).Str("conversation_id", conversationID)
	if errors.Is(cause, context.DeadlineExceeded) {
		ev = ev.Bool("timeout", true)
	}
	ev.Msg("turn failed")

	slots := map[string]string{}
	if conv != nil {
		slots = conv.SlotsCopy()
	}
	e.metrics.RecordTurn(time.Since(start), cause, false)
	return Response{
		ConversationID: conversationID,
		Message:        ErrorReply,
		CurrentStage:   conversation.StageError.String(),
		Slots:          slots,
	}
}

func (e *Engine) publish(ctx context.Context, resp Response) {
	if e.events == nil {
		return
	}
	err := e.events.Publish(ctx, events.TurnEvent{
		ConversationID: resp.ConversationID,
		Stage:          resp.CurrentStage,
		RequiresHuman:  resp.RequiresHuman,
		FunctionCalls:  resp.FunctionCalls,
		At:             time.Now(),
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("conversation_id", resp.ConversationID).Msg("turn event not published")
	}
}

// GetConversation returns a detached copy, or an empty greeting-stage
// placeholder for unknown ids.
func (e *Engine) GetConversation(ctx context.Context, id string) Snapshot {
	conv, ok := e.store.Get(ctx, id)
	if !ok {
		return Snapshot{
			ConversationID: id,
			Stage:          conversation.StageGreeting.String(),
			Slots:          map[string]string{},
			Turns:          []conversation.Turn{},
		}
	}
	return Snapshot{
		ConversationID: conv.ID,
		Found:          true,
		Stage:          conv.Stage.String(),
		Slots:          conv.Slots,
		Turns:          conv.Turns,
		Summary:        conv.Summary,
		RequiresHuman:  conv.RequiresHuman,
		CreatedAt:      conv.CreatedAt,
		UpdatedAt:      conv.UpdatedAt,
	}
}

// Metrics returns the engine's counters.
func (e *Engine) Metrics() MetricsSummary { return e.metrics.GetSummary() }
