package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	ports "github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue/ports"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_SetGetEvict(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(2)

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), 60))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), 60))

	// touch a so b becomes least recently used
	v, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, cache.Set(ctx, "c", []byte("3"), 60))
	_, ok = cache.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, cache.Delete(ctx, "a"))
	_, ok = cache.Get(ctx, "a")
	assert.False(t, ok)
}

func TestLRUCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(4)
	now := time.Date(2024, 12, 19, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), 10))
	_, ok := cache.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(11 * time.Second)
	_, ok = cache.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestTokenBucket_WaitsForRefill(t *testing.T) {
	ctx := context.Background()
	tb := NewTokenBucket(1, 20*time.Millisecond)

	release, err := tb.Acquire(ctx, "completion")
	require.NoError(t, err)
	release()

	start := time.Now()
	_, err = tb.Acquire(ctx, "completion")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestTokenBucket_ContextBoundsWait(t *testing.T) {
	tb := NewTokenBucket(1, time.Hour)
	_, err := tb.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = tb.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys have their own bucket
	_, err = tb.Acquire(context.Background(), "other")
	assert.NoError(t, err)
}

func TestZerologTracer_SpanAttributes(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finish := tracer.StartSpan(context.Background(), "turn", map[string]any{"conversation_id": "c1"})
	tracer.Event(ctx, "tool_invoked", map[string]any{"tool": "check_availability"})
	finish(nil)

	out := buf.String()
	assert.Contains(t, out, `"span":"turn"`)
	assert.Contains(t, out, `"conversation_id":"c1"`)
	assert.Contains(t, out, `"event":"tool_invoked"`)
	assert.Contains(t, out, `"event":"span_end"`)
}

func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "retrieval_degraded", map[string]any{"collection": "faq"})

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"event":"retrieval_degraded"`)
	assert.Contains(t, out, `"collection":"faq"`)
	assert.NotContains(t, out, `"span"`)
}

func TestOpenAICompleter_Complete(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "check_availability", "arguments": "{\"date\":\"2024-12-20\",\"time\":\"08:00\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`))
	}))
	defer server.Close()

	cfg := config.LLMConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-4o", MaxNewTokens: 128}
	completer := NewOpenAICompleter(NewOpenAIClient(cfg), cfg, zerolog.Nop())

	out, err := completer.Complete(context.Background(), ports.PromptInput{
		System:   "be helpful",
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "is 8am free on the 20th?"}},
		Tools:    []ports.ToolSpec{{Name: "check_availability", Description: "check", JSONSchema: []byte(`{"type":"object"}`)}},
	}, ports.Options{})
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "check_availability", out.ToolCalls[0].Name)
	assert.JSONEq(t, `{"date":"2024-12-20","time":"08:00"}`, string(out.ToolCalls[0].Args))
	require.NotNil(t, out.Usage)
	assert.Equal(t, 19, out.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o", captured["model"])
	assert.Equal(t, "auto", captured["tool_choice"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAICompleter_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer server.Close()

	cfg := config.LLMConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-4o"}
	completer := NewOpenAICompleter(NewOpenAIClient(cfg), cfg, zerolog.Nop())

	_, err := completer.Complete(context.Background(), ports.PromptInput{
		Messages: []ports.PromptMessage{{Role: ports.RoleUser, Content: "hi"}},
	}, ports.Options{})
	assert.Error(t, err)
}

func TestToOpenAIMessages_ToolResults(t *testing.T) {
	msgs := toOpenAIMessages(ports.PromptInput{
		Messages: []ports.PromptMessage{
			{Role: ports.RoleAssistant, ToolCalls: []ports.ToolCall{{ID: "call_1", Name: "book_appointment", Args: json.RawMessage(`{}`)}}},
			{Role: ports.RoleTool, Name: "book_appointment", ToolCallID: "call_1", Content: "booked"},
			{Role: ports.RoleTool, Name: "list_available_slots", Content: "08:00"},
		},
	})

	require.Len(t, msgs, 3)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "call_1", msgs[1].ToolCallID)
	assert.Equal(t, "tool", msgs[1].Role)
	assert.Equal(t, "system", msgs[2].Role)
	assert.Contains(t, msgs[2].Content, "list_available_slots")
}

func TestToOpenAITools(t *testing.T) {
	tools := toOpenAITools([]ports.ToolSpec{{
		Name:        "check_availability",
		Description: "list free slots",
		JSONSchema:  []byte(`{"type":"object"}`),
	}})

	require.Len(t, tools, 1)
	assert.Equal(t, "check_availability", tools[0].Function.Name)
	assert.Equal(t, "list free slots", tools[0].Function.Description)

	raw, err := json.Marshal(tools[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"function","function":{"name":"check_availability","description":"list free slots","parameters":{"type":"object"}}}`, string(raw))
}
