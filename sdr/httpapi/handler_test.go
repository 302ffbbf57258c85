package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/dialogue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	lastID   string
	lastText string
}

func (e *stubEngine) ProcessMessage(ctx context.Context, conversationID, text string) dialogue.Response {
	e.lastID, e.lastText = conversationID, text
	return dialogue.Response{
		ConversationID: "conv-1",
		Message:        "Hello John!",
		CurrentStage:   "collect_info",
		Slots:          map[string]string{"name": "John"},
	}
}

func (e *stubEngine) GetConversation(ctx context.Context, id string) dialogue.Snapshot {
	if id != "conv-1" {
		return dialogue.Snapshot{ConversationID: id, Stage: "greeting", Slots: map[string]string{}}
	}
	return dialogue.Snapshot{ConversationID: id, Found: true, Stage: "collect_info", Slots: map[string]string{"name": "John"}}
}

func (e *stubEngine) Metrics() dialogue.MetricsSummary {
	return dialogue.MetricsSummary{TurnCount: 3}
}

func newTestServer(t *testing.T) (*httptest.Server, *stubEngine) {
	t.Helper()
	engine := &stubEngine{}
	srv := httptest.NewServer(NewHandler(engine, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv, engine
}

func TestHandler_PostMessage(t *testing.T) {
	srv, engine := newTestServer(t)

	res, err := http.Post(srv.URL+"/api/chat/message", "application/json",
		strings.NewReader(`{"conversationId":"conv-1","message":"my name is John"}`))
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, "conv-1", body["conversationId"])
	assert.Equal(t, "collect_info", body["currentStage"])
	assert.Equal(t, false, body["requiresHuman"])
	assert.NotContains(t, body, "functionCalls")

	assert.Equal(t, "conv-1", engine.lastID)
	assert.Equal(t, "my name is John", engine.lastText)
}

func TestHandler_PostMessageRejectsBadInput(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, payload := range []string{`not json`, `{"message":"   "}`, `{}`} {
		res, err := http.Post(srv.URL+"/api/chat/message", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, payload)
	}

	res, err := http.Get(srv.URL + "/api/chat/message")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHandler_GetConversation(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/api/chat/conversation/conv-1")
	require.NoError(t, err)
	var snap dialogue.Snapshot
	require.NoError(t, json.NewDecoder(res.Body).Decode(&snap))
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "John", snap.Slots["name"])

	res, err = http.Get(srv.URL + "/api/chat/conversation/unknown")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	var m dialogue.MetricsSummary
	require.NoError(t, json.NewDecoder(res.Body).Decode(&m))
	assert.Equal(t, int64(3), m.TurnCount)
}
