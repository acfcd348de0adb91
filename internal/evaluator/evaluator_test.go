package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speakloop/agent/internal/turn"
)

func TestEcho(t *testing.T) {
	ev, err := New(Config{Mode: "echo"})
	require.NoError(t, err)

	got, err := ev.Evaluate(context.Background(), turn.EvalRequest{UserText: "  hello there "})
	require.NoError(t, err)
	assert.Equal(t, "You said: hello there", got)

	got, err = ev.Evaluate(context.Background(), turn.EvalRequest{UserText: " "})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRejectsUnknownMode(t *testing.T) {
	_, err := New(Config{Mode: "carrier-pigeon"})
	require.Error(t, err)

	_, err = New(Config{Mode: ModeOpenAI})
	require.Error(t, err, "missing api key")
}

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestOpenAIEvaluate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"  Nice to meet you.  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	ev, err := New(Config{Mode: ModeOpenAI, APIKey: "sk-test", BaseURL: srv.URL, Model: "m", SystemPrompt: "be brief"})
	require.NoError(t, err)

	reply, err := ev.Evaluate(context.Background(), turn.EvalRequest{
		UserText: "I am Sam",
		History: []turn.Message{
			{Role: turn.RoleAssistant, Text: "What is your name?"},
			{Role: turn.RoleUser, Text: "I am Sam"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Nice to meet you.", reply)

	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "user", got.Messages[2].Role)
	assert.Equal(t, "I am Sam", got.Messages[2].Content)
}

func TestOpenAIAppendsMissingUserText(t *testing.T) {
	o, err := NewOpenAI(Config{APIKey: "k", MaxHistory: 1})
	require.NoError(t, err)
	msgs := o.messages(turn.EvalRequest{
		UserText: "next",
		History: []turn.Message{
			{Role: turn.RoleUser, Text: "old"},
			{Role: turn.RoleAssistant, Text: "reply"},
		},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "reply", msgs[0].Content)
	assert.Equal(t, "next", msgs[1].Content)
}

func TestOpenAIServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	ev, err := NewOpenAI(Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = ev.Evaluate(context.Background(), turn.EvalRequest{UserText: "hi"})
	require.Error(t, err)
}
