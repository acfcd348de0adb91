// Package evaluator produces assistant replies for the turn controller.
package evaluator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"speakloop/agent/internal/turn"
)

const (
	ModeEcho   = "echo"
	ModeOpenAI = "openai"
)

type Config struct {
	Mode         string
	APIKey       string
	BaseURL      string // optional; any OpenAI-compatible endpoint
	Model        string
	SystemPrompt string
	// MaxHistory bounds how many past messages are sent. 0 sends all.
	MaxHistory int
	HTTPClient *http.Client
}

// New builds the evaluator selected by cfg.Mode.
func New(cfg Config) (turn.Evaluator, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeEcho:
		return Echo{}, nil
	case ModeOpenAI:
		o, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, errors.Errorf("unknown evaluator mode %q", cfg.Mode)
	}
}

// Echo repeats the user's words back. It needs no network and is used for
// demos and tests.
type Echo struct{}

func (Echo) Evaluate(_ context.Context, req turn.EvalRequest) (string, error) {
	text := strings.TrimSpace(req.UserText)
	if text == "" {
		return "", nil
	}
	return fmt.Sprintf("You said: %s", text), nil
}

// OpenAI asks a chat-completions endpoint for the next reply.
type OpenAI struct {
	client     *openai.Client
	model      string
	system     string
	maxHistory int
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai evaluator: missing API key")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	} else {
		oc.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:     openai.NewClientWithConfig(oc),
		model:      model,
		system:     cfg.SystemPrompt,
		maxHistory: cfg.MaxHistory,
	}, nil
}

func (o *OpenAI) Evaluate(ctx context.Context, req turn.EvalRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.messages(req),
	})
	if err != nil {
		return "", errors.Wrap(err, "openai evaluator")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai evaluator: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// messages maps the conversation onto chat roles. The user's utterance is
// normally already the last history entry; it is appended when it is not.
func (o *OpenAI) messages(req turn.EvalRequest) []openai.ChatCompletionMessage {
	hist := req.History
	if o.maxHistory > 0 && len(hist) > o.maxHistory {
		hist = hist[len(hist)-o.maxHistory:]
	}
	out := make([]openai.ChatCompletionMessage, 0, len(hist)+2)
	if o.system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.system})
	}
	for _, m := range hist {
		role := openai.ChatMessageRoleUser
		if m.Role == turn.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	user := strings.TrimSpace(req.UserText)
	if user != "" {
		n := len(hist)
		if n == 0 || hist[n-1].Role != turn.RoleUser || strings.TrimSpace(hist[n-1].Text) != user {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
		}
	}
	return out
}
