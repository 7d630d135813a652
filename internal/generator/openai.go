package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/callagent/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

const rewritePrompt = `You are %s, a friendly phone agent.
Rewrite the drafted reply so it sounds natural when spoken aloud.
Keep every fact, name, value and question from the draft. Do not add new questions or promises.
Answer with the reply text only.`

// historyWindow is how many recent transcript lines are sent as context.
const historyWindow = 10

// OpenAIGenerator rewrites replies with an OpenAI chat model.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a generator for apiKey. An empty model selects GPT-4o mini.
func NewOpenAI(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIWithConfig creates a generator from a prepared client config,
// e.g. one pointing at a compatible endpoint.
func NewOpenAIWithConfig(cfg openai.ClientConfig, model string) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	name := req.AgentName
	if name == "" {
		name = "the assistant"
	}

	msgs := make([]openai.ChatCompletionMessage, 0, historyWindow+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(rewritePrompt, name),
	})
	for _, h := range recent(req.History, historyWindow) {
		role := openai.ChatMessageRoleUser
		if h.Role == domain.RoleAgent {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "Draft reply (step " + req.Step + "): " + req.Draft,
	})

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("openai returned no choices", "model", g.model)
		return "", ErrEmptyResponse
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

func recent(history []domain.HistoryEntry, n int) []domain.HistoryEntry {
	if n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
