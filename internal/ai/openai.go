package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/ObiAU/mentionfeed/internal/models"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

const (
	defaultModel   = "gpt-4o-mini"
	maxPromptItems = 25
	promptPreview  = 400
)

// Summarizer writes a short digest of a batch of mentions.
type Summarizer struct {
	client openai.Client
	model  string
}

func NewSummarizer(apiKey, model string, opts ...option.RequestOption) *Summarizer {
	if model == "" {
		model = defaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Summarizer{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Summarize returns a digest of items. An empty batch yields an empty digest
// without calling the API.
func (s *Summarizer) Summarize(ctx context.Context, items []models.Item) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	response, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You summarize community mentions of a project for its maintainers. Be brief and concrete. Plain text, no markdown."),
			openai.UserMessage(buildDigestPrompt(items)),
		},
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(300),
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func buildDigestPrompt(items []models.Item) string {
	var sb strings.Builder
	sb.WriteString("Summarize these new mentions in 2-4 sentences. ")
	sb.WriteString("Call out questions, bug reports and anything that needs a reply.\n\n")

	for i, item := range items {
		if i == maxPromptItems {
			sb.WriteString(fmt.Sprintf("(%d more not shown)\n", len(items)-maxPromptItems))
			break
		}
		sb.WriteString(fmt.Sprintf("Mention %d:\n", i+1))
		sb.WriteString(fmt.Sprintf("Source: %s\n", item.Source.Label()))
		sb.WriteString(fmt.Sprintf("Author: %s\n", item.Author))
		if item.Title != "" {
			sb.WriteString(fmt.Sprintf("Title: %s\n", item.Title))
		}
		sb.WriteString(fmt.Sprintf("Content: %s\n", item.Preview(promptPreview)))
		sb.WriteString("\n")
	}

	return sb.String()
}
