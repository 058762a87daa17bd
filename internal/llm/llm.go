// Package llm wraps the Anthropic Messages API for the two calls the
// copilot needs: turning a clinician's natural-language question into
// a structured SQL-generation plan, and turning a query result back
// into a natural-language answer.
package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kcmh-his/sql-copilot/internal/executor"
)

// Message is one turn of prior conversation, fed back to the model as
// context for a follow-up question.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// historyWindow caps how much prior conversation rides along with
// each generation call.
const historyWindow = 6

// Client is a thin wrapper around the Anthropic SDK scoped to the
// two prompts this service issues.
type Client struct {
	api   anthropic.Client
	model string
}

// NewClient builds a Client against the given model using apiKey.
// Extra request options are accepted mainly so tests can point the SDK
// at an httptest server via option.WithBaseURL.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		api:   anthropic.NewClient(all...),
		model: model,
	}
}

// GenerateSQL asks the model to turn userQuestion into a
// GenerationResponse, grounded in schemaContext and conceptsContext
// and the last few turns of conversationHistory.
func (c *Client) GenerateSQL(
	ctx context.Context,
	userQuestion, schemaContext, conceptsContext string,
	conversationHistory []Message,
) (GenerationResponse, error) {
	systemPrompt := BuildSystemPrompt(schemaContext, conceptsContext, BangkokNow())
	messages := buildMessages(userQuestion, conversationHistory)

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: messages,
	})
	if err != nil {
		return GenerationResponse{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	text, ok := firstText(resp)
	if !ok {
		return GenerationResponse{}, fmt.Errorf("anthropic response had no text content")
	}
	return ParseResponse(text), nil
}

// FormatAnswer asks the model to render a query result as a concise,
// clinician-facing natural-language answer.
func (c *Client) FormatAnswer(
	ctx context.Context,
	question, sql string,
	result executor.Result,
	assumptions, conceptsUsed []string,
) (string, error) {
	prompt := buildAnswerPrompt(question, result, assumptions, conceptsUsed)

	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	text, ok := firstText(resp)
	if !ok {
		return "", fmt.Errorf("anthropic response had no text content")
	}
	return text, nil
}

func buildMessages(userQuestion string, history []Message) []anthropic.MessageParam {
	var messages []anthropic.MessageParam

	start := 0
	if len(history) > historyWindow {
		start = len(history) - historyWindow
	}
	for _, m := range history[start:] {
		if m.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(
		fmt.Sprintf("Question: %s\n\nGenerate SQL and respond with JSON only.", userQuestion),
	)))
	return messages
}

func firstText(resp *anthropic.Message) (string, bool) {
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			return text.Text, true
		}
	}
	return "", false
}
