// Package llm implements the generation collaborator over Groq's
// OpenAI-compatible Chat Completions API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/okulov/ragserver/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// Options configure the Groq client. Fields mirror the subset of Chat
// Completion parameters the pipeline needs.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Client wraps the Chat Completions API behind the rag.Generator interface.
type Client struct {
	client *openai.Client
	opts   Options
}

// New creates a Groq client. An empty baseURL falls back to DefaultBaseURL.
func New(apiKey, baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:               "llama-3.3-70b-versatile",
		Temperature:         0.7,
		MaxCompletionTokens: 2048,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
	)
	return &Client{client: &client, opts: opts}
}

// Model reports the configured chat model name.
func (c *Client) Model() string {
	return c.opts.Model
}

// Generate produces an assistant reply grounded in the retrieved documents,
// replaying the conversation history ahead of the new question.
func (c *Client) Generate(ctx context.Context, history []domain.Message, docs []domain.Document, question string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(contextPrompt(docs)))
	for _, m := range history {
		if m.Role == domain.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(question))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// contextPrompt builds the system message carrying retrieved context.
func contextPrompt(docs []domain.Document) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Answer the question based ONLY on the provided context. ")
	sb.WriteString("If the answer is not available in the context, politely state that you cannot find the information.")
	if len(docs) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\nContext:\n")
	for _, doc := range docs {
		sb.WriteString(doc.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}
