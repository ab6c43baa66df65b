package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/quizbank/internal/llm/prompts"
	"github.com/pavelanni/quizbank/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyComment is returned when the model answers without a usable comment.
var ErrEmptyComment = errors.New("LLM returned an empty comment")

type commentResponse struct {
	Comment string `json:"comment"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client and loads the prompt templates.
func New(baseURL, apiKey, modelName string) (*Client, error) {
	if err := prompts.Load(prompts.FS); err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}, nil
}

// DraftComment asks the model for an explanatory comment on q, written in lang.
// Editors review the draft before it is saved.
func (c *Client) DraftComment(ctx context.Context, lang string, q model.Question) (string, error) {
	l := prompts.Language(lang)
	if !prompts.IsValidLanguage(lang) {
		l = prompts.LanguageEnglish
	}
	prompt, err := prompts.BuildCommentPrompt(l, q)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "question_id", q.ID, "raw", raw)
	return parseComment(raw)
}

// Ping checks that the endpoint answers, used at startup.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint: %w", err)
	}
	return nil
}

func parseComment(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	// Some local models wrap JSON in a code fence despite the response format.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var cr commentResponse
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &cr); err != nil {
		return "", fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	comment := strings.TrimSpace(cr.Comment)
	if comment == "" {
		return "", ErrEmptyComment
	}
	return comment, nil
}
