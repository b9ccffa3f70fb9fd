// Package genai extracts intents and entities from lead messages using the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is used when no model is configured.
const DefaultModel = string(openai.ChatModelGPT4oMini)

// maxInputRunes bounds the text sent for extraction.
const maxInputRunes = 500

var (
	// ErrNoAPIKey is returned by NewClient without an API key.
	ErrNoAPIKey = errors.New("openai api key not set")
	// ErrNoChoicesReturned is returned when the completion carries no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService is the subset of the OpenAI chat completion service the client needs.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client classifies free text with a chat completion in JSON mode.
type Client struct {
	chat        chatService
	model       string
	temperature float64
}

// Opts holds configuration for NewClient.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// NewClient creates a Client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("genai client created", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, temperature: cfg.Temperature}, nil
}

const extractionPrompt = `Você classifica mensagens de clientes de imobiliárias e lojas de carros.
Responda somente com um objeto JSON: {"intent": string, "entities": object}.
intent é um de: search, refine, details, next, schedule_visit, handoff, greeting, decline, other.
entities pode conter: purpose ("sale" ou "rent"), property_type ("apartment", "house", "land", "commercial"),
city, neighborhood, bedrooms (inteiro), price_min, price_max (números em reais), brand, model.
Inclua apenas entidades ditas explicitamente na mensagem.`

// Extract classifies text. The output is best effort; callers sanitize it before use.
func (c *Client) Extract(ctx context.Context, text string) (*models.IntentExtraction, error) {
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		slog.Error("genai Extract failed", "error", err, "model", c.model)
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	out, err := parseExtraction(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	slog.Debug("genai Extract succeeded", "intent", out.Intent, "entities", len(out.Entities))
	return out, nil
}

// parseExtraction decodes the model output, tolerating a markdown code fence around it.
func parseExtraction(content string) (*models.IntentExtraction, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	var out models.IntentExtraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &out); err != nil {
		return nil, fmt.Errorf("failed to decode extraction: %w", err)
	}
	return &out, nil
}
