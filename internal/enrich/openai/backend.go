// Package openai talks to any OpenAI-compatible chat completions endpoint, including
// Ollama's /v1 API and vLLM's OpenAI server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
)

type Config struct {
	// BaseURL is the API root, e.g. "http://localhost:11434/v1".
	BaseURL string
	Model   string
	// APIKey is optional for local servers.
	APIKey string

	// JSONSchema sends the schema as a json_schema response format. When false the
	// backend only asks for a json_object.
	JSONSchema bool

	HTTPClient *http.Client
}

type Backend struct {
	client     *goopenai.Client
	model      string
	jsonSchema bool
}

func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("openai: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	cc := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	cc.BaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.HTTPClient != nil {
		cc.HTTPClient = cfg.HTTPClient
	}
	return &Backend{
		client:     goopenai.NewClientWithConfig(cc),
		model:      strings.TrimSpace(cfg.Model),
		jsonSchema: cfg.JSONSchema,
	}, nil
}

func (b *Backend) Name() string { return "openai" }

func (b *Backend) Complete(ctx context.Context, req enrich.Request) (string, error) {
	format, err := b.responseFormat(req)
	if err != nil {
		return "", err
	}

	resp, err := b.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: b.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: req.System},
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature:    temperature(req.Sampling.Temperature),
		MaxTokens:      req.Sampling.MaxOutputTokens,
		ResponseFormat: format,
	})
	if err != nil {
		return "", classifyErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *Backend) responseFormat(req enrich.Request) (*goopenai.ChatCompletionResponseFormat, error) {
	if !b.jsonSchema || req.Schema == nil {
		return &goopenai.ChatCompletionResponseFormat{Type: goopenai.ChatCompletionResponseFormatTypeJSONObject}, nil
	}
	raw, err := req.Schema.JSONSchema()
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &goopenai.ChatCompletionResponseFormat{
		Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
			Name:   req.Schema.Name,
			Schema: raw,
		},
	}, nil
}

// temperature maps 0 to the smallest positive float32: the client drops zero values
// from the request body and servers then apply their own default.
func temperature(t float32) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &enrich.StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &enrich.StatusError{StatusCode: reqErr.HTTPStatusCode, Message: http.StatusText(reqErr.HTTPStatusCode), Err: err}
	}
	return fmt.Errorf("openai: %w", err)
}
