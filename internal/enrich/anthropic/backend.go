package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
)

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API root, e.g. for a proxy. Defaults to the public API.
	BaseURL string
}

type Backend struct {
	client *anthropic.Client
	model  anthropic.Model
}

func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}
	var opts []anthropic.ClientOption
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(u, "/")))
	}
	return &Backend{
		client: anthropic.NewClient(strings.TrimSpace(cfg.APIKey), opts...),
		model:  anthropic.Model(strings.TrimSpace(cfg.Model)),
	}, nil
}

func (b *Backend) Name() string { return "anthropic" }

func (b *Backend) Complete(ctx context.Context, req enrich.Request) (string, error) {
	prompt := req.Prompt
	temp := req.Sampling.Temperature
	maxTokens := req.Sampling.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = enrich.DefaultSampling().MaxOutputTokens
	}

	resp, err := b.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       b.model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return "", classifyErr(err)
	}
	return extractText(resp), nil
}

func extractText(resp anthropic.MessagesResponse) string {
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			b.WriteString(*block.Text)
		}
	}
	return b.String()
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		return &enrich.StatusError{StatusCode: reqErr.StatusCode, Message: http.StatusText(reqErr.StatusCode), Err: err}
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %s: %w", apiErr.Type, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
