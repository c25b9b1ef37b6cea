package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

type Backend struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Backend{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

func (b *Backend) Name() string { return "gemini" }

func (b *Backend) Complete(ctx context.Context, req enrich.Request) (string, error) {
	resp, err := b.client.Models.GenerateContent(
		ctx,
		b.model,
		genai.Text(req.Prompt),
		generateConfig(req),
	)
	if err != nil {
		return "", classifyErr(err)
	}
	return resp.Text(), nil
}

func generateConfig(req enrich.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(req.Sampling.Temperature),
		CandidateCount:   1,
		ResponseMIMEType: "application/json",
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Sampling.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Sampling.MaxOutputTokens)
	}
	if req.Schema != nil {
		cfg.ResponseSchema = responseSchema(req.Schema)
	}
	return cfg
}

// responseSchema mirrors the model-facing fields of s. The identifier is excluded.
func responseSchema(s *schema.Schema) *genai.Schema {
	out := &genai.Schema{
		Type:       genai.TypeObject,
		Title:      s.Name,
		Properties: map[string]*genai.Schema{},
	}
	for _, f := range s.ModelFields() {
		prop := &genai.Schema{
			Type:        fieldType(f.Type),
			Description: f.Description,
		}
		if f.Nullable {
			prop.Nullable = genai.Ptr(true)
		}
		if f.Min != nil {
			prop.Minimum = genai.Ptr(float64(*f.Min))
		}
		if f.Max != nil {
			prop.Maximum = genai.Ptr(float64(*f.Max))
		}
		out.Properties[f.Name] = prop
		out.PropertyOrdering = append(out.PropertyOrdering, f.Name)
		out.Required = append(out.Required, f.Name)
	}
	return out
}

func fieldType(t schema.FieldType) genai.Type {
	switch t {
	case schema.TypeNumber:
		return genai.TypeNumber
	case schema.TypeInteger:
		return genai.TypeInteger
	default:
		return genai.TypeString
	}
}

func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Code)
		}
		return &enrich.StatusError{StatusCode: apiErr.Code, Message: msg, Err: err}
	}
	return fmt.Errorf("gemini: %w", err)
}
