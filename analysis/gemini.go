package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"propertybridge/models"
	"propertybridge/utils"
)

const defaultModel = "gemini-1.5-flash"

const listingInstruction = `You are a real-estate assistant. Summarise the property listing you are given
in at most four short lines: property type, size, price, location and notable features.
Do not invent details that are not in the text.`

const requestInstruction = `You extract structured property requirements from a message written by
someone looking for a property. Respond with a single JSON object and nothing else:
{"type":"rent"|"buy","propertyType":string,"maxPrice":number,"minBedrooms":number|null,
"preferredLocations":[string],"additionalRequirements":[string],"urgency":"high"|"medium"|"low"}
Prices are plain numbers in naira without separators. Use "unknown" for anything not stated.`

// Generator turns a prompt into model text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config for the Gemini analyzer.
type Config struct {
	APIKey     string
	ModelName  string
	MaxRetries int
	RetryDelay time.Duration
}

// Gemini is the semantic-analysis collaborator. ClassifyRequest never fails:
// malformed model output is replaced with models.DefaultRequestAttributes.
type Gemini struct {
	client  *genai.Client
	listing Generator
	request Generator
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

// NewGemini creates a Gemini-backed analyzer.
func NewGemini(ctx context.Context, cfg Config, logger *utils.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = defaultModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	listing := client.GenerativeModel(cfg.ModelName)
	listing.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(listingInstruction)}}
	listing.GenerationConfig = genai.GenerationConfig{
		Temperature:     genai.Ptr[float32](0.4),
		MaxOutputTokens: genai.Ptr[int32](300),
	}

	request := client.GenerativeModel(cfg.ModelName)
	request.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(requestInstruction)}}
	request.GenerationConfig = genai.GenerationConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  genai.Ptr[int32](400),
		ResponseMIMEType: "application/json",
	}

	logger.Info("[gemini] client initialized (model %s, %d attempts)", cfg.ModelName, cfg.MaxRetries)

	g := NewAnalyzer(&modelGenerator{model: listing}, &modelGenerator{model: request},
		&utils.RetryConfig{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay, Backoff: utils.BackoffExponential, Logger: logger},
		logger)
	g.client = client
	return g, nil
}

// NewAnalyzer builds an analyzer over arbitrary generators.
func NewAnalyzer(listing, request Generator, retry *utils.RetryConfig, logger *utils.Logger) *Gemini {
	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1, Logger: logger}
	}
	return &Gemini{listing: listing, request: request, retry: retry, logger: logger}
}

// Close releases the underlying client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// ClassifyListing returns a free-text summary of a listing.
func (g *Gemini) ClassifyListing(ctx context.Context, text string) (string, error) {
	var summary string
	err := g.retry.Do(ctx, "gemini listing summary", func() error {
		out, err := g.listing.Generate(ctx, text)
		if err != nil {
			return err
		}
		if out = strings.TrimSpace(out); out == "" {
			return errors.New("empty response from gemini")
		}
		summary = out
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("gemini: classify listing: %w", err)
	}
	return summary, nil
}

// ClassifyRequest extracts structured requirements from a request message.
func (g *Gemini) ClassifyRequest(ctx context.Context, text string) (*models.RequestAttributes, error) {
	var raw string
	err := g.retry.Do(ctx, "gemini request analysis", func() error {
		out, err := g.request.Generate(ctx, text)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if err != nil {
		g.logger.Warn("[gemini] request analysis failed, using defaults: %v", err)
		return models.DefaultRequestAttributes(), nil
	}

	attrs, err := ParseRequestAttributes(raw)
	if err != nil {
		g.logger.Warn("[gemini] malformed request analysis, using defaults: %v (response: %q)", err, raw)
		return models.DefaultRequestAttributes(), nil
	}
	return attrs, nil
}

// ParseRequestAttributes decodes model output, tolerating markdown code
// fences, and fills unusable fields from the defaults.
func ParseRequestAttributes(raw string) (*models.RequestAttributes, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return nil, errors.New("empty response")
	}

	var attrs models.RequestAttributes
	if err := json.Unmarshal([]byte(clean), &attrs); err != nil {
		return nil, fmt.Errorf("failed to parse gemini response: %w", err)
	}

	def := models.DefaultRequestAttributes()
	attrs.Type = strings.ToLower(strings.TrimSpace(attrs.Type))
	if attrs.Type != models.RequestRent && attrs.Type != models.RequestBuy {
		attrs.Type = def.Type
	}
	if strings.TrimSpace(attrs.PropertyType) == "" {
		attrs.PropertyType = def.PropertyType
	}
	if attrs.MaxPrice < 0 || attrs.MaxPrice > models.PriceCeiling || math.IsNaN(attrs.MaxPrice) || math.IsInf(attrs.MaxPrice, 0) {
		attrs.MaxPrice = 0
	}
	if attrs.MinBedrooms != nil && *attrs.MinBedrooms <= 0 {
		attrs.MinBedrooms = nil
	}
	if len(attrs.PreferredLocations) == 0 {
		attrs.PreferredLocations = def.PreferredLocations
	}
	switch attrs.Urgency = strings.ToLower(strings.TrimSpace(attrs.Urgency)); attrs.Urgency {
	case models.UrgencyHigh, models.UrgencyMedium, models.UrgencyLow:
	default:
		attrs.Urgency = def.Urgency
	}
	return &attrs, nil
}

type modelGenerator struct {
	model *genai.GenerativeModel
}

func (m *modelGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := m.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", errors.New("unexpected response type from gemini")
	}
	return b.String(), nil
}
