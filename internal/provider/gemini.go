package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements Provider using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini provider
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultModel(NameGemini)
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:    client,
		model:     model,
		modelName: modelName,
		timeout:   timeoutOr(cfg.Timeout, 60*time.Second),
	}, nil
}

// Name returns the provider and model
func (g *Gemini) Name() string {
	return NameGemini + "/" + g.modelName
}

// GenerateStructured answers a text prompt
func (g *Gemini) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error {
	return g.generate(ctx, out, genai.Text(promptWithSchema(prompt, schema)))
}

// GenerateStructuredFromImage answers a prompt about an image
func (g *Gemini) GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error {
	pngData, err := PrepareImage(image, mimeType)
	if err != nil {
		return err
	}
	// genai.ImageData expects just the format suffix, not the full MIME type
	return g.generate(ctx, out,
		genai.ImageData("png", pngData),
		genai.Text(promptWithSchema(prompt, schema)),
	)
}

// GenerateStructuredFromPDF passes the PDF inline; Gemini reads PDFs natively
func (g *Gemini) GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error {
	return g.generate(ctx, out,
		genai.Blob{MIMEType: MIMETypePDF, Data: pdf},
		genai.Text(promptWithSchema(prompt, schema)),
	)
}

func (g *Gemini) generate(ctx context.Context, out any, parts ...genai.Part) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return fmt.Errorf("generating content: %w", err)
	}
	slog.DebugContext(ctx, "gemini call completed",
		"model", g.modelName,
		"duration_ms", time.Since(start).Milliseconds())

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return fmt.Errorf("gemini: %w", ErrNoResponse)
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	if err := decodeJSON(responseText.String(), out); err != nil {
		return fmt.Errorf("gemini: %w", err)
	}
	return nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
