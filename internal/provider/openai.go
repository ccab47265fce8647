package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI implements Provider using the Chat Completions API
type OpenAI struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAI creates a new OpenAI provider. BaseURL may point at any
// compatible endpoint.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel(NameOpenAI)
	}

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeoutOr(cfg.Timeout, 120*time.Second),
	}, nil
}

// Name returns the provider and model
func (o *OpenAI) Name() string {
	return NameOpenAI + "/" + o.model
}

// GenerateStructured answers a text prompt
func (o *OpenAI) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error {
	return o.generate(ctx, schema, out, openai.UserMessage(prompt))
}

// GenerateStructuredFromImage answers a prompt about an image
func (o *OpenAI) GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error {
	pngData, err := PrepareImage(image, mimeType)
	if err != nil {
		return err
	}
	dataURL := "data:" + MIMETypePNG + ";base64," + base64.StdEncoding.EncodeToString(pngData)
	return o.generate(ctx, schema, out, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		openai.TextContentPart(prompt),
	}))
}

// GenerateStructuredFromPDF renders the first page and answers about it
func (o *OpenAI) GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error {
	return o.GenerateStructuredFromImage(ctx, prompt, pdf, MIMETypePDF, schema, out)
}

func (o *OpenAI) generate(ctx context.Context, schema Schema, out any, message openai.ChatCompletionMessageParamUnion) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// Nullable unions in the schema are not accepted in strict mode
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        schema.Name,
		Description: openai.String("Structured response schema"),
		Schema:      schema.Map(),
		Strict:      openai.Bool(false),
	}

	params := openai.ChatCompletionNewParams{
		Model:       o.model,
		Messages:    []openai.ChatCompletionMessageParamUnion{message},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "openai call completed",
		"model", o.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return fmt.Errorf("openai: %w", ErrNoResponse)
	}
	if err := decodeJSON(resp.Choices[0].Message.Content, out); err != nil {
		return fmt.Errorf("openai: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources
func (o *OpenAI) Close() error {
	return nil
}
