package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// outputTool is the tool Claude is forced to call; its input is the answer
const outputTool = "record_output"

// Claude implements Provider using the Anthropic Messages API
type Claude struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewClaude creates a new Claude provider
func NewClaude(cfg Config) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel(NameClaude)
	}

	return &Claude{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 8192,
		timeout:   timeoutOr(cfg.Timeout, 120*time.Second),
	}, nil
}

// Name returns the provider and model
func (c *Claude) Name() string {
	return NameClaude + "/" + c.model
}

// GenerateStructured answers a text prompt
func (c *Claude) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error {
	return c.generate(ctx, schema, out, anthropic.NewTextBlock(prompt))
}

// GenerateStructuredFromImage answers a prompt about an image
func (c *Claude) GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error {
	pngData, err := PrepareImage(image, mimeType)
	if err != nil {
		return err
	}
	return c.generate(ctx, schema, out,
		anthropic.NewImageBlockBase64(MIMETypePNG, base64.StdEncoding.EncodeToString(pngData)),
		anthropic.NewTextBlock(prompt),
	)
}

// GenerateStructuredFromPDF renders the first page and answers about it
func (c *Claude) GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error {
	return c.GenerateStructuredFromImage(ctx, prompt, pdf, MIMETypePDF, schema, out)
}

func (c *Claude) generate(ctx context.Context, schema Schema, out any, blocks ...anthropic.ContentBlockParamUnion) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	props, required := schema.Properties()
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        outputTool,
				Description: anthropic.String("Record the " + schema.Name + " answer."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: props,
					Required:   required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: outputTool},
		},
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return fmt.Errorf("anthropic messages: %w", err)
	}

	slog.DebugContext(ctx, "claude call completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"stop_reason", resp.StopReason)

	for _, block := range resp.Content {
		if block.Type == "tool_use" && block.Name == outputTool {
			if err := decodeJSON(string(block.Input), out); err != nil {
				return fmt.Errorf("claude: %w", err)
			}
			return nil
		}
	}
	return fmt.Errorf("claude: %w", ErrNoResponse)
}

// Close is a no-op; the SDK client holds no resources
func (c *Claude) Close() error {
	return nil
}
