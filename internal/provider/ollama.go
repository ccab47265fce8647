package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama implements Provider against a local Ollama server
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama provider. The model must be vision capable
// for image and PDF input; llava and qwen2-vl work well for invoices.
func NewOllama(cfg Config) (*Ollama, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel(NameOllama)
	}

	return &Ollama{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			// Ollama can be slow, especially for vision models
			Timeout: timeoutOr(cfg.Timeout, 300*time.Second),
		},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// Name returns the provider and model
func (o *Ollama) Name() string {
	return NameOllama + "/" + o.model
}

// GenerateStructured answers a text prompt
func (o *Ollama) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error {
	return o.chat(ctx, ollamaMessage{Role: "user", Content: prompt}, schema, out)
}

// GenerateStructuredFromImage answers a prompt about an image
func (o *Ollama) GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error {
	pngData, err := PrepareImage(image, mimeType)
	if err != nil {
		return err
	}
	return o.chat(ctx, ollamaMessage{
		Role:    "user",
		Content: prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
	}, schema, out)
}

// GenerateStructuredFromPDF renders the first page and answers about it
func (o *Ollama) GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error {
	return o.GenerateStructuredFromImage(ctx, prompt, pdf, MIMETypePDF, schema, out)
}

func (o *Ollama) chat(ctx context.Context, msg ollamaMessage, schema Schema, out any) error {
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading invoices and auditing billed amounts. Answer only with JSON.",
			},
			msg,
		},
		Format:  schema.JSON(),
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &StatusError{Provider: NameOllama, StatusCode: resp.StatusCode, Body: string(body)}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	slog.DebugContext(ctx, "ollama call completed",
		"model", o.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.PromptEvalCount,
		"completion_tokens", chatResp.EvalCount)

	if err := decodeJSON(chatResp.Message.Content, out); err != nil {
		return fmt.Errorf("ollama: %w", err)
	}
	return nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
