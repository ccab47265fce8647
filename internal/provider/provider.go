// Package provider talks to the language models that read invoices and reason
// about them. Every variant answers with JSON matching a caller-supplied schema.
package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoResponse is returned when the model produced no usable answer
	ErrNoResponse = errors.New("no response from model")
	// ErrInvalidResponse is returned when the answer does not decode or validate
	ErrInvalidResponse = errors.New("invalid model response")
	// ErrUnsupportedDocument is returned for content types no provider can read
	ErrUnsupportedDocument = errors.New("unsupported document type")
)

// Provider defines the structured generation operations the auditor needs
type Provider interface {
	// Name identifies the provider and model, e.g. "claude/claude-sonnet-4-5"
	Name() string
	// GenerateStructured answers a text prompt, decoding the JSON result into out
	GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error
	// GenerateStructuredFromImage answers a prompt about an image
	GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error
	// GenerateStructuredFromPDF answers a prompt about a PDF document
	GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error
	// Close releases any underlying client
	Close() error
}

// StatusError is a non-200 answer from a provider's HTTP API
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

type validator interface {
	Validate() error
}

// Generate reflects the schema of T, asks p and decodes the answer
func Generate[T any](ctx context.Context, p Provider, prompt string) (T, error) {
	var out T
	if err := p.GenerateStructured(ctx, prompt, SchemaFor[T](), &out); err != nil {
		return out, err
	}
	return out, validate(&out)
}

// GenerateFromImage is Generate for a prompt about an image
func GenerateFromImage[T any](ctx context.Context, p Provider, prompt string, image []byte, mimeType string) (T, error) {
	var out T
	if err := p.GenerateStructuredFromImage(ctx, prompt, image, mimeType, SchemaFor[T](), &out); err != nil {
		return out, err
	}
	return out, validate(&out)
}

// GenerateFromPDF is Generate for a prompt about a PDF
func GenerateFromPDF[T any](ctx context.Context, p Provider, prompt string, pdf []byte) (T, error) {
	var out T
	if err := p.GenerateStructuredFromPDF(ctx, prompt, pdf, SchemaFor[T](), &out); err != nil {
		return out, err
	}
	return out, validate(&out)
}

func validate(v any) error {
	val, ok := v.(validator)
	if !ok {
		return nil
	}
	if err := val.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}
