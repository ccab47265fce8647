package provider

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// retrying retries transient failures of the wrapped provider
type retrying struct {
	Provider
	attempts   uint
	newBackOff func() backoff.BackOff
}

// WithRetry wraps p so transient failures are retried with exponential
// backoff, up to attempts tries in total
func WithRetry(p Provider, attempts int) Provider {
	if attempts < 1 {
		attempts = 1
	}
	return &retrying{
		Provider: p,
		attempts: uint(attempts),
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

func (r *retrying) GenerateStructured(ctx context.Context, prompt string, schema Schema, out any) error {
	return r.do(ctx, "generate", func() error {
		return r.Provider.GenerateStructured(ctx, prompt, schema, out)
	})
}

func (r *retrying) GenerateStructuredFromImage(ctx context.Context, prompt string, image []byte, mimeType string, schema Schema, out any) error {
	return r.do(ctx, "generate_from_image", func() error {
		return r.Provider.GenerateStructuredFromImage(ctx, prompt, image, mimeType, schema, out)
	})
}

func (r *retrying) GenerateStructuredFromPDF(ctx context.Context, prompt string, pdf []byte, schema Schema, out any) error {
	return r.do(ctx, "generate_from_pdf", func() error {
		return r.Provider.GenerateStructuredFromPDF(ctx, prompt, pdf, schema, out)
	})
}

func (r *retrying) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err == nil {
			return struct{}{}, nil
		}
		if !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(r.newBackOff()),
		backoff.WithMaxTries(r.attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "retrying provider call",
				"provider", r.Name(),
				"operation", op,
				"attempt", attempt,
				"next_in", next,
				"error", err)
		}),
	)
	return err
}

// IsTransient reports whether a provider error is worth retrying: rate limits,
// server errors, timeouts and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrInvalidResponse) ||
		errors.Is(err, ErrNoResponse) ||
		errors.Is(err, ErrUnsupportedDocument) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return transientStatus(anthropicErr.StatusCode)
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return transientStatus(openaiErr.StatusCode)
	}
	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		return transientStatus(googleErr.Code)
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return transientStatus(statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

func transientStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}
