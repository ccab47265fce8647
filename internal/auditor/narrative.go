package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/provider"
)

// SynthesizeNarrative asks the reasoning model to frame the computed signals.
// The returned narrative never contains figures of its own; signals stay with
// the caller.
func SynthesizeNarrative(ctx context.Context, p provider.Provider, extraction audit.Extraction, signals []audit.Signal, rubric audit.Rubric) (*audit.Narrative, error) {
	prompt, err := buildNarrativePrompt(extraction, signals, rubric)
	if err != nil {
		return nil, err
	}

	narrative, err := provider.Generate[audit.Narrative](ctx, p, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesizing narrative: %w", err)
	}
	if err := narrative.Validate(len(extraction.LineItems)); err != nil {
		return nil, fmt.Errorf("synthesizing narrative: %w: %w", provider.ErrInvalidResponse, err)
	}
	return &narrative, nil
}

func buildNarrativePrompt(extraction audit.Extraction, signals []audit.Signal, rubric audit.Rubric) (string, error) {
	invoiceJSON, err := json.MarshalIndent(extraction, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding extraction: %w", err)
	}

	return fmt.Sprintf(narrativePrompt,
		invoiceJSON,
		statements(signals, "No quantitative signals available."),
		statements(audit.Anomalous(signals), "None."),
		rubric.TotalScore,
	), nil
}

// statements renders one "- statement" line per signal
func statements(signals []audit.Signal, empty string) string {
	if len(signals) == 0 {
		return empty
	}
	lines := make([]string, len(signals))
	for i, s := range signals {
		lines[i] = "- " + s.Statement
	}
	return strings.Join(lines, "\n")
}
