package auditor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/provider"
)

// NegotiationDraft is a renegotiation email for the vendor
type NegotiationDraft struct {
	Subject   string   `json:"subject" jsonschema:"description=Email subject line"`
	Body      string   `json:"body" jsonschema:"description=Full email body addressed to the vendor"`
	KeyPoints []string `json:"key_points" jsonschema:"description=Bullet points of anomalies or overpricing to raise"`
}

// Validate rejects drafts without a subject or body
func (d NegotiationDraft) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Subject) == "" {
		errs = append(errs, errors.New("subject is empty"))
	}
	if strings.TrimSpace(d.Body) == "" {
		errs = append(errs, errors.New("body is empty"))
	}
	return errors.Join(errs...)
}

// DraftNegotiation asks the reasoning model for an email disputing the
// anomalies in the narrative
func DraftNegotiation(ctx context.Context, p provider.Provider, extraction audit.Extraction, narrative audit.Narrative, signals []audit.Signal) (*NegotiationDraft, error) {
	draft, err := provider.Generate[NegotiationDraft](ctx, p, buildNegotiationPrompt(extraction, narrative, signals))
	if err != nil {
		return nil, fmt.Errorf("drafting negotiation: %w", err)
	}
	return &draft, nil
}

func buildNegotiationPrompt(extraction audit.Extraction, narrative audit.Narrative, signals []audit.Signal) string {
	vendor := extraction.VendorName
	if vendor == "" {
		vendor = "the vendor"
	}
	number := extraction.InvoiceNumber
	if number == "" {
		number = "N/A"
	}

	flags := "See signals below."
	if len(narrative.AnomalyFlags) > 0 {
		lines := make([]string, len(narrative.AnomalyFlags))
		for i, f := range narrative.AnomalyFlags {
			lines[i] = fmt.Sprintf("- [%s] %s", strings.ToUpper(string(f.Severity)), f.Description)
		}
		flags = strings.Join(lines, "\n")
	}

	return fmt.Sprintf(negotiationPrompt,
		vendor,
		number,
		narrative.Summary,
		flags,
		statements(audit.Anomalous(signals), "No specific signals."),
	)
}
