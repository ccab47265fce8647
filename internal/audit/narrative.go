package audit

import (
	"errors"
	"fmt"
)

// Severity grades an anomaly flag
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyFlag is one qualitative finding raised by the reasoning model
type AnomalyFlag struct {
	AnomalyType   string   `json:"anomaly_type" jsonschema:"description=Type of anomaly, e.g. overpricing, duplicate_invoice_id, price_deviation"`
	Severity      Severity `json:"severity" jsonschema:"enum=low,enum=medium,enum=high"`
	AffectedField string   `json:"affected_field" jsonschema:"description=Path to the affected field, e.g. line_items[2].unit_price"`
	Description   string   `json:"description"`
	Confidence    float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
}

// LineItemAnalysis marks whether a line item is referenced by an anomalous signal
type LineItemAnalysis struct {
	LineItemIndex int  `json:"line_item_index" jsonschema:"description=Zero-based position of the line item in the invoice"`
	Flagged       bool `json:"flagged"`
}

// Narrative is the qualitative framing produced by the reasoning model. It
// deliberately carries no signals: figures only ever come from ComputeSignals.
type Narrative struct {
	IsDuplicate       bool               `json:"is_duplicate"`
	DuplicateEvidence string             `json:"duplicate_evidence,omitempty" jsonschema:"nullable"`
	LineItemAnalyses  []LineItemAnalysis `json:"line_item_analyses"`
	AnomalyFlags      []AnomalyFlag      `json:"anomaly_flags"`
	Summary           string             `json:"summary" jsonschema:"description=2-3 sentence summary addressed to a human auditor"`
}

// Validate checks the response against constraints a schema cannot express
// for every provider. lineItems is the number of line items on the invoice.
func (n Narrative) Validate(lineItems int) error {
	var errs []error
	if n.Summary == "" {
		errs = append(errs, errors.New("summary is empty"))
	}
	for i, f := range n.AnomalyFlags {
		switch f.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			errs = append(errs, fmt.Errorf("anomaly_flags[%d]: unknown severity %q", i, f.Severity))
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			errs = append(errs, fmt.Errorf("anomaly_flags[%d]: confidence %v outside [0,1]", i, f.Confidence))
		}
	}
	for i, a := range n.LineItemAnalyses {
		if a.LineItemIndex < 0 || a.LineItemIndex >= lineItems {
			errs = append(errs, fmt.Errorf("line_item_analyses[%d]: index %d out of range", i, a.LineItemIndex))
		}
	}
	return errors.Join(errs...)
}
