package audit

import (
	"math"
	"strings"
	"time"
)

// InvoiceLevelTarget is the line item description recorded for invoice-level criteria
const InvoiceLevelTarget = "invoice"

// Verdict is the outcome of one criterion
type Verdict struct {
	Fulfilled   bool   `json:"fulfilled"`
	Explanation string `json:"explanation"`
}

// CriterionResult is one evaluated rubric row
type CriterionResult struct {
	CriterionID         CriterionID `json:"criterion_id"`
	LineItemDescription string      `json:"line_item_description"`
	LineItemIndex       *int        `json:"line_item_index,omitempty"`
	Verdict             *Verdict    `json:"verdict"`
	PointsAwarded       int         `json:"points_awarded"`
	MaxPoints           int         `json:"max_points"`
	DataAvailable       bool        `json:"data_available"`
}

// Rubric is the weighted scoring of one invoice
type Rubric struct {
	CriterionResults []CriterionResult `json:"criterion_results"`
	TotalScore       int               `json:"total_score"`
}

// Result returns the first result for the criterion
func (r Rubric) Result(id CriterionID) (CriterionResult, bool) {
	for _, res := range r.CriterionResults {
		if res.CriterionID == id {
			return res, true
		}
	}
	return CriterionResult{}, false
}

// EvaluateRubric scores the extraction against Criteria using the computed signals
func EvaluateRubric(extraction Extraction, signals []Signal) Rubric {
	results := make([]CriterionResult, 0, 2+2*len(extraction.LineItems))
	for _, c := range Criteria {
		switch {
		case c.ID == CriterionFormalValidity:
			results = append(results, formalValidity(c, extraction, signals))
		case c.Level == LevelInvoice:
			results = append(results, fromSignal(c, InvoiceLevelTarget, nil, invoiceSignal(signals, c.Signal)))
		default:
			for i, item := range extraction.LineItems {
				results = append(results, fromSignal(c, item.Description, ptr(i), lineSignal(signals, c.Signal, i)))
			}
		}
	}
	return Rubric{
		CriterionResults: results,
		TotalScore:       AggregateScore(results),
	}
}

// AggregateScore returns the 0-100 score over results with data. With no
// available data the invoice is scored as clean.
func AggregateScore(results []CriterionResult) int {
	awarded, possible := 0, 0
	for _, r := range results {
		if !r.DataAvailable {
			continue
		}
		awarded += r.PointsAwarded
		possible += r.MaxPoints
	}
	if possible == 0 {
		return 100
	}
	return int(math.RoundToEven(float64(awarded) / float64(possible) * 100))
}

func formalValidity(c Criterion, e Extraction, signals []Signal) CriterionResult {
	var failures []string

	var missing []string
	if e.InvoiceNumber == "" {
		missing = append(missing, "invoice_number")
	}
	if e.VendorName == "" {
		missing = append(missing, "vendor_name")
	}
	if !e.Total.Valid {
		missing = append(missing, "total")
	}
	if len(missing) > 0 {
		failures = append(failures, "missing required fields: "+strings.Join(missing, ", "))
	}
	if e.DueDate != "" && !validISODate(e.DueDate) {
		failures = append(failures, "due_date "+e.DueDate+" is not an ISO date")
	}
	for _, s := range signals {
		if s.Type == SignalDuplicateInvoice && s.IsAnomalous {
			failures = append(failures, "duplicate invoice number")
			break
		}
	}

	verdict := &Verdict{Fulfilled: len(failures) == 0, Explanation: "All formal checks passed."}
	if !verdict.Fulfilled {
		verdict.Explanation = "Formal checks failed: " + strings.Join(failures, "; ") + "."
	}
	return CriterionResult{
		CriterionID:         c.ID,
		LineItemDescription: InvoiceLevelTarget,
		Verdict:             verdict,
		PointsAwarded:       points(c, verdict.Fulfilled),
		MaxPoints:           c.MaxPoints,
		DataAvailable:       true,
	}
}

func fromSignal(c Criterion, target string, index *int, s *Signal) CriterionResult {
	res := CriterionResult{
		CriterionID:         c.ID,
		LineItemDescription: target,
		LineItemIndex:       index,
		MaxPoints:           c.MaxPoints,
	}
	if s == nil {
		return res
	}
	fulfilled := !s.IsAnomalous
	res.Verdict = &Verdict{Fulfilled: fulfilled, Explanation: s.Statement}
	res.PointsAwarded = points(c, fulfilled)
	res.DataAvailable = true
	return res
}

func points(c Criterion, fulfilled bool) int {
	if fulfilled {
		return c.MaxPoints
	}
	return 0
}

func invoiceSignal(signals []Signal, typ SignalType) *Signal {
	for i := range signals {
		if signals[i].Type == typ && signals[i].Scope == ScopeInvoice {
			return &signals[i]
		}
	}
	return nil
}

func lineSignal(signals []Signal, typ SignalType, index int) *Signal {
	for i := range signals {
		s := &signals[i]
		if s.Type == typ && s.LineItemIndex != nil && *s.LineItemIndex == index {
			return s
		}
	}
	return nil
}

func validISODate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}
