package audit

import (
	"fmt"
	"math"
	"strings"
)

// SignalType names the fact a Signal reports
type SignalType string

const (
	SignalMarketDeviation     SignalType = "market_deviation"
	SignalHistoricalDeviation SignalType = "historical_deviation"
	SignalDuplicateInvoice    SignalType = "duplicate_invoice"
	SignalVendorTotalDrift    SignalType = "vendor_total_drift"
	SignalMathInconsistency   SignalType = "math_inconsistency"
)

// Scope tells whether a Signal applies to one line item or the whole invoice
type Scope string

const (
	ScopeLineItem Scope = "line_item"
	ScopeInvoice  Scope = "invoice"
)

const (
	// PriceTolerancePct is the per-line deviation beyond which a price is anomalous
	PriceTolerancePct = 15.0
	// TotalDriftTolerancePct is the invoice-total deviation beyond which drift is anomalous
	TotalDriftTolerancePct = 25.0
	// MathTolerance is the absolute currency difference tolerated between the
	// stated total and line items plus tax
	MathTolerance = 0.02
)

// Signal is a deterministically computed fact about an invoice. Signals are
// never produced or altered by a model.
type Signal struct {
	Type                SignalType `json:"signal_type"`
	Scope               Scope      `json:"scope"`
	LineItemDescription string     `json:"line_item_description,omitempty"`
	LineItemIndex       *int       `json:"line_item_index,omitempty"`
	InvoiceValue        *float64   `json:"invoice_value,omitempty"`
	ReferenceValue      *float64   `json:"reference_value,omitempty"`
	DeviationPct        *float64   `json:"deviation_pct,omitempty"`
	NSamples            int        `json:"n_samples,omitempty"`
	Statement           string     `json:"statement"`
	IsAnomalous         bool       `json:"is_anomalous"`
}

func ptr[T any](v T) *T {
	return &v
}

// deviationPct returns the relative deviation of value from ref in percent.
// ok is false when ref is not positive.
func deviationPct(value, ref float64) (pct float64, ok bool) {
	if ref <= 0 {
		return 0, false
	}
	return (value - ref) / ref * 100.0, true
}

// ComputeSignals computes every quantitative signal for the extraction.
// ctx.Invoices must contain the invoice being audited under currentInvoiceID;
// it is counted for duplicates and excluded from historical references.
func ComputeSignals(extraction Extraction, ctx History, currentInvoiceID string) []Signal {
	var signals []Signal
	prior := ctx.priorInvoices(currentInvoiceID)
	pricing := filterPricing(ctx.Pricing, ctx.PricingVendorFilter)

	if s, ok := duplicateSignal(extraction, ctx.Invoices); ok {
		signals = append(signals, s)
	}

	for i, item := range extraction.LineItems {
		if !item.UnitPrice.Valid {
			continue
		}
		if ref, ok := marketReferencePrice(item.Description, pricing); ok {
			if s, ok := lineDeviationSignal(SignalMarketDeviation, "market", i, item, ref, 0); ok {
				signals = append(signals, s)
			}
		}
		if ref, n, ok := historicalReferencePrice(item.Description, prior); ok {
			if s, ok := lineDeviationSignal(SignalHistoricalDeviation, "historical", i, item, ref, n); ok {
				signals = append(signals, s)
			}
		}
	}

	if s, ok := totalDriftSignal(extraction, prior); ok {
		signals = append(signals, s)
	}
	if s, ok := mathSignal(extraction); ok {
		signals = append(signals, s)
	}
	return signals
}

func duplicateSignal(extraction Extraction, invoices []HistoricalInvoice) (Signal, bool) {
	if extraction.InvoiceNumber == "" {
		return Signal{}, false
	}
	count := 0
	for _, inv := range invoices {
		if inv.InvoiceNumber == extraction.InvoiceNumber {
			count++
		}
	}
	if count <= 1 {
		return Signal{}, false
	}
	return Signal{
		Type:        SignalDuplicateInvoice,
		Scope:       ScopeInvoice,
		NSamples:    count,
		Statement:   fmt.Sprintf("Invoice number %s appears %d times for this vendor.", extraction.InvoiceNumber, count),
		IsAnomalous: true,
	}, true
}

func lineDeviationSignal(typ SignalType, label string, index int, item LineItem, ref float64, samples int) (Signal, bool) {
	pct, ok := deviationPct(item.UnitPrice.Value, ref)
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Type:                typ,
		Scope:               ScopeLineItem,
		LineItemDescription: item.Description,
		LineItemIndex:       ptr(index),
		InvoiceValue:        ptr(item.UnitPrice.Value),
		ReferenceValue:      ptr(ref),
		DeviationPct:        ptr(pct),
		NSamples:            samples,
		Statement: fmt.Sprintf("%s: billed %.6f vs %s %.6f (%+.2f%%).",
			item.Description, item.UnitPrice.Value, label, ref, pct),
		IsAnomalous: math.Abs(pct) > PriceTolerancePct,
	}, true
}

func totalDriftSignal(extraction Extraction, prior []HistoricalInvoice) (Signal, bool) {
	if !extraction.Total.Valid {
		return Signal{}, false
	}
	var sum float64
	var n int
	for _, inv := range prior {
		if inv.Total.Valid {
			sum += inv.Total.Value
			n++
		}
	}
	if n == 0 {
		return Signal{}, false
	}
	ref := sum / float64(n)
	total := extraction.Total.Value
	pct, ok := deviationPct(total, ref)
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Type:           SignalVendorTotalDrift,
		Scope:          ScopeInvoice,
		InvoiceValue:   ptr(total),
		ReferenceValue: ptr(ref),
		DeviationPct:   ptr(pct),
		NSamples:       n,
		Statement: fmt.Sprintf("Invoice total %.2f vs vendor historical mean %.2f (%+.2f%%).",
			total, ref, pct),
		IsAnomalous: math.Abs(pct) > TotalDriftTolerancePct,
	}, true
}

func mathSignal(extraction Extraction) (Signal, bool) {
	if !extraction.Total.Valid || len(extraction.LineItems) == 0 {
		return Signal{}, false
	}
	var expected float64
	for _, item := range extraction.LineItems {
		// A missing line total makes the sum meaningless.
		if !item.TotalPrice.Valid {
			return Signal{}, false
		}
		expected += item.TotalPrice.Value
	}
	if extraction.Tax.Valid {
		expected += extraction.Tax.Value
	}

	total := extraction.Total.Value
	diff := total - expected
	if math.Abs(diff) <= MathTolerance {
		return Signal{}, false
	}

	s := Signal{
		Type:           SignalMathInconsistency,
		Scope:          ScopeInvoice,
		InvoiceValue:   ptr(total),
		ReferenceValue: ptr(expected),
		Statement: fmt.Sprintf("Invoice total %.2f does not match sum of line items + tax (%.2f, diff %+.2f). "+
			"Possible extraction error or undisclosed charge.", total, expected, diff),
		IsAnomalous: true,
	}
	if expected != 0 {
		s.DeviationPct = ptr(diff / expected * 100.0)
	}
	return s, true
}

func filterPricing(rows []PricingRow, vendor string) []PricingRow {
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return rows
	}
	filtered := make([]PricingRow, 0, len(rows))
	for _, row := range rows {
		if strings.EqualFold(strings.TrimSpace(row.Vendor), vendor) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// marketReferencePrice returns the price of the first pricing row matching the
// description by substring in either direction, or by sku id.
func marketReferencePrice(description string, rows []PricingRow) (float64, bool) {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" {
		return 0, false
	}
	for _, row := range rows {
		service := strings.ToLower(strings.TrimSpace(row.ServiceName))
		sku := strings.ToLower(strings.TrimSpace(row.SKUID))
		matched := (service != "" && (strings.Contains(desc, service) || strings.Contains(service, desc))) ||
			(sku != "" && strings.Contains(desc, sku))
		if !matched {
			continue
		}
		// A non-zero unit price wins even when negative; that row is then skipped.
		candidate := row.PricePerUnit
		if !candidate.Valid || candidate.Value == 0 {
			candidate = row.PricePerHour
		}
		if candidate.Positive() {
			return candidate.Value, true
		}
	}
	return 0, false
}

// historicalReferencePrice averages the positive unit prices billed for the
// same description on prior invoices.
func historicalReferencePrice(description string, prior []HistoricalInvoice) (mean float64, samples int, ok bool) {
	target := strings.ToLower(strings.TrimSpace(description))
	var sum float64
	for _, inv := range prior {
		for _, item := range inv.LineItems {
			if strings.ToLower(strings.TrimSpace(item.Description)) != target {
				continue
			}
			if item.UnitPrice.Positive() {
				sum += item.UnitPrice.Value
				samples++
			}
		}
	}
	if samples == 0 {
		return 0, 0, false
	}
	return sum / float64(samples), samples, true
}

// Anomalous returns the subset of signals flagged anomalous
func Anomalous(signals []Signal) []Signal {
	var out []Signal
	for _, s := range signals {
		if s.IsAnomalous {
			out = append(out, s)
		}
	}
	return out
}
