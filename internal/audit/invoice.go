// Package audit holds the deterministic invoice audit core: signals, rubric
// scoring and routing. Nothing here performs I/O.
package audit

import "encoding/json"

// LineItem is one billed line of an invoice. It has no identity beyond its
// position in the extraction.
type LineItem struct {
	Description string `json:"description" jsonschema:"description=Line item text exactly as printed on the invoice"`
	Quantity    Amount `json:"quantity"`
	UnitPrice   Amount `json:"unit_price"`
	TotalPrice  Amount `json:"total_price"`
	Unit        string `json:"unit,omitempty" jsonschema:"nullable"`
}

// Extraction contains the structured fields read from one invoice document
type Extraction struct {
	InvoiceNumber string     `json:"invoice_number,omitempty" jsonschema:"nullable"`
	DueDate       string     `json:"due_date,omitempty" jsonschema:"nullable,description=ISO 8601 date (YYYY-MM-DD)"`
	VendorName    string     `json:"vendor_name,omitempty" jsonschema:"nullable"`
	VendorAddress string     `json:"vendor_address,omitempty" jsonschema:"nullable"`
	ClientName    string     `json:"client_name,omitempty" jsonschema:"nullable"`
	ClientAddress string     `json:"client_address,omitempty" jsonschema:"nullable"`
	LineItems     []LineItem `json:"line_items"`
	Subtotal      Amount     `json:"subtotal"`
	Tax           Amount     `json:"tax"`
	Total         Amount     `json:"total"`
	Currency      string     `json:"currency,omitempty" jsonschema:"nullable,description=ISO 4217 currency code"`
}

type extractionJSON Extraction

// MarshalJSON always emits line_items as an array
func (e Extraction) MarshalJSON() ([]byte, error) {
	if e.LineItems == nil {
		e.LineItems = []LineItem{}
	}
	return json.Marshal(extractionJSON(e))
}

// UnmarshalJSON turns a null or missing line_items into an empty slice
func (e *Extraction) UnmarshalJSON(data []byte) error {
	var raw extractionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.LineItems == nil {
		raw.LineItems = []LineItem{}
	}
	*e = Extraction(raw)
	return nil
}

// Vendor identifies who issued the invoices in a History
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoricalInvoice is an invoice already on record for the vendor
type HistoricalInvoice struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	Total         Amount     `json:"total"`
	Currency      string     `json:"currency,omitempty"`
	LineItems     []LineItem `json:"line_items"`
}

// PricingRow is one entry of the market reference price table
type PricingRow struct {
	Vendor       string `json:"vendor"`
	ServiceName  string `json:"service_name"`
	SKUID        string `json:"sku_id,omitempty"`
	PricePerUnit Amount `json:"price_per_unit"`
	PricePerHour Amount `json:"price_per_hour"`
}

// History is the read-only context an audit runs against. Invoices holds every
// invoice of the vendor, the one being audited included.
type History struct {
	Vendor              Vendor              `json:"vendor"`
	Invoices            []HistoricalInvoice `json:"invoices"`
	Pricing             []PricingRow        `json:"cloud_pricing"`
	PricingVendorFilter string              `json:"pricing_vendor_filter,omitempty"`
}

// priorInvoices returns every invoice except the one with the given id
func (c History) priorInvoices(currentID string) []HistoricalInvoice {
	prior := make([]HistoricalInvoice, 0, len(c.Invoices))
	for _, inv := range c.Invoices {
		if inv.ID == currentID {
			continue
		}
		prior = append(prior, inv)
	}
	return prior
}
