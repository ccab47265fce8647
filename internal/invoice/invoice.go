// Package invoice stores uploaded invoices and their audits and serves them
// over HTTP.
package invoice

import (
	"time"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/auditor"
)

// Status tracks where an invoice is in the audit workflow
type Status string

const (
	// StatusPending is an extracted invoice that has not been audited yet
	StatusPending             Status = "pending"
	StatusApproved            Status = Status(audit.ActionApproved)
	StatusHumanReview         Status = Status(audit.ActionHumanReview)
	StatusEscalateNegotiation Status = Status(audit.ActionEscalateNegotiation)
	// StatusRejected is only reached through a reviewer decision
	StatusRejected Status = "rejected"
)

// Invoice is an uploaded invoice document with its extraction and latest audit
type Invoice struct {
	ID          string           `json:"id"`
	VendorID    string           `json:"vendor_id,omitempty"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	Status      Status           `json:"status"`
	Extraction  audit.Extraction `json:"extraction"`
	Result      *auditor.Result  `json:"result,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	AuditedAt   *time.Time       `json:"audited_at,omitempty"`
	Review      *Review          `json:"review,omitempty"`
}

// Review is a reviewer's final decision on an audited invoice. It wins over
// the engine's action and survives re-audits.
type Review struct {
	Reviewer     string       `json:"reviewer"`
	Decision     Status       `json:"decision"`
	EngineAction audit.Action `json:"engine_action"`
	Agreed       bool         `json:"agreed"`
	Reason       string       `json:"reason,omitempty"`
	ReviewedAt   time.Time    `json:"reviewed_at"`
}

// agrees reports whether a reviewer decision matches the engine action.
// Anything decided on a human_review routing agrees, since the engine deferred.
func agrees(decision Status, action audit.Action) bool {
	switch action {
	case audit.ActionApproved:
		return decision == StatusApproved
	case audit.ActionEscalateNegotiation:
		return decision == StatusRejected
	default:
		return true
	}
}

// VendorSummary aggregates the invoices of one vendor
type VendorSummary struct {
	VendorID               string         `json:"vendor_id"`
	VendorName             string         `json:"vendor_name"`
	InvoiceCount           int            `json:"invoice_count"`
	StatusCounts           map[Status]int `json:"status_counts"`
	TotalBilled            float64        `json:"total_billed"`
	TotalApproved          float64        `json:"total_approved"`
	AverageConfidenceScore float64        `json:"average_confidence_score"`
	Disagreements          int            `json:"disagreements"`
}

// Vendor is an invoice issuer, identified by its normalized name
type Vendor struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// historical converts the invoice into the form audits compare against
func (i *Invoice) historical() audit.HistoricalInvoice {
	lineItems := i.Extraction.LineItems
	if lineItems == nil {
		lineItems = []audit.LineItem{}
	}
	return audit.HistoricalInvoice{
		ID:            i.ID,
		InvoiceNumber: i.Extraction.InvoiceNumber,
		Total:         i.Extraction.Total,
		Currency:      i.Extraction.Currency,
		LineItems:     lineItems,
	}
}
