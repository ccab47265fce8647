package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/auditor"
	"github.com/zombor/invoice-auditor/internal/provider"
	"golang.org/x/sync/errgroup"
)

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	whitespace  = regexp.MustCompile(`\s+`)
	safeExt     = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)
)

var (
	// ErrInvalidReview is returned for a review without a reviewer or with an unknown decision
	ErrInvalidReview = errors.New("invalid review")
	// ErrNotAudited is returned when reviewing an invoice that has no audit result
	ErrNotAudited = errors.New("invoice has not been audited")
)

// Auditor extracts and audits invoice documents
type Auditor interface {
	Extract(ctx context.Context, document []byte, contentType string) (audit.Extraction, error)
	Audit(ctx context.Context, extraction audit.Extraction, auditCtx audit.History, invoiceID string) auditor.Result
}

// IDGenerator generates unique IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// UUIDGenerator generates random UUIDs
type UUIDGenerator struct{}

// Generate returns a new UUID
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// RealTimeSource provides the actual current time
type RealTimeSource struct{}

// Now returns the current time
func (RealTimeSource) Now() time.Time {
	return time.Now()
}

// ReviewRequest is a reviewer's decision on an invoice
type ReviewRequest struct {
	Reviewer string `json:"reviewer"`
	Decision Status `json:"decision"`
	Reason   string `json:"reason"`
}

// ListFilter narrows ListInvoices. Empty fields match everything.
type ListFilter struct {
	VendorID string
	Status   Status
}

// Service handles invoice business logic
type Service struct {
	db                  DB
	storage             Storage
	auditor             Auditor
	idGen               IDGenerator
	timeSource          TimeSource
	pricingVendorFilter string
	reauditConcurrency  int
}

// Option configures a Service
type Option func(*Service)

// WithPricingVendorFilter limits market matching to pricing rows of one vendor
func WithPricingVendorFilter(vendor string) Option {
	return func(s *Service) {
		s.pricingVendorFilter = vendor
	}
}

// WithReauditConcurrency bounds how many invoices a vendor re-audit runs at once
func WithReauditConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.reauditConcurrency = n
		}
	}
}

// NewService creates a new invoice service
func NewService(db DB, storage Storage, a Auditor, opts ...Option) *Service {
	return NewServiceWithDeps(db, storage, a, UUIDGenerator{}, RealTimeSource{}, opts...)
}

// NewServiceWithDeps creates a new invoice service with custom dependencies (useful for testing)
func NewServiceWithDeps(db DB, storage Storage, a Auditor, idGen IDGenerator, timeSource TimeSource, opts ...Option) *Service {
	s := &Service{
		db:                 db,
		storage:            storage,
		auditor:            a,
		idGen:              idGen,
		timeSource:         timeSource,
		reauditConcurrency: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessInvoice stores an uploaded document, extracts it and runs the audit.
// The extraction is persisted before the audit context is built, so the audit
// sees the invoice in its own vendor history.
func (s *Service) ProcessInvoice(ctx context.Context, filename string, data []byte, contentType string) (*Invoice, error) {
	contentType = provider.NormalizeMIMEType(contentType)
	if !provider.Supported(contentType) {
		return nil, fmt.Errorf("%w: %s", provider.ErrUnsupportedDocument, contentType)
	}

	id := s.idGen.Generate()
	storedName, err := s.storage.Save(id+"_"+sanitizeFilename(filename), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	slog.Info("extracting invoice", "invoice_id", id, "filename", filename, "content_type", contentType)
	extraction, err := s.auditor.Extract(ctx, data, contentType)
	if err != nil {
		s.discardFile(storedName)
		return nil, fmt.Errorf("extracting invoice: %w", err)
	}

	vendor, err := s.vendorFor(extraction.VendorName)
	if err != nil {
		s.discardFile(storedName)
		return nil, err
	}

	now := s.timeSource.Now()
	invoice := &Invoice{
		ID:          id,
		Filename:    storedName,
		ContentType: contentType,
		Status:      StatusPending,
		Extraction:  extraction,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if vendor != nil {
		invoice.VendorID = vendor.ID
	}
	if err := s.db.SaveInvoice(invoice); err != nil {
		s.discardFile(storedName)
		return nil, fmt.Errorf("saving invoice: %w", err)
	}

	if err := s.audit(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// discardFile removes the stored upload of an invoice that was never saved
func (s *Service) discardFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("failed to delete file of unsaved invoice", "path", path, "error", err)
	}
}

// ReauditInvoice runs the audit again from the stored extraction
func (s *Service) ReauditInvoice(ctx context.Context, id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if err := s.audit(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// ReauditVendor re-runs the audit for every invoice of the vendor, a bounded
// number at a time. The first failure cancels the remaining audits.
func (s *Service) ReauditVendor(ctx context.Context, vendorID string) ([]*Invoice, error) {
	if _, err := s.db.GetVendor(vendorID); err != nil {
		return nil, fmt.Errorf("getting vendor: %w", err)
	}
	invoices, err := s.ListInvoices(ListFilter{VendorID: vendorID})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.reauditConcurrency)
	for _, inv := range invoices {
		g.Go(func() error {
			return s.audit(gctx, inv)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Service) audit(ctx context.Context, invoice *Invoice) error {
	auditCtx, err := s.BuildContext(invoice.VendorID, invoice.ID)
	if err != nil {
		return err
	}

	result := s.auditor.Audit(ctx, invoice.Extraction, auditCtx, invoice.ID)

	now := s.timeSource.Now()
	invoice.Result = &result
	invoice.Status = Status(result.Decision.Action)
	if invoice.Review != nil {
		invoice.Status = invoice.Review.Decision
	}
	invoice.UpdatedAt = now
	invoice.AuditedAt = &now
	if err := s.db.SaveInvoice(invoice); err != nil {
		return fmt.Errorf("saving audit result: %w", err)
	}

	slog.Info("invoice audited",
		"invoice_id", invoice.ID,
		"vendor_id", invoice.VendorID,
		"action", result.Decision.Action,
		"score", result.ConfidenceScore,
		"second_pass", result.SecondPass.Available,
	)
	return nil
}

// ReviewInvoice records a reviewer's decision, replacing any earlier one. The
// decision becomes the invoice status.
func (s *Service) ReviewInvoice(id string, req ReviewRequest) (*Invoice, error) {
	reviewer := strings.TrimSpace(req.Reviewer)
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidReview)
	}
	if req.Decision != StatusApproved && req.Decision != StatusRejected {
		return nil, fmt.Errorf("%w: decision must be %q or %q", ErrInvalidReview, StatusApproved, StatusRejected)
	}

	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	if invoice.Result == nil {
		return nil, fmt.Errorf("invoice %s: %w", id, ErrNotAudited)
	}

	now := s.timeSource.Now()
	engineAction := invoice.Result.Decision.Action
	invoice.Review = &Review{
		Reviewer:     reviewer,
		Decision:     req.Decision,
		EngineAction: engineAction,
		Agreed:       agrees(req.Decision, engineAction),
		Reason:       strings.TrimSpace(req.Reason),
		ReviewedAt:   now,
	}
	invoice.Status = req.Decision
	invoice.UpdatedAt = now
	if err := s.db.SaveInvoice(invoice); err != nil {
		return nil, fmt.Errorf("saving review: %w", err)
	}

	slog.Info("invoice reviewed",
		"invoice_id", invoice.ID,
		"reviewer", reviewer,
		"decision", req.Decision,
		"engine_action", engineAction,
		"agreed", invoice.Review.Agreed,
	)
	return invoice, nil
}

// ListDisagreements returns reviewed invoices whose reviewer overturned the
// engine, most recently reviewed first
func (s *Service) ListDisagreements() ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	disagreements := make([]*Invoice, 0)
	for _, inv := range invoices {
		if inv.Review != nil && !inv.Review.Agreed {
			disagreements = append(disagreements, inv)
		}
	}
	sort.SliceStable(disagreements, func(i, j int) bool {
		return disagreements[i].Review.ReviewedAt.After(disagreements[j].Review.ReviewedAt)
	})
	return disagreements, nil
}

// VendorSummary aggregates counts, totals and scores over a vendor's invoices.
// Totals add readable invoice totals regardless of currency.
func (s *Service) VendorSummary(vendorID string) (*VendorSummary, error) {
	vendor, err := s.db.GetVendor(vendorID)
	if err != nil {
		return nil, fmt.Errorf("getting vendor: %w", err)
	}
	invoices, err := s.ListInvoices(ListFilter{VendorID: vendorID})
	if err != nil {
		return nil, err
	}

	summary := &VendorSummary{
		VendorID:     vendor.ID,
		VendorName:   vendor.Name,
		InvoiceCount: len(invoices),
		StatusCounts: map[Status]int{},
	}
	var scoreSum, scored int
	for _, inv := range invoices {
		summary.StatusCounts[inv.Status]++
		if total := inv.Extraction.Total; total.Valid {
			summary.TotalBilled += total.Value
			if inv.Status == StatusApproved {
				summary.TotalApproved += total.Value
			}
		}
		if inv.Result != nil {
			scoreSum += inv.Result.ConfidenceScore
			scored++
		}
		if inv.Review != nil && !inv.Review.Agreed {
			summary.Disagreements++
		}
	}
	if scored > 0 {
		summary.AverageConfidenceScore = float64(scoreSum) / float64(scored)
	}
	return summary, nil
}

// vendorFor finds the vendor by name or creates it. A blank or placeholder
// name yields no vendor.
func (s *Service) vendorFor(name string) (*Vendor, error) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return nil, nil
	}

	vendor, created, err := s.db.FindOrCreateVendor(name, func() *Vendor {
		return &Vendor{
			ID:        s.idGen.Generate(),
			Name:      name,
			CreatedAt: s.timeSource.Now(),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("finding vendor: %w", err)
	}
	if created {
		slog.Info("vendor created", "vendor_id", vendor.ID, "name", vendor.Name)
	}
	return vendor, nil
}

// BuildContext assembles the audit context for an invoice: the vendor, every
// stored invoice of the vendor (the current one included) and the pricing
// table. Without a vendor only the current invoice is included.
func (s *Service) BuildContext(vendorID, currentInvoiceID string) (audit.History, error) {
	auditCtx := audit.History{
		Invoices:            []audit.HistoricalInvoice{},
		PricingVendorFilter: s.pricingVendorFilter,
	}

	if vendorID != "" {
		vendor, err := s.db.GetVendor(vendorID)
		if err != nil {
			return audit.History{}, fmt.Errorf("getting vendor: %w", err)
		}
		auditCtx.Vendor = audit.Vendor{ID: vendor.ID, Name: vendor.Name}
	}

	invoices, err := s.db.ListInvoices()
	if err != nil {
		return audit.History{}, fmt.Errorf("listing invoices: %w", err)
	}
	sortOldestFirst(invoices)
	for _, inv := range invoices {
		if vendorID == "" && inv.ID != currentInvoiceID {
			continue
		}
		if vendorID != "" && inv.VendorID != vendorID {
			continue
		}
		auditCtx.Invoices = append(auditCtx.Invoices, inv.historical())
	}

	pricing, err := s.db.GetPricing()
	if err != nil {
		return audit.History{}, fmt.Errorf("getting pricing: %w", err)
	}
	auditCtx.Pricing = pricing
	return auditCtx, nil
}

// GetInvoice retrieves an invoice by ID
func (s *Service) GetInvoice(id string) (*Invoice, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, fmt.Errorf("getting invoice: %w", err)
	}
	return invoice, nil
}

// ListInvoices returns the matching invoices, newest first
func (s *Service) ListInvoices(filter ListFilter) ([]*Invoice, error) {
	invoices, err := s.db.ListInvoices()
	if err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}

	matched := make([]*Invoice, 0, len(invoices))
	for _, inv := range invoices {
		if filter.VendorID != "" && inv.VendorID != filter.VendorID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		matched = append(matched, inv)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

// DeleteInvoice removes an invoice and its file
func (s *Service) DeleteInvoice(id string) error {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return fmt.Errorf("getting invoice: %w", err)
	}

	if invoice.Filename != "" {
		if err := s.storage.Delete(invoice.Filename); err != nil {
			slog.Warn("failed to delete invoice file", "invoice_id", id, "path", invoice.Filename, "error", err)
		}
	}

	if err := s.db.DeleteInvoice(id); err != nil {
		return fmt.Errorf("deleting invoice: %w", err)
	}
	return nil
}

// GetInvoiceFile returns the original document and its content type
func (s *Service) GetInvoiceFile(id string) ([]byte, string, error) {
	invoice, err := s.db.GetInvoice(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting invoice: %w", err)
	}
	data, err := s.storage.Get(invoice.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting file: %w", err)
	}
	return data, invoice.ContentType, nil
}

// ListVendors returns all vendors sorted by name
func (s *Service) ListVendors() ([]*Vendor, error) {
	vendors, err := s.db.ListVendors()
	if err != nil {
		return nil, fmt.Errorf("listing vendors: %w", err)
	}
	sort.Slice(vendors, func(i, j int) bool {
		return strings.ToLower(vendors[i].Name) < strings.ToLower(vendors[j].Name)
	})
	return vendors, nil
}

// GetPricing returns the market pricing table
func (s *Service) GetPricing() ([]audit.PricingRow, error) {
	rows, err := s.db.GetPricing()
	if err != nil {
		return nil, fmt.Errorf("getting pricing: %w", err)
	}
	return rows, nil
}

// ReplacePricing swaps the market pricing table for rows
func (s *Service) ReplacePricing(rows []audit.PricingRow) error {
	if err := s.db.SavePricing(rows); err != nil {
		return fmt.Errorf("saving pricing: %w", err)
	}
	slog.Info("pricing table replaced", "rows", len(rows))
	return nil
}

func sortOldestFirst(invoices []*Invoice) {
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.Before(invoices[j].CreatedAt)
	})
}

// sanitizeFilename strips a filename down to alphanumerics, spaces, hyphens and
// underscores and truncates the base name
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = whitespace.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "invoice"
	}
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	return base + ext
}
