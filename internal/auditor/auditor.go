// Package auditor runs the audit pipeline: extraction, deterministic scoring,
// the reasoning pass and negotiation drafting.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/provider"
	"golang.org/x/sync/semaphore"
)

// ErrNoReasoner is recorded when no reasoning provider is configured
var ErrNoReasoner = errors.New("reasoning provider not configured")

// Recorder receives audit metrics
type Recorder interface {
	Decision(action string, score int)
	Signal(signalType string, anomalous bool)
	ProviderCall(provider, operation string, err error, d time.Duration)
	NarrativeFailure()
	DraftFailure()
}

// SecondPass records whether the reasoning pass produced a narrative
type SecondPass struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of auditing one invoice
type Result struct {
	Extraction       audit.Extraction  `json:"extraction"`
	Signals          []audit.Signal    `json:"signals"`
	Rubric           audit.Rubric      `json:"rubric"`
	Narrative        *audit.Narrative  `json:"narrative"`
	SecondPass       SecondPass        `json:"second_pass"`
	Decision         audit.Decision    `json:"decision"`
	NegotiationDraft *NegotiationDraft `json:"negotiation_draft"`
	ConfidenceScore  int               `json:"confidence_score"`
}

// Auditor runs audits against an extraction and a reasoning provider
type Auditor struct {
	extractor provider.Provider
	reasoner  provider.Provider
	sem       *semaphore.Weighted
	metrics   Recorder
}

// New creates an Auditor. At most concurrency provider calls run at once;
// reasoner may be nil, in which case every audit lacks a narrative.
func New(extractor, reasoner provider.Provider, concurrency int64, metrics Recorder) *Auditor {
	if concurrency < 1 {
		concurrency = 1
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Auditor{
		extractor: extractor,
		reasoner:  reasoner,
		sem:       semaphore.NewWeighted(concurrency),
		metrics:   metrics,
	}
}

// Extract reads the structured invoice fields out of a document
func (a *Auditor) Extract(ctx context.Context, document []byte, contentType string) (audit.Extraction, error) {
	if !provider.Supported(contentType) {
		return audit.Extraction{}, fmt.Errorf("%w: %s", provider.ErrUnsupportedDocument, contentType)
	}
	if a.extractor == nil {
		return audit.Extraction{}, errors.New("extraction provider not configured")
	}

	var extraction audit.Extraction
	err := a.call(ctx, a.extractor, "extract", func(ctx context.Context) error {
		var err error
		if provider.IsPDF(contentType) {
			extraction, err = provider.GenerateFromPDF[audit.Extraction](ctx, a.extractor, extractionPrompt, document)
		} else {
			extraction, err = provider.GenerateFromImage[audit.Extraction](ctx, a.extractor, extractionPrompt, document, contentType)
		}
		return err
	})
	if err != nil {
		return audit.Extraction{}, fmt.Errorf("extracting invoice: %w", err)
	}
	return audit.Normalize(extraction), nil
}

// Audit scores an extraction against its context and routes it. It does not
// fail when the reasoning provider does; the failure is recorded on
// Result.SecondPass instead.
func (a *Auditor) Audit(ctx context.Context, extraction audit.Extraction, auditCtx audit.History, invoiceID string) Result {
	extraction = audit.Normalize(extraction)
	signals := audit.ComputeSignals(extraction, auditCtx, invoiceID)
	if signals == nil {
		signals = []audit.Signal{}
	}
	rubric := audit.EvaluateRubric(extraction, signals)

	res := Result{
		Extraction:      extraction,
		Signals:         signals,
		Rubric:          rubric,
		ConfidenceScore: rubric.TotalScore,
	}

	narrative, err := a.synthesize(ctx, extraction, signals, rubric)
	if err != nil {
		slog.Warn("reasoning pass failed", "invoice_id", invoiceID, "error", err)
		a.metrics.NarrativeFailure()
		res.SecondPass = SecondPass{Error: err.Error()}
	} else {
		res.Narrative = narrative
		res.SecondPass = SecondPass{Available: true}
	}

	res.Decision = audit.Decide(res.Narrative, rubric.TotalScore, rubric)

	if res.Decision.Action == audit.ActionEscalateNegotiation && res.Narrative != nil && !res.Narrative.IsDuplicate {
		draft, err := a.draft(ctx, extraction, *res.Narrative, signals)
		if err != nil {
			slog.Warn("negotiation draft failed", "invoice_id", invoiceID, "error", err)
			a.metrics.DraftFailure()
		} else {
			res.NegotiationDraft = draft
		}
	}

	for _, s := range signals {
		a.metrics.Signal(string(s.Type), s.IsAnomalous)
	}
	a.metrics.Decision(string(res.Decision.Action), res.ConfidenceScore)

	slog.Info("invoice audited",
		"invoice_id", invoiceID,
		"score", res.ConfidenceScore,
		"action", res.Decision.Action,
		"signals", len(signals),
		"anomalous", len(audit.Anomalous(signals)),
		"second_pass", res.SecondPass.Available)

	return res
}

func (a *Auditor) synthesize(ctx context.Context, extraction audit.Extraction, signals []audit.Signal, rubric audit.Rubric) (*audit.Narrative, error) {
	if a.reasoner == nil {
		return nil, ErrNoReasoner
	}
	var narrative *audit.Narrative
	err := a.call(ctx, a.reasoner, "narrative", func(ctx context.Context) error {
		var err error
		narrative, err = SynthesizeNarrative(ctx, a.reasoner, extraction, signals, rubric)
		return err
	})
	return narrative, err
}

func (a *Auditor) draft(ctx context.Context, extraction audit.Extraction, narrative audit.Narrative, signals []audit.Signal) (*NegotiationDraft, error) {
	var draft *NegotiationDraft
	err := a.call(ctx, a.reasoner, "negotiation", func(ctx context.Context) error {
		var err error
		draft, err = DraftNegotiation(ctx, a.reasoner, extraction, narrative, signals)
		return err
	})
	return draft, err
}

// call runs fn while holding a provider slot
func (a *Auditor) call(ctx context.Context, p provider.Provider, operation string, fn func(context.Context) error) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for provider slot: %w", err)
	}
	defer a.sem.Release(1)

	start := time.Now()
	err := fn(ctx)
	a.metrics.ProviderCall(p.Name(), operation, err, time.Since(start))
	return err
}

// Close closes both providers
func (a *Auditor) Close() error {
	var errs []error
	if a.extractor != nil {
		errs = append(errs, a.extractor.Close())
	}
	if a.reasoner != nil && a.reasoner != a.extractor {
		errs = append(errs, a.reasoner.Close())
	}
	return errors.Join(errs...)
}

type nopRecorder struct{}

func (nopRecorder) Decision(string, int)                              {}
func (nopRecorder) Signal(string, bool)                               {}
func (nopRecorder) ProviderCall(string, string, error, time.Duration) {}
func (nopRecorder) NarrativeFailure()                                 {}
func (nopRecorder) DraftFailure()                                     {}
