package invoice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/auditor"
	"github.com/zombor/invoice-auditor/internal/invoice"
	"github.com/zombor/invoice-auditor/internal/metrics"
	"github.com/zombor/invoice-auditor/internal/provider"
)

// fakeOllama answers /api/chat like a vision model would. Extractions are
// served in order; narratives and drafts are derived from the prompt.
type fakeOllama struct {
	mu          sync.Mutex
	extractions []map[string]any
	prompts     []string
}

func (f *fakeOllama) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Content string   `json:"content"`
			Images  []string `json:"images"`
		} `json:"messages"`
	}
	Expect(json.NewDecoder(r.Body).Decode(&req)).To(Succeed())
	prompt := req.Messages[len(req.Messages)-1].Content

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	var answer any
	switch {
	case strings.Contains(prompt, "forensic invoice auditor"):
		answer = map[string]any{
			"is_duplicate":       strings.Contains(prompt, "appears 2 times"),
			"line_item_analyses": []any{map[string]any{"line_item_index": 0, "flagged": false}},
			"anomaly_flags":      []any{},
			"summary":            "Reviewed against the computed signals.",
		}
	case strings.Contains(prompt, "procurement manager"):
		answer = map[string]any{
			"subject":    "Price review for invoice",
			"body":       "Please review the billed compute rate.",
			"key_points": []string{"compute rate 50% above market"},
		}
	default:
		Expect(req.Messages[len(req.Messages)-1].Images).To(HaveLen(1))
		answer = f.extractions[0]
		f.extractions = f.extractions[1:]
	}
	f.mu.Unlock()

	content, err := json.Marshal(answer)
	Expect(err).NotTo(HaveOccurred())
	json.NewEncoder(w).Encode(map[string]any{
		"message": map[string]any{"role": "assistant", "content": "```json\n" + string(content) + "\n```"},
		"done":    true,
	})
}

func extraction(number string, unitPrice float64) map[string]any {
	total := unitPrice * 10
	return map[string]any{
		"invoice_number": number,
		"vendor_name":    "Acme Cloud",
		"due_date":       "2025-04-01",
		"currency":       "USD",
		"line_items": []any{map[string]any{
			"description": "Compute",
			"quantity":    10,
			"unit_price":  unitPrice,
			"total_price": total,
		}},
		"subtotal": total,
		"tax":      nil,
		"total":    fmt.Sprintf("$%.2f", total),
	}
}

var _ = Describe("Integration", func() {
	var (
		db       *invoice.BoltDB
		store    *invoice.LocalStorage
		ollama   *fakeOllama
		llm      *ghttp.Server
		api      *ghttp.Server
		recorder *metrics.Recorder
		aud      *auditor.Auditor
	)

	BeforeEach(func() {
		tempDir := GinkgoT().TempDir()

		var err error
		db, err = invoice.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		store, err = invoice.NewLocalStorage(filepath.Join(tempDir, "invoices"))
		Expect(err).NotTo(HaveOccurred())

		ollama = &fakeOllama{extractions: []map[string]any{
			extraction("INV-100", 10),
			extraction("INV-100", 10),
			extraction("INV-101", 15),
		}}
		llm = ghttp.NewServer()
		llm.RouteToHandler(http.MethodPost, "/api/chat", ollama.handle)

		p, err := provider.New(context.Background(), provider.Config{Name: provider.NameOllama, BaseURL: llm.URL()})
		Expect(err).NotTo(HaveOccurred())

		recorder = metrics.NewRecorder()
		aud = auditor.New(p, p, 2, recorder)
		service := invoice.NewService(db, store, aud)
		server := invoice.NewServer(service, invoice.BasicAuth{}, recorder.Handler())

		api = ghttp.NewServer()
		api.RouteToHandler(http.MethodPost, "/api/invoices", server.ServeHTTP)
		api.RouteToHandler(http.MethodPut, "/api/pricing", server.ServeHTTP)
		api.RouteToHandler(http.MethodGet, "/api/invoices", server.ServeHTTP)
		api.RouteToHandler(http.MethodGet, "/metrics", server.ServeHTTP)
	})

	AfterEach(func() {
		api.Close()
		llm.Close()
		aud.Close()
		db.Close()
	})

	invoicePNG := func() []byte {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8)))).To(Succeed())
		return buf.Bytes()
	}

	upload := func() *invoice.Invoice {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", "scan.png")
		Expect(err).NotTo(HaveOccurred())
		part.Write(invoicePNG())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(api.URL()+"/api/invoices", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var inv invoice.Invoice
		Expect(json.NewDecoder(resp.Body).Decode(&inv)).To(Succeed())
		return &inv
	}

	It("should audit uploads against vendor history and market pricing", func() {
		req, _ := http.NewRequest(http.MethodPut, api.URL()+"/api/pricing",
			strings.NewReader(`[{"vendor":"Acme","service_name":"compute","price_per_unit":10}]`))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		By("approving a first invoice at market price")
		first := upload()
		Expect(first.Status).To(Equal(invoice.StatusApproved))
		Expect(first.Extraction.Total).To(Equal(audit.NewAmount(100)))
		Expect(first.Result.ConfidenceScore).To(Equal(100))
		Expect(first.Result.SecondPass.Available).To(BeTrue())

		By("escalating a resubmitted invoice number as a duplicate")
		second := upload()
		Expect(second.VendorID).To(Equal(first.VendorID))
		Expect(second.Result.ConfidenceScore).To(Equal(80))
		Expect(second.Status).To(Equal(invoice.StatusEscalateNegotiation))
		Expect(second.Result.Decision.Reason).To(Equal("Duplicate invoice detected."))
		Expect(second.Result.NegotiationDraft).To(BeNil())

		By("escalating an overpriced invoice with a negotiation draft")
		third := upload()
		Expect(third.Result.ConfidenceScore).To(Equal(20))
		Expect(third.Status).To(Equal(invoice.StatusEscalateNegotiation))
		Expect(third.Result.NegotiationDraft).NotTo(BeNil())
		Expect(third.Result.NegotiationDraft.Subject).To(Equal("Price review for invoice"))
		Expect(audit.Anomalous(third.Result.Signals)).To(HaveLen(3))

		By("persisting the results")
		stored, err := db.GetInvoice(third.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(invoice.StatusEscalateNegotiation))
		_, err = store.Get(stored.Filename)
		Expect(err).NotTo(HaveOccurred())

		resp, err = http.Get(api.URL() + "/api/invoices?status=escalate_negotiation")
		Expect(err).NotTo(HaveOccurred())
		var escalated []invoice.Invoice
		Expect(json.NewDecoder(resp.Body).Decode(&escalated)).To(Succeed())
		resp.Body.Close()
		Expect(escalated).To(HaveLen(2))
		Expect(escalated[0].ID).To(Equal(third.ID))

		By("recording decisions")
		resp, err = http.Get(api.URL() + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(string(body)).To(ContainSubstring(`invoice_auditor_decisions_total{action="approved"} 1`))
		Expect(string(body)).To(ContainSubstring(`invoice_auditor_decisions_total{action="escalate_negotiation"} 2`))
	})
})
