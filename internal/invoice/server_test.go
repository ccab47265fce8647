package invoice

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/auditor"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		aud         *mockAuditor
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		aud = &mockAuditor{
			extraction: audit.Extraction{InvoiceNumber: "INV-1", VendorName: "Acme", Total: audit.NewAmount(10)},
		}
		auth = BasicAuth{}
		ghttpServer = ghttp.NewServer()
	})

	JustBeforeEach(func() {
		service := NewServiceWithDeps(db, storage, aud, &mockIDGenerator{}, newMockTimeSource())
		metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "invoice_auditor_decisions_total 1\n")
		})
		server = NewServerWithMux(service, auth, metrics, http.NewServeMux())
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(filename string, content []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		part.Write(content)
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decodeError := func(resp *http.Response) string {
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	Describe("GET /healthz", func() {
		It("should return ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("GET /metrics", func() {
		It("should serve the metrics handler", func() {
			resp, err := http.Get(ghttpServer.URL() + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("invoice_auditor_decisions_total"))
		})
	})

	Describe("POST /api/invoices", func() {
		When("a PDF is uploaded", func() {
			It("should return the audited invoice", func() {
				resp := upload("invoice.pdf", []byte("%PDF-1.4"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var invoice Invoice
				Expect(json.NewDecoder(resp.Body).Decode(&invoice)).To(Succeed())
				Expect(invoice.ContentType).To(Equal("application/pdf"))
				Expect(invoice.Status).To(Equal(StatusApproved))
				Expect(invoice.Result).NotTo(BeNil())
				Expect(invoice.Extraction.InvoiceNumber).To(Equal("INV-1"))
			})
		})

		When("the file type is not supported", func() {
			It("should return unsupported media type", func() {
				resp := upload("notes.txt", []byte("hello"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnsupportedMediaType))
				Expect(decodeError(resp)).To(ContainSubstring("unsupported"))
			})
		})

		When("no file is provided", func() {
			It("should return bad request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.WriteField("other", "value")
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeError(resp)).To(ContainSubstring("No file"))
			})
		})

		When("the body is not multipart", func() {
			It("should return bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /api/invoices", func() {
		BeforeEach(func() {
			db.invoices["a"] = &Invoice{ID: "a", VendorID: "v-1", Status: StatusApproved}
			db.invoices["b"] = &Invoice{ID: "b", VendorID: "v-2", Status: StatusHumanReview}
		})

		It("should list every invoice", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var invoices []Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
			Expect(invoices).To(HaveLen(2))
		})

		It("should apply query filters", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices?status=human_review")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var invoices []Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
			Expect(invoices).To(HaveLen(1))
			Expect(invoices[0].ID).To(Equal("b"))
		})

		When("there are no invoices", func() {
			BeforeEach(func() {
				db.invoices = map[string]*Invoice{}
			})

			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})
	})

	Describe("GET /api/invoices/{id}", func() {
		It("should return the invoice", func() {
			db.invoices["a"] = &Invoice{ID: "a"}
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices/a")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return not found", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices/missing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(resp)).To(Equal("Invoice not found"))
		})
	})

	Describe("GET /api/invoices/{id}/file", func() {
		It("should return the document with its content type", func() {
			storage.files["a.png"] = []byte("png-bytes")
			db.invoices["a"] = &Invoice{ID: "a", Filename: "a.png", ContentType: "image/png"}

			resp, err := http.Get(ghttpServer.URL() + "/api/invoices/a/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("png-bytes"))
		})
	})

	Describe("POST /api/invoices/{id}/audit", func() {
		It("should re-run the audit", func() {
			db.invoices["a"] = &Invoice{ID: "a", Status: StatusPending}
			aud.action = audit.ActionEscalateNegotiation

			resp, err := http.Post(ghttpServer.URL()+"/api/invoices/a/audit", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var invoice Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoice)).To(Succeed())
			Expect(invoice.Status).To(Equal(StatusEscalateNegotiation))
			Expect(invoice.Result.NegotiationDraft).To(BeNil())
		})

		It("should return not found", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/invoices/missing/audit", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/invoices/{id}/review", func() {
		review := func(id, body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/invoices/"+id+"/review", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		BeforeEach(func() {
			db.invoices["a"] = &Invoice{
				ID:     "a",
				Status: StatusApproved,
				Result: &auditor.Result{Decision: audit.Decision{Action: audit.ActionApproved}, ConfidenceScore: 90},
			}
			db.invoices["pending"] = &Invoice{ID: "pending", Status: StatusPending}
		})

		It("should record the decision", func() {
			resp := review("a", `{"reviewer":"dana","decision":"rejected","reason":"wrong rate"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var invoice Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoice)).To(Succeed())
			Expect(invoice.Status).To(Equal(StatusRejected))
			Expect(invoice.Review.Reviewer).To(Equal("dana"))
			Expect(invoice.Review.Agreed).To(BeFalse())
		})

		It("should reject unknown decisions", func() {
			resp := review("a", `{"reviewer":"dana","decision":"maybe"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeError(resp)).To(ContainSubstring("decision"))
		})

		It("should reject malformed bodies", func() {
			resp := review("a", "{")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should conflict on invoices without an audit", func() {
			resp := review("pending", `{"reviewer":"dana","decision":"approved"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should return not found", func() {
			resp := review("missing", `{"reviewer":"dana","decision":"approved"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/reviews/disagreements", func() {
		It("should list only overturned invoices", func() {
			db.invoices["over"] = &Invoice{ID: "over", Review: &Review{Decision: StatusRejected, EngineAction: audit.ActionApproved}}
			db.invoices["kept"] = &Invoice{ID: "kept", Review: &Review{Decision: StatusApproved, EngineAction: audit.ActionApproved, Agreed: true}}
			db.invoices["none"] = &Invoice{ID: "none"}

			resp, err := http.Get(ghttpServer.URL() + "/api/reviews/disagreements")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var invoices []Invoice
			Expect(json.NewDecoder(resp.Body).Decode(&invoices)).To(Succeed())
			Expect(invoices).To(HaveLen(1))
			Expect(invoices[0].ID).To(Equal("over"))
		})
	})

	Describe("DELETE /api/invoices/{id}", func() {
		It("should delete the invoice", func() {
			db.invoices["a"] = &Invoice{ID: "a"}
			req, _ := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/invoices/a", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.invoices).To(BeEmpty())
		})
	})

	Describe("vendors", func() {
		BeforeEach(func() {
			db.vendors["v-1"] = &Vendor{ID: "v-1", Name: "Acme"}
			db.invoices["a"] = &Invoice{ID: "a", VendorID: "v-1"}
		})

		It("should list vendors", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/vendors")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var vendors []Vendor
			Expect(json.NewDecoder(resp.Body).Decode(&vendors)).To(Succeed())
			Expect(vendors).To(HaveLen(1))
		})

		It("should summarize a vendor", func() {
			db.invoices["a"].Status = StatusApproved
			db.invoices["a"].Extraction.Total = audit.NewAmount(40)

			resp, err := http.Get(ghttpServer.URL() + "/api/vendors/v-1/summary")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var summary VendorSummary
			Expect(json.NewDecoder(resp.Body).Decode(&summary)).To(Succeed())
			Expect(summary.VendorName).To(Equal("Acme"))
			Expect(summary.InvoiceCount).To(Equal(1))
			Expect(summary.StatusCounts).To(Equal(map[Status]int{StatusApproved: 1}))
			Expect(summary.TotalApproved).To(Equal(40.0))
		})

		It("should return not found for an unknown vendor summary", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/vendors/missing/summary")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeError(resp)).To(Equal("Vendor not found"))
		})

		It("should re-audit a vendor's invoices", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/vendors/v-1/audit", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(aud.audited).To(Equal([]string{"a"}))
		})
	})

	Describe("pricing", func() {
		It("should replace the table", func() {
			body := `[{"vendor":"AWS","service_name":"EC2","price_per_unit":0.1,"price_per_hour":null}]`
			req, _ := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/pricing", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(db.pricing).To(HaveLen(1))
			Expect(db.pricing[0].PricePerUnit).To(Equal(audit.NewAmount(0.1)))
		})

		It("should reject malformed bodies", func() {
			req, _ := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/pricing", strings.NewReader("{"))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should read the table", func() {
			db.pricing = []audit.PricingRow{{ServiceName: "EC2"}}
			resp, err := http.Get(ghttpServer.URL() + "/api/pricing")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var rows []audit.PricingRow
			Expect(json.NewDecoder(resp.Body).Decode(&rows)).To(Succeed())
			Expect(rows).To(HaveLen(1))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, _ := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/invoices", nil)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/invoices")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, _ := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/invoices", nil)
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave health checks open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
