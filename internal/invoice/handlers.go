package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/invoice-auditor/internal/audit"
	"github.com/zombor/invoice-auditor/internal/provider"
)

const maxUploadSize = int64(50 << 20) // 50MB

const tooLargeMessage = "File is too large. Maximum size is 50MB."

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidReview):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAudited):
		return http.StatusConflict
	case errors.Is(err, provider.ErrUnsupportedDocument):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, provider.ErrNoResponse), errors.Is(err, provider.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// contentTypeFor infers a content type from the file extension
func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return provider.MIMETypeJPEG
	case ".png":
		return provider.MIMETypePNG
	case ".gif":
		return provider.MIMETypeGIF
	case ".webp":
		return provider.MIMETypeWEBP
	case ".pdf":
		return provider.MIMETypePDF
	case ".heic":
		return provider.MIMETypeHEIC
	case ".heif":
		return provider.MIMETypeHEIF
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListInvoices returns invoices, optionally filtered by vendor and status
func (s *Server) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		VendorID: r.URL.Query().Get("vendor_id"),
		Status:   Status(r.URL.Query().Get("status")),
	}
	invoices, err := s.service.ListInvoices(filter)
	if err != nil {
		slog.Error("Error listing invoices", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleUploadInvoice handles invoice upload
func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, tooLargeMessage, http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		writeError(w, tooLargeMessage, http.StatusRequestEntityTooLarge)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || provider.NormalizeMIMEType(contentType) == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	invoice, err := s.service.ProcessInvoice(r.Context(), header.Filename, data, contentType)
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, invoice)
}

// handleGetInvoice returns a single invoice with its audit
func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.service.GetInvoice(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error getting invoice", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleGetInvoiceFile returns the original document
func (s *Server) handleGetInvoiceFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetInvoiceFile(r.PathValue("id"))
	if err != nil {
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleReauditInvoice re-runs the audit of one invoice
func (s *Server) handleReauditInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := s.service.ReauditInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Error re-auditing invoice", "invoice_id", r.PathValue("id"), "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleReviewInvoice records a reviewer decision
func (s *Server) handleReviewInvoice(w http.ResponseWriter, r *http.Request) {
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	invoice, err := s.service.ReviewInvoice(r.PathValue("id"), req)
	if err != nil {
		slog.Error("Error reviewing invoice", "invoice_id", r.PathValue("id"), "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleListDisagreements returns invoices where the reviewer overturned the engine
func (s *Server) handleListDisagreements(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ListDisagreements()
	if err != nil {
		slog.Error("Error listing disagreements", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

// handleDeleteInvoice deletes an invoice
func (s *Server) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteInvoice(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Invoice not found", http.StatusNotFound)
			return
		}
		slog.Error("Error deleting invoice", "error", err)
		writeError(w, "Error deleting invoice", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListVendors returns all vendors
func (s *Server) handleListVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := s.service.ListVendors()
	if err != nil {
		slog.Error("Error listing vendors", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vendors)
}

// handleReauditVendor re-runs the audit of every invoice of a vendor
func (s *Server) handleReauditVendor(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.service.ReauditVendor(r.Context(), r.PathValue("id"))
	if err != nil {
		slog.Error("Error re-auditing vendor", "vendor_id", r.PathValue("id"), "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) handleVendorSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.VendorSummary(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, "Vendor not found", http.StatusNotFound)
			return
		}
		slog.Error("Error summarizing vendor", "vendor_id", r.PathValue("id"), "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetPricing returns the pricing table
func (s *Server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.GetPricing()
	if err != nil {
		slog.Error("Error getting pricing", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleReplacePricing replaces the pricing table with the JSON array in the body
func (s *Server) handleReplacePricing(w http.ResponseWriter, r *http.Request) {
	var rows []audit.PricingRow
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if rows == nil {
		rows = []audit.PricingRow{}
	}

	if err := s.service.ReplacePricing(rows); err != nil {
		slog.Error("Error replacing pricing", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
