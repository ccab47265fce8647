package audit

import (
	"fmt"
	"strings"
)

// placeholders are values models emit instead of leaving a field empty
var placeholders = map[string]bool{
	"n/a":     true,
	"na":      true,
	"none":    true,
	"null":    true,
	"nil":     true,
	"unknown": true,
	"-":       true,
	"--":      true,
	"?":       true,
}

// collapseWhitespace trims s and folds every whitespace run into one space
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isPlaceholder(s string) bool {
	return s == "" || placeholders[strings.ToLower(s)]
}

// optionalField cleans a header field, dropping placeholder values
func optionalField(s string) string {
	s = collapseWhitespace(s)
	if isPlaceholder(s) {
		return ""
	}
	return s
}

// Normalize returns a cleaned copy of the extraction. It is idempotent and
// must run before signals are computed, since descriptions are join keys.
func Normalize(e Extraction) Extraction {
	out := e
	out.InvoiceNumber = optionalField(e.InvoiceNumber)
	out.DueDate = optionalField(e.DueDate)
	out.VendorName = optionalField(e.VendorName)
	out.VendorAddress = optionalField(e.VendorAddress)
	out.ClientName = optionalField(e.ClientName)
	out.ClientAddress = optionalField(e.ClientAddress)
	out.Currency = strings.ToUpper(optionalField(e.Currency))

	out.LineItems = make([]LineItem, len(e.LineItems))
	for i, item := range e.LineItems {
		item.Description = collapseWhitespace(item.Description)
		if isPlaceholder(item.Description) {
			item.Description = fmt.Sprintf("Line item %d", i+1)
		}
		item.Unit = optionalField(item.Unit)
		out.LineItems[i] = item
	}
	return out
}
