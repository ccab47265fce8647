package provider

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/webp" // Register WEBP decoder
)

const (
	MIMETypePDF  = "application/pdf"
	MIMETypePNG  = "image/png"
	MIMETypeJPEG = "image/jpeg"
	MIMETypeGIF  = "image/gif"
	MIMETypeWEBP = "image/webp"
	MIMETypeHEIC = "image/heic"
	MIMETypeHEIF = "image/heif"
)

var supportedTypes = map[string]bool{
	MIMETypePDF:  true,
	MIMETypePNG:  true,
	MIMETypeJPEG: true,
	"image/jpg":  true,
	MIMETypeGIF:  true,
	MIMETypeWEBP: true,
	MIMETypeHEIC: true,
	MIMETypeHEIF: true,
}

// NormalizeMIMEType lowercases the content type and drops parameters
func NormalizeMIMEType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// Supported reports whether invoices of this content type can be read
func Supported(contentType string) bool {
	return supportedTypes[NormalizeMIMEType(contentType)]
}

// IsPDF reports whether the content type is a PDF
func IsPDF(contentType string) bool {
	return NormalizeMIMEType(contentType) == MIMETypePDF
}

// RenderPDF renders the first page of a PDF as PNG
func RenderPDF(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG converts any supported image format to PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	// Go's standard image package doesn't support HEIC
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedDocument, mimeType, err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// PrepareImage returns the document as PNG, rendering PDFs and converting
// other image formats
func PrepareImage(data []byte, contentType string) ([]byte, error) {
	mimeType := NormalizeMIMEType(contentType)
	if mimeType == "" {
		mimeType = MIMETypeJPEG
	}

	switch {
	case mimeType == MIMETypePDF:
		pngData, err := RenderPDF(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	case mimeType == MIMETypePNG && !isHEICFormat(data):
		return data, nil
	case !supportedTypes[mimeType]:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, mimeType)
	}

	pngData, err := imageToPNG(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("converting image to PNG: %w", err)
	}
	return pngData, nil
}
