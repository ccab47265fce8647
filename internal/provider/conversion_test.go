package provider

import (
	"bytes"
	"image"
	"image/gif"
	"image/jpeg"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PrepareImage", func() {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))

	isPNG := func(data []byte) bool {
		_, format, err := image.Decode(bytes.NewReader(data))
		return err == nil && format == "png"
	}

	It("returns PNG input untouched", func() {
		data := testPNG()
		out, err := PrepareImage(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(data))
	})

	It("converts JPEG to PNG", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, src, nil)).To(Succeed())
		out, err := PrepareImage(buf.Bytes(), "IMAGE/JPEG")
		Expect(err).NotTo(HaveOccurred())
		Expect(isPNG(out)).To(BeTrue())
	})

	It("converts GIF to PNG", func() {
		var buf bytes.Buffer
		Expect(gif.Encode(&buf, src, nil)).To(Succeed())
		out, err := PrepareImage(buf.Bytes(), "image/gif")
		Expect(err).NotTo(HaveOccurred())
		Expect(isPNG(out)).To(BeTrue())
	})

	It("rejects unsupported content types", func() {
		_, err := PrepareImage([]byte("a,b,c"), "text/csv")
		Expect(err).To(MatchError(ErrUnsupportedDocument))
	})

	It("reports undecodable images as unsupported", func() {
		_, err := PrepareImage([]byte("not an image"), "image/jpeg")
		Expect(err).To(MatchError(ErrUnsupportedDocument))
	})

	It("fails on a corrupt PDF", func() {
		_, err := PrepareImage([]byte("%PDF-garbage"), "application/pdf")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("content types", func() {
	DescribeTable("Supported",
		func(contentType string, expected bool) {
			Expect(Supported(contentType)).To(Equal(expected))
		},
		Entry("pdf", "application/pdf", true),
		Entry("png with parameters", "image/png; charset=binary", true),
		Entry("heic", "image/heic", true),
		Entry("webp", "image/webp", true),
		Entry("plain text", "text/plain", false),
		Entry("empty", "", false),
	)

	It("detects HEIC by magic bytes", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
		Expect(isHEICFormat(testPNG())).To(BeFalse())
	})

	It("detects PDFs", func() {
		Expect(IsPDF(" Application/PDF ")).To(BeTrue())
		Expect(IsPDF("image/png")).To(BeFalse())
	})
})

