package audit

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Amount", func() {
	decode := func(raw string) Amount {
		var a Amount
		Expect(json.Unmarshal([]byte(raw), &a)).To(Succeed())
		return a
	}

	DescribeTable("decoding",
		func(raw string, expected Amount) {
			Expect(decode(raw)).To(Equal(expected))
		},
		Entry("number", `12.5`, NewAmount(12.5)),
		Entry("negative number", `-3`, NewAmount(-3)),
		Entry("null", `null`, Amount{}),
		Entry("numeric string", `"1,234.50"`, NewAmount(1234.5)),
		Entry("currency string", `"$ 99"`, NewAmount(99)),
		Entry("empty string", `""`, Amount{}),
		Entry("garbage string", `"twelve"`, Amount{Present: true}),
		Entry("object", `{"value": 1}`, Amount{Present: true}),
		Entry("NaN string", `"NaN"`, Amount{Present: true}),
		Entry("inf string", `"inf"`, Amount{Present: true}),
		Entry("negative infinity string", `"-Infinity"`, Amount{Present: true}),
		Entry("out of range number", `1e400`, Amount{Present: true}),
	)

	It("treats a non-finite total as malformed", func() {
		var e Extraction
		Expect(json.Unmarshal([]byte(`{"invoice_number":"A","total":"NaN"}`), &e)).To(Succeed())
		Expect(e.Total.Malformed()).To(BeTrue())
		Expect(e.Total.Positive()).To(BeFalse())
	})

	It("never fails a whole document on one bad amount", func() {
		var e Extraction
		err := json.Unmarshal([]byte(`{"invoice_number":"A","total":"lots","line_items":[{"description":"x","unit_price":true}]}`), &e)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Total.Malformed()).To(BeTrue())
		Expect(e.LineItems[0].UnitPrice.Malformed()).To(BeTrue())
	})

	It("encodes unusable amounts as null", func() {
		out, err := json.Marshal(struct {
			A Amount `json:"a"`
			B Amount `json:"b"`
			C Amount `json:"c"`
		}{NewAmount(1.5), Amount{}, Amount{Present: true}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchJSON(`{"a":1.5,"b":null,"c":null}`))
	})

	It("reports positivity", func() {
		Expect(NewAmount(0.01).Positive()).To(BeTrue())
		Expect(NewAmount(0).Positive()).To(BeFalse())
		Expect(Amount{Value: 5}.Positive()).To(BeFalse())
	})
})

var _ = Describe("Extraction JSON", func() {
	It("always encodes line_items as an array", func() {
		out, err := json.Marshal(Extraction{})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring(`"line_items":[]`))
	})

	It("decodes a null line_items list as empty", func() {
		var e Extraction
		Expect(json.Unmarshal([]byte(`{"line_items":null}`), &e)).To(Succeed())
		Expect(e.LineItems).NotTo(BeNil())
		Expect(e.LineItems).To(BeEmpty())
	})
})
