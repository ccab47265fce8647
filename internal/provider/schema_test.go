package provider

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Schema", func() {
	var schema Schema

	BeforeEach(func() {
		schema = SchemaFor[answer]()
	})

	It("is named after the type", func() {
		Expect(schema.Name).To(Equal("answer"))
	})

	It("inlines properties and forbids extras", func() {
		m := schema.Map()
		Expect(m).NotTo(HaveKey("$schema"))
		Expect(m).NotTo(HaveKey("$ref"))
		Expect(m).To(HaveKeyWithValue("type", "object"))
		Expect(m).To(HaveKeyWithValue("additionalProperties", false))
	})

	It("reports properties and required fields", func() {
		props, required := schema.Properties()
		Expect(props).To(HaveKey("title"))
		Expect(props).To(HaveKey("amount"))
		Expect(required).To(ConsistOf("title", "amount"))
	})

	It("embeds the schema in prompts", func() {
		prompt := promptWithSchema("Extract it.", schema)
		Expect(prompt).To(HavePrefix("Extract it."))
		Expect(prompt).To(ContainSubstring(`"title"`))
	})
})
