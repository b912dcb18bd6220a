package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MatchLineItems", func() {
	DescribeTable("single lines",
		func(line string, expected []LineItemDraft) {
			Expect(MatchLineItems(line)).To(Equal(expected))
		},
		Entry("name and price separated by spaces", "Burger        12.99", []LineItemDraft{{Name: "Burger", Price: 12.99}}),
		Entry("price with a currency symbol", "Fries $4.50", []LineItemDraft{{Name: "Fries", Price: 4.50}}),
		Entry("subtotal row", "Subtotal   45.00", []LineItemDraft{}),
		Entry("three decimal digits", "Soda 2.999", []LineItemDraft{}),
		Entry("no decimals", "Table 12", []LineItemDraft{}),
		Entry("no whitespace before the price", "Burger12.99", []LineItemDraft{}),
		Entry("tax row", "Sales Tax 3.20", []LineItemDraft{}),
		Entry("tip row in caps", "TIP 5.00", []LineItemDraft{}),
		Entry("balance due", "Balance Due $61.20", []LineItemDraft{}),
		Entry("amount row", "Amount 61.20", []LineItemDraft{}),
		Entry("multi-word names", "Caesar Salad w/ Chicken  14.25", []LineItemDraft{{Name: "Caesar Salad w/ Chicken", Price: 14.25}}),
		Entry("trailing whitespace", "Coffee 3.00   ", []LineItemDraft{{Name: "Coffee", Price: 3.00}}),
	)

	It("keeps the order of matched lines and ignores the rest", func() {
		text := "JOE'S DINER\r\n123 Main St\r\nBurger        12.99\r\nFries $4.50\r\nSubtotal   17.49\r\nTax 1.40\r\nTotal 18.89\r\n"
		Expect(MatchLineItems(text)).To(Equal([]LineItemDraft{
			{Name: "Burger", Price: 12.99},
			{Name: "Fries", Price: 4.50},
		}))
	})

	It("returns an empty result for empty text", func() {
		Expect(MatchLineItems("")).To(BeEmpty())
	})

	It("does not match a name and price split across lines", func() {
		Expect(MatchLineItems("Burger\n12.99")).To(BeEmpty())
	})
})
