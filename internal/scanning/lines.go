package scanning

import (
	"regexp"
	"strconv"
	"strings"
)

// LineItemDraft is a best-effort name/price pair that still needs human review
type LineItemDraft struct {
	Name  string
	Price float64
}

// lineItemPattern matches lines like "Burger        12.99" or "Fries $4.50"
var lineItemPattern = regexp.MustCompile(`^(.+?)\s+\$?(\d{1,3}\.\d{2})$`)

// summaryKeywords mark rows that are totals rather than purchasable items
var summaryKeywords = []string{"total", "tax", "tip", "subtotal", "balance", "amount"}

// MatchLineItems pulls name/price pairs out of raw OCR text one line at a time.
// Lines that don't look like an item are skipped; it never fails.
func MatchLineItems(text string) []LineItemDraft {
	drafts := make([]LineItemDraft, 0)
	for _, line := range strings.Split(text, "\n") {
		m := lineItemPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		price, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		if isSummaryRow(name) {
			continue
		}
		drafts = append(drafts, LineItemDraft{Name: name, Price: price})
	}
	return drafts
}

func isSummaryRow(name string) bool {
	lowered := strings.ToLower(name)
	for _, kw := range summaryKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}
