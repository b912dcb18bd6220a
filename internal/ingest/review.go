package ingest

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/splyt/internal/scanning"
)

// ErrInvalidTax is returned by Submit when the reviewed tax amount is negative
var ErrInvalidTax = errors.New("tax amount cannot be negative")

// Draft is an editable line item row shown during manual review
type Draft struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// Review is what the user submits from ManualReviewPending
type Review struct {
	Drafts []Draft
	// Tax is the user-entered tax text; blank means zero
	Tax string
}

// Item is a line item ready to be persisted
type Item struct {
	Name  string
	Price float64
}

func draftsFromMatches(matches []scanning.LineItemDraft) []Draft {
	drafts := make([]Draft, 0, len(matches))
	for _, m := range matches {
		drafts = append(drafts, Draft{
			Name:  m.Name,
			Price: decimal.NewFromFloat(m.Price).StringFixed(2),
		})
	}
	return drafts
}

// items keeps the drafts with a non-blank name and a parseable, non-negative price
func (r Review) items() []Item {
	items := make([]Item, 0, len(r.Drafts))
	for _, d := range r.Drafts {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		price, ok := parseAmount(d.Price)
		if !ok || price.IsNegative() {
			continue
		}
		items = append(items, Item{Name: name, Price: price.InexactFloat64()})
	}
	return items
}

// taxAmount treats blank or unparseable text as zero
func (r Review) taxAmount() (float64, error) {
	tax, ok := parseAmount(r.Tax)
	if !ok {
		return 0, nil
	}
	if tax.IsNegative() {
		return 0, ErrInvalidTax
	}
	return tax.InexactFloat64(), nil
}

func parseAmount(text string) (decimal.Decimal, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
