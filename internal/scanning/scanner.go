package scanning

import "context"

// ParsedLineItem is a single purchasable item returned by a BillExtractor
type ParsedLineItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ParsedBill contains the structured bill extracted from raw receipt text
type ParsedBill struct {
	RestaurantName *string          `json:"restaurant_name"`
	LineItems      []ParsedLineItem `json:"line_items"`
	TaxAmount      float64          `json:"tax_amount"`
}

// TextExtractor turns a captured image into raw text
type TextExtractor interface {
	// RecognizeText returns the text found in the image. Failures wrap
	// ErrImageConversionFailed or ErrNoTextFound.
	RecognizeText(ctx context.Context, imageData []byte, contentType string) (string, error)
	// Close releases any resources held by the extractor
	Close() error
}

// BillExtractor turns raw receipt text into a ParsedBill using a generative model
type BillExtractor interface {
	// Availability reports whether the extractor can be used right now without
	// attempting a parse. It returns nil when usable, otherwise a *ModelUnavailableError.
	Availability(ctx context.Context) error
	// Parse extracts the bill. Failures are *ModelUnavailableError or *ParsingFailedError.
	Parse(ctx context.Context, text string) (*ParsedBill, error)
	// Close releases any resources held by the extractor
	Close() error
}

// Available is the boolean form of BillExtractor.Availability
func Available(ctx context.Context, b BillExtractor) bool {
	return b.Availability(ctx) == nil
}
