package scanning

import "context"

// Disabled is a BillExtractor that is never available. It is used when no
// parsing model is configured, which sends every scan to manual review.
type Disabled struct{}

func (Disabled) Availability(ctx context.Context) error {
	return unavailable(ReasonFeatureDisabled, nil)
}

func (Disabled) Parse(ctx context.Context, text string) (*ParsedBill, error) {
	return nil, unavailable(ReasonFeatureDisabled, nil)
}

func (Disabled) Close() error {
	return nil
}
