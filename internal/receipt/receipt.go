package receipt

import "time"

// Receipt is one scanned bill
type Receipt struct {
	ID             string  `json:"id"`
	Filename       string  `json:"filename"`
	ContentType    string  `json:"content_type"`
	RawText        *string `json:"raw_text,omitempty"`
	RestaurantName *string `json:"restaurant_name,omitempty"`
	TaxAmount      float64 `json:"tax_amount"`
	TipPercentage  float64 `json:"tip_percentage"` // fraction, 0.15 is 15%
	// IngestedAt is set once line items have been committed from the scan
	IngestedAt *time.Time `json:"ingested_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// LineItem is a purchasable item on a receipt
type LineItem struct {
	ID        string  `json:"id"`
	ReceiptID string  `json:"receipt_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	PersonID  string  `json:"person_id,omitempty"`
	// Position keeps items in the order they were added
	Position uint64 `json:"position"`
}

// Person is someone items can be assigned to
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ColorHex  string    `json:"color_hex"`
	CreatedAt time.Time `json:"created_at"`
}

// PersonPalette is the set of display colors handed out to new people in order
var PersonPalette = []string{
	"FF6B6B",
	"4ECDC4",
	"45B7D1",
	"96CEB4",
	"FFEAA7",
	"DDA0DD",
	"98D8C8",
	"F7DC6F",
}

// paletteColor picks the color for the person created after count others
func paletteColor(count int) string {
	return PersonPalette[count%len(PersonPalette)]
}
