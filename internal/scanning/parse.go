package scanning

import (
	"encoding/json"
	"strings"
)

// extractJSONObject strips markdown fences and surrounding chatter from an LLM reply
func extractJSONObject(text string) (string, bool) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return "", false
	}
	return text[startIdx : endIdx+1], true
}

// parseBillJSON parses and validates the JSON bill returned by a model
func parseBillJSON(text string) (*ParsedBill, error) {
	raw, ok := extractJSONObject(text)
	if !ok {
		return nil, parsingFailed("no JSON object found in response")
	}

	var bill ParsedBill
	if err := json.Unmarshal([]byte(raw), &bill); err != nil {
		return nil, parsingFailed("malformed response: %v", err)
	}

	if bill.TaxAmount < 0 {
		return nil, parsingFailed("negative tax amount %.2f", bill.TaxAmount)
	}

	if bill.RestaurantName != nil {
		name := strings.TrimSpace(*bill.RestaurantName)
		if name == "" || strings.EqualFold(name, "null") {
			bill.RestaurantName = nil
		} else {
			bill.RestaurantName = &name
		}
	}

	items := make([]ParsedLineItem, 0, len(bill.LineItems))
	for _, item := range bill.LineItems {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			continue
		}
		if item.Price < 0 {
			return nil, parsingFailed("negative price for %q", name)
		}
		items = append(items, ParsedLineItem{Name: name, Price: item.Price})
	}
	bill.LineItems = items

	return &bill, nil
}
