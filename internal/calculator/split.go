// Package calculator splits a bill between the people its line items are assigned to.
package calculator

import "sort"

// Item is a single line item on the bill
type Item struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	// PersonID is empty when the item is unassigned
	PersonID string `json:"person_id,omitempty"`
}

// Person is someone who can be assigned items
type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ColorHex string `json:"color_hex"`
}

// Bill is the input to the split calculation
type Bill struct {
	Items         []Item
	TaxAmount     float64
	TipPercentage float64
}

// Subtotal is the sum of every item price, assigned or not
func (b Bill) Subtotal() float64 {
	var subtotal float64
	for _, item := range b.Items {
		subtotal += item.Price
	}
	return subtotal
}

// TipAmount is computed from the full subtotal
func (b Bill) TipAmount() float64 {
	return b.Subtotal() * b.TipPercentage
}

// Total is subtotal plus tax plus tip
func (b Bill) Total() float64 {
	return b.Subtotal() + b.TaxAmount + b.TipAmount()
}

// PersonSplit is one person's share of a bill
type PersonSplit struct {
	Person   Person  `json:"person"`
	Items    []Item  `json:"items"`
	Subtotal float64 `json:"subtotal"`
	TaxShare float64 `json:"tax_share"`
	TipShare float64 `json:"tip_share"`
	Total    float64 `json:"total"`
}

// CalculateSplit computes each assigned person's share of the bill.
//
// Tax and tip are allocated by proportion = personSubtotal / billSubtotal, where the
// bill subtotal includes unassigned items. People without assigned items are omitted.
// The result is ordered by name (byte-wise, case-sensitive), then by person ID.
// A zero subtotal yields an empty result.
func CalculateSplit(bill Bill, people []Person) []PersonSplit {
	splits := make([]PersonSplit, 0)

	billSubtotal := bill.Subtotal()
	if billSubtotal == 0 {
		return splits
	}
	tipAmount := bill.TipAmount()

	byID := make(map[string]Person, len(people))
	for _, p := range people {
		byID[p.ID] = p
	}

	// Group assigned items by person, keeping bill order within each group
	groups := make(map[string][]Item)
	order := make([]string, 0)
	for _, item := range bill.Items {
		if _, ok := byID[item.PersonID]; !ok {
			continue
		}
		if _, seen := groups[item.PersonID]; !seen {
			order = append(order, item.PersonID)
		}
		groups[item.PersonID] = append(groups[item.PersonID], item)
	}

	for _, personID := range order {
		items := groups[personID]
		var personSubtotal float64
		for _, item := range items {
			personSubtotal += item.Price
		}
		proportion := personSubtotal / billSubtotal
		split := PersonSplit{
			Person:   byID[personID],
			Items:    items,
			Subtotal: personSubtotal,
			TaxShare: bill.TaxAmount * proportion,
			TipShare: tipAmount * proportion,
		}
		split.Total = split.Subtotal + split.TaxShare + split.TipShare
		splits = append(splits, split)
	}

	sort.SliceStable(splits, func(i, j int) bool {
		if splits[i].Person.Name != splits[j].Person.Name {
			return splits[i].Person.Name < splits[j].Person.Name
		}
		return splits[i].Person.ID < splits[j].Person.ID
	})

	return splits
}

// Unassigned returns the items that take no part in the split, in bill order.
// Items pointing at a person not in people count as unassigned.
func Unassigned(bill Bill, people []Person) []Item {
	known := make(map[string]bool, len(people))
	for _, p := range people {
		known[p.ID] = true
	}

	items := make([]Item, 0)
	for _, item := range bill.Items {
		if !known[item.PersonID] {
			items = append(items, item)
		}
	}
	return items
}
