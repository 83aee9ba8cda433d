package domain

// Category is the business category a synthetic merchant is tagged with.
type Category string

// Categories is the closed merchant category vocabulary.
var Categories = []Category{
	"Retail",
	"Food & Beverage",
	"Technology",
	"Healthcare",
	"Education",
	"Entertainment",
	"Travel & Tourism",
	"Professional Services",
	"Logistics",
	"Construction",
	"Real Estate",
	"Finance & Insurance",
	"Hospitality",
}

// Merchant is an opaque merchant identifier with its category label.
// Merchants are minted once per run and never change.
type Merchant struct {
	ID       string
	Category Category
}
