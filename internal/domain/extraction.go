package domain

import "strings"

// DefaultCurrency is assumed when the structuring model omits a currency.
const DefaultCurrency = "USD"

// Categories is the vocabulary the structuring model is asked to choose from.
var Categories = []string{
	"Groceries",
	"Dining",
	"Utilities",
	"Entertainment",
	"Shopping",
	"Gas",
	"Insurance",
	"Health",
	"Education",
	"Subscription",
	"Travel",
	"Other",
}

// NormalizeCategory maps a category case-insensitively onto the vocabulary.
// Values outside the vocabulary are kept as given, trimmed.
func NormalizeCategory(category string) string {
	c := strings.TrimSpace(category)
	for _, known := range Categories {
		if strings.EqualFold(c, known) {
			return known
		}
	}
	return c
}

// ExtractedTransaction is one candidate record produced by the structuring model.
// Date is kept as the model returned it and parsed later.
type ExtractedTransaction struct {
	Date     string  `json:"date"`
	Merchant string  `json:"merchant"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Category string  `json:"category"`
}

// Extraction is the structured result for one document.
type Extraction struct {
	Transactions []ExtractedTransaction `json:"transactions"`
	Summary      string                 `json:"summary"`
}
