package trading212

import "encoding/json"

// Raw records as returned by the Trading 212 history endpoints. Numeric fields
// stay json.Number so the API's decimal precision survives until the factory
// parses them.

// RawOrder is one entry from /api/v0/equity/history/orders
type RawOrder struct {
	ID             json.Number `json:"id"`
	Ticker         string      `json:"ticker"`
	Direction      string      `json:"direction"` // BUY or SELL
	Status         string      `json:"status"`    // only FILLED orders carry fills
	DateCreated    string      `json:"dateCreated"`
	FilledQuantity json.Number `json:"filledQuantity"`
	FillPrice      json.Number `json:"fillPrice"`
	CurrencyCode   string      `json:"currencyCode"`
	Taxes          []RawTax    `json:"taxes"`
}

// RawTax is a single charge attached to an order
type RawTax struct {
	Name     string      `json:"name"`
	Quantity json.Number `json:"quantity"`
}

// RawDividend is one entry from /api/v0/history/dividends
type RawDividend struct {
	Reference    string      `json:"reference"`
	Ticker       string      `json:"ticker"`
	Amount       json.Number `json:"amount"`
	PaidOn       string      `json:"paidOn"`
	CurrencyCode string      `json:"currencyCode"`
}

// RawCashTransaction is one entry from /api/v0/history/transactions
type RawCashTransaction struct {
	Reference    string      `json:"reference"`
	Type         string      `json:"type"` // DEPOSIT, WITHDRAWAL, INTEREST, FEE, ...
	Amount       json.Number `json:"amount"`
	DateTime     string      `json:"dateTime"`
	CurrencyCode string      `json:"currencyCode"`
}

// historyPage is the common page envelope of all three history endpoints
type historyPage struct {
	Items        []json.RawMessage `json:"items"`
	NextPagePath string            `json:"nextPagePath"`
}
