package transactions

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timhls/t212-finanzblick-sync/internal/clients/trading212"
)

// exportTimezone is the timezone Finanzblick dates are rendered in. All
// timestamps are normalized to it at construction time.
const exportTimezone = "Europe/Berlin"

// cashTypeTable maps raw cash-transaction subtypes to unified types. Subtypes
// missing here fail the record with UnsupportedTypeError.
var cashTypeTable = map[string]Type{
	"DEPOSIT":     TypeDeposit,
	"WITHDRAW":    TypeWithdrawal,
	"WITHDRAWAL":  TypeWithdrawal,
	"INTEREST":    TypeInterest,
	"FEE":         TypeFee,
	"CARD_DEBIT":  TypeWithdrawal,
	"CARD_CREDIT": TypeDeposit,
}

// cashNotes holds the deterministic booking texts for cash movements
var cashNotes = map[Type]string{
	TypeDeposit:    "Einzahlung auf Verrechnungskonto",
	TypeWithdrawal: "Abhebung oder Kartenzahlung",
	TypeInterest:   "Zinsen auf Guthaben",
	TypeFee:        "Gebühr",
}

// Factory normalizes raw Trading 212 records into Transactions
type Factory struct {
	currency string // applied when a record carries no currency of its own
	loc      *time.Location
	log      zerolog.Logger
}

// NewFactory creates a factory. defaultCurrency is the account currency used
// for records without an explicit currencyCode.
func NewFactory(defaultCurrency string, log zerolog.Logger) (*Factory, error) {
	loc, err := time.LoadLocation(exportTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", exportTimezone, err)
	}

	return &Factory{
		currency: defaultCurrency,
		loc:      loc,
		log:      log.With().Str("component", "transaction-factory").Logger(),
	}, nil
}

// FromOrder normalizes a filled equity order. Buys net to a negative amount
// (gross cost plus fees), sells to a positive one (gross proceeds minus fees).
func (f *Factory) FromOrder(raw trading212.RawOrder) (*Transaction, error) {
	id := raw.ID.String()

	var typ Type
	switch raw.Direction {
	case "BUY":
		typ = TypeBuy
	case "SELL":
		typ = TypeSell
	default:
		return nil, &MalformedRecordError{
			Source: "order", ID: id, Field: "direction",
			Err: fmt.Errorf("unknown side %q", raw.Direction),
		}
	}

	timestamp, err := f.parseTimestamp(raw.DateCreated)
	if err != nil {
		return nil, &MalformedRecordError{Source: "order", ID: id, Field: "dateCreated", Err: err}
	}

	if raw.Ticker == "" {
		return nil, &MalformedRecordError{
			Source: "order", ID: id, Field: "ticker",
			Err: fmt.Errorf("missing value"),
		}
	}

	quantity, err := parseDecimal(raw.FilledQuantity)
	if err != nil {
		return nil, &MalformedRecordError{Source: "order", ID: id, Field: "filledQuantity", Err: err}
	}
	price, err := parseDecimal(raw.FillPrice)
	if err != nil {
		return nil, &MalformedRecordError{Source: "order", ID: id, Field: "fillPrice", Err: err}
	}

	// Raw sign conventions are discarded, the unified sign rules apply below
	quantity = quantity.Abs()
	price = price.Abs()

	fees := decimal.Zero
	for _, tax := range raw.Taxes {
		charge, err := parseDecimal(tax.Quantity)
		if err != nil {
			return nil, &MalformedRecordError{Source: "order", ID: id, Field: "taxes", Err: err}
		}
		fees = fees.Add(charge.Abs())
	}

	gross := quantity.Mul(price)
	var amount decimal.Decimal
	var note string
	if typ == TypeBuy {
		amount = gross.Add(fees).Neg()
		note = "Wertpapierkauf " + raw.Ticker
	} else {
		amount = gross.Sub(fees)
		note = "Wertpapierverkauf " + raw.Ticker
	}

	return &Transaction{
		Type:       typ,
		Timestamp:  timestamp,
		Instrument: raw.Ticker,
		Quantity:   &quantity,
		Price:      &price,
		Amount:     amount,
		Currency:   f.currencyOf(raw.CurrencyCode),
		Fees:       fees,
		Note:       note,
	}, nil
}

// FromDividend normalizes a dividend payment, always a cash inflow
func (f *Factory) FromDividend(raw trading212.RawDividend) (*Transaction, error) {
	timestamp, err := f.parseTimestamp(raw.PaidOn)
	if err != nil {
		return nil, &MalformedRecordError{Source: "dividend", ID: raw.Reference, Field: "paidOn", Err: err}
	}

	if raw.Ticker == "" {
		return nil, &MalformedRecordError{
			Source: "dividend", ID: raw.Reference, Field: "ticker",
			Err: fmt.Errorf("missing value"),
		}
	}

	amount, err := parseDecimal(raw.Amount)
	if err != nil {
		return nil, &MalformedRecordError{Source: "dividend", ID: raw.Reference, Field: "amount", Err: err}
	}

	return &Transaction{
		Type:       TypeDividend,
		Timestamp:  timestamp,
		Instrument: raw.Ticker,
		Amount:     amount.Abs(),
		Currency:   f.currencyOf(raw.CurrencyCode),
		Fees:       decimal.Zero,
		Note:       "Dividende " + raw.Ticker,
	}, nil
}

// FromCashTransaction normalizes a cash movement via the fixed subtype table
func (f *Factory) FromCashTransaction(raw trading212.RawCashTransaction) (*Transaction, error) {
	typ, ok := cashTypeTable[raw.Type]
	if !ok {
		return nil, &UnsupportedTypeError{ID: raw.Reference, Subtype: raw.Type}
	}

	timestamp, err := f.parseTimestamp(raw.DateTime)
	if err != nil {
		return nil, &MalformedRecordError{Source: "cash", ID: raw.Reference, Field: "dateTime", Err: err}
	}

	amount, err := parseDecimal(raw.Amount)
	if err != nil {
		return nil, &MalformedRecordError{Source: "cash", ID: raw.Reference, Field: "amount", Err: err}
	}

	amount = amount.Abs()
	if typ.outflow() {
		amount = amount.Neg()
	}

	return &Transaction{
		Type:      typ,
		Timestamp: timestamp,
		Amount:    amount,
		Currency:  f.currencyOf(raw.CurrencyCode),
		Fees:      decimal.Zero,
		Note:      cashNotes[typ],
	}, nil
}

// currencyOf falls back to the account currency for records without one
func (f *Factory) currencyOf(code string) string {
	if code != "" {
		return code
	}
	return f.currency
}

// parseTimestamp accepts the API's ISO-8601 variants, with or without
// fractional seconds and zone suffix. Naive timestamps are read as UTC.
func (f *Factory) parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.In(f.loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// parseDecimal converts a raw JSON number, preserving its decimal digits
func parseDecimal(n json.Number) (decimal.Decimal, error) {
	if n.String() == "" {
		return decimal.Decimal{}, fmt.Errorf("missing value")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q: %w", n.String(), err)
	}
	return d, nil
}
