// Package transactions defines the unified transaction model and the factory
// that builds it from raw Trading 212 records.
package transactions

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies a normalized transaction
type Type string

const (
	TypeBuy        Type = "BUY"
	TypeSell       Type = "SELL"
	TypeDividend   Type = "DIVIDEND"
	TypeDeposit    Type = "DEPOSIT"
	TypeWithdrawal Type = "WITHDRAWAL"
	TypeFee        Type = "FEE"
	TypeInterest   Type = "INTEREST"
)

// outflow reports whether cash leaves the account for this type
func (t Type) outflow() bool {
	switch t {
	case TypeBuy, TypeWithdrawal, TypeFee:
		return true
	}
	return false
}

// Transaction is the unified representation every raw record is normalized
// into. It is constructed once by the Factory and immutable afterwards.
//
// Quantity and Price are either both set or both nil. Amount carries the net
// cash effect: negative for Buy, Withdrawal and Fee, positive otherwise,
// regardless of the sign convention of the raw record.
type Transaction struct {
	Type       Type
	Timestamp  time.Time // normalized to the export timezone
	Instrument string    // ticker, empty for pure cash movements
	Quantity   *decimal.Decimal
	Price      *decimal.Decimal
	Amount     decimal.Decimal
	Currency   string
	Fees       decimal.Decimal
	Note       string
}

// MalformedRecordError marks a single raw record that cannot be normalized.
// It carries the record's source identifier so the run summary can name it.
type MalformedRecordError struct {
	Source string // order, dividend or cash
	ID     string
	Field  string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed %s record %q: field %q: %v", e.Source, e.ID, e.Field, e.Err)
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// UnsupportedTypeError marks a cash record whose raw subtype is not in the
// lookup table. Such records are reported, never silently dropped.
type UnsupportedTypeError struct {
	ID      string
	Subtype string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported transaction type %q on cash record %q", e.Subtype, e.ID)
}
