// Package export writes the normalized transactions as a Finanzblick
// importable CSV file.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/timhls/t212-finanzblick-sync/internal/transactions"
)

// dateLayout is the importer-mandated day.month.year pattern
const dateLayout = "02.01.2006"

// header is the fixed column set of the importer schema
var header = []string{"date", "type", "instrument", "quantity", "price", "amount", "currency", "fees", "note"}

// utf8BOM keeps Excel and Finanzblick from misreading umlauts in the notes
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Exporter serializes transactions into the Finanzblick CSV dialect:
// semicolon delimiter, decimal comma, header row, one row per transaction.
type Exporter struct {
	log zerolog.Logger
}

// NewExporter creates a CSV exporter
func NewExporter(log zerolog.Logger) *Exporter {
	return &Exporter{
		log: log.With().Str("component", "finanzblick-exporter").Logger(),
	}
}

// Export writes the transactions to dest and returns the number of data rows
// written. The file is written to a temporary path first and renamed into
// place, so a crash mid-export never leaves a truncated importer-visible file.
func (e *Exporter) Export(txs []transactions.Transaction, dest string) (int, error) {
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".tmp-")
	if err != nil {
		return 0, fmt.Errorf("failed to create temporary export file: %w", err)
	}
	tmpPath := tmp.Name()

	rows, err := e.write(tmp, txs)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to flush export file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close export file: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to move export file into place: %w", err)
	}

	e.log.Info().Str("file", dest).Int("rows", rows).Msg("Export written")
	return rows, nil
}

// write emits the BOM, the header and one row per transaction
func (e *Exporter) write(f *os.File, txs []transactions.Transaction) (int, error) {
	if _, err := f.Write(utf8BOM); err != nil {
		return 0, fmt.Errorf("failed to write BOM: %w", err)
	}

	w := csv.NewWriter(f)
	w.Comma = ';'

	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for _, tx := range txs {
		row := []string{
			tx.Timestamp.Format(dateLayout),
			string(tx.Type),
			tx.Instrument,
			formatOptional(tx.Quantity),
			formatOptional(tx.Price),
			formatMoney(tx.Amount),
			tx.Currency,
			formatMoney(tx.Fees),
			tx.Note,
		}
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush rows: %w", err)
	}

	return len(txs), nil
}

// formatMoney renders an amount with two decimals and a decimal comma.
// StringFixed rounds half away from zero, the usual convention for financial
// CSV imports.
func formatMoney(d decimal.Decimal) string {
	return strings.Replace(d.StringFixed(2), ".", ",", 1)
}

// formatOptional renders quantity/price at full precision, empty when absent
func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return strings.Replace(d.String(), ".", ",", 1)
}
