package syncer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timhls/t212-finanzblick-sync/internal/clients/trading212"
	"github.com/timhls/t212-finanzblick-sync/internal/export"
	"github.com/timhls/t212-finanzblick-sync/internal/transactions"
)

// fakeClient serves canned endpoint results
type fakeClient struct {
	orders    []trading212.RawOrder
	dividends []trading212.RawDividend
	cash      []trading212.RawCashTransaction

	ordersErr    error
	dividendsErr error
	cashErr      error
}

func (f *fakeClient) FetchOrders() ([]trading212.RawOrder, error) {
	return f.orders, f.ordersErr
}

func (f *fakeClient) FetchDividends() ([]trading212.RawDividend, error) {
	return f.dividends, f.dividendsErr
}

func (f *fakeClient) FetchCashTransactions() ([]trading212.RawCashTransaction, error) {
	return f.cash, f.cashErr
}

func newService(t *testing.T, client BrokerClient, output string) *Service {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	factory, err := transactions.NewFactory("EUR", log)
	require.NoError(t, err)
	return New(client, factory, export.NewExporter(log), output, log)
}

func readDataRows(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})))
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return rows[1:]
}

// TestRunSortsAscendingAcrossEndpoints verifies rows come out in strictly
// ascending timestamp order no matter which endpoint delivered them
func TestRunSortsAscendingAcrossEndpoints(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		// Latest record first, from the "wrong" endpoint order on purpose
		dividends: []trading212.RawDividend{
			{Reference: "d-1", Ticker: "VWCE", Amount: json.Number("3.00"), PaidOn: "2024-03-03T10:00:00Z"},
		},
		orders: []trading212.RawOrder{
			{ID: json.Number("1"), Ticker: "AAPL", Direction: "BUY", Status: "FILLED",
				DateCreated: "2024-03-02T10:00:00Z", FilledQuantity: json.Number("1"), FillPrice: json.Number("10")},
		},
		cash: []trading212.RawCashTransaction{
			{Reference: "c-1", Type: "DEPOSIT", Amount: json.Number("100"), DateTime: "2024-03-01T10:00:00Z"},
		},
	}

	report, err := newService(t, client, output).Run()
	require.NoError(t, err)
	assert.Equal(t, 3, report.RowsWritten)

	rows := readDataRows(t, output)
	require.Len(t, rows, 3)
	assert.Equal(t, "01.03.2024", rows[0][0])
	assert.Equal(t, "02.03.2024", rows[1][0])
	assert.Equal(t, "03.03.2024", rows[2][0])
}

// TestRunDeterministicTieBreak verifies same-timestamp records keep the
// fetch order (orders, dividends, cash) across reruns
func TestRunDeterministicTieBreak(t *testing.T) {
	dir := t.TempDir()

	client := &fakeClient{
		orders: []trading212.RawOrder{
			{ID: json.Number("1"), Ticker: "AAPL", Direction: "BUY", Status: "FILLED",
				DateCreated: "2024-03-01T10:00:00Z", FilledQuantity: json.Number("1"), FillPrice: json.Number("10")},
		},
		dividends: []trading212.RawDividend{
			{Reference: "d-1", Ticker: "VWCE", Amount: json.Number("3.00"), PaidOn: "2024-03-01T10:00:00Z"},
		},
		cash: []trading212.RawCashTransaction{
			{Reference: "c-1", Type: "DEPOSIT", Amount: json.Number("100"), DateTime: "2024-03-01T10:00:00Z"},
		},
	}

	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	_, err := newService(t, client, first).Run()
	require.NoError(t, err)
	_, err = newService(t, client, second).Run()
	require.NoError(t, err)

	firstRaw, err := os.ReadFile(first)
	require.NoError(t, err)
	secondRaw, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, firstRaw, secondRaw)

	rows := readDataRows(t, first)
	require.Len(t, rows, 3)
	assert.Equal(t, "BUY", rows[0][1])
	assert.Equal(t, "DIVIDEND", rows[1][1])
	assert.Equal(t, "DEPOSIT", rows[2][1])
}

// TestRunPartialFailure verifies exactly one failure is recorded for an
// unrecognized cash subtype while all other records still export
func TestRunPartialFailure(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		cash: []trading212.RawCashTransaction{
			{Reference: "c-1", Type: "DEPOSIT", Amount: json.Number("100"), DateTime: "2024-03-01T10:00:00Z"},
			{Reference: "c-2", Type: "MYSTERY", Amount: json.Number("5"), DateTime: "2024-03-02T10:00:00Z"},
			{Reference: "c-3", Type: "INTEREST", Amount: json.Number("1.50"), DateTime: "2024-03-03T10:00:00Z"},
		},
	}

	report, err := newService(t, client, output).Run()
	require.NoError(t, err)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "c-2", report.Failures[0].ID)
	var unsupported *transactions.UnsupportedTypeError
	assert.ErrorAs(t, report.Failures[0].Err, &unsupported)

	assert.Equal(t, 2, report.RowsWritten)
	assert.Len(t, readDataRows(t, output), 2)
}

// TestRunSkipsUnfilledOrders counts skipped orders without failing them
func TestRunSkipsUnfilledOrders(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		orders: []trading212.RawOrder{
			{ID: json.Number("1"), Ticker: "AAPL", Direction: "BUY", Status: "CANCELLED",
				DateCreated: "2024-03-01T10:00:00Z", FilledQuantity: json.Number("0"), FillPrice: json.Number("0")},
			{ID: json.Number("2"), Ticker: "AAPL", Direction: "BUY", Status: "FILLED",
				DateCreated: "2024-03-02T10:00:00Z", FilledQuantity: json.Number("1"), FillPrice: json.Number("10")},
		},
	}

	report, err := newService(t, client, output).Run()
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedUnfilled)
	assert.Equal(t, 1, report.RowsWritten)
	assert.Empty(t, report.Failures)
}

// TestRunDegradedWhenOneEndpointFails keeps going with the others
func TestRunDegradedWhenOneEndpointFails(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		ordersErr: &trading212.APIError{Endpoint: "/api/v0/equity/history/orders", StatusCode: 429},
		cash: []trading212.RawCashTransaction{
			{Reference: "c-1", Type: "DEPOSIT", Amount: json.Number("100"), DateTime: "2024-03-01T10:00:00Z"},
		},
	}

	report, err := newService(t, client, output).Run()
	require.NoError(t, err)

	require.Len(t, report.EndpointErrors, 1)
	var apiErr *trading212.APIError
	assert.ErrorAs(t, report.EndpointErrors[0], &apiErr)
	assert.Equal(t, 1, report.RowsWritten)
}

// TestRunFailsWhenAllEndpointsFail is a total API failure
func TestRunFailsWhenAllEndpointsFail(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		ordersErr:    errors.New("boom"),
		dividendsErr: errors.New("boom"),
		cashErr:      errors.New("boom"),
	}

	_, err := newService(t, client, output).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all endpoints failed")

	_, statErr := os.Stat(output)
	assert.True(t, os.IsNotExist(statErr), "no file must be written on total failure")
}

// TestRunFailsWhenNothingSurvives treats an all-failures run as fatal
func TestRunFailsWhenNothingSurvives(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		cash: []trading212.RawCashTransaction{
			{Reference: "c-1", Type: "MYSTERY", Amount: json.Number("5"), DateTime: "2024-03-01T10:00:00Z"},
		},
	}

	_, err := newService(t, client, output).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction survived")
}

// TestRunReportCounts sanity-checks the fetch counters
func TestRunReportCounts(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.csv")

	client := &fakeClient{
		orders: []trading212.RawOrder{
			{ID: json.Number("1"), Ticker: "AAPL", Direction: "SELL", Status: "FILLED",
				DateCreated: "2024-03-02T10:00:00Z", FilledQuantity: json.Number("2"), FillPrice: json.Number("30")},
		},
		dividends: []trading212.RawDividend{
			{Reference: "d-1", Ticker: "VWCE", Amount: json.Number("3.00"), PaidOn: "2024-03-03T10:00:00Z"},
			{Reference: "d-2", Ticker: "VUSA", Amount: json.Number("1.00"), PaidOn: "2024-03-04T10:00:00Z"},
		},
	}

	report, err := newService(t, client, output).Run()
	require.NoError(t, err)

	assert.Equal(t, 1, report.OrdersFetched)
	assert.Equal(t, 2, report.DividendsFetched)
	assert.Equal(t, 0, report.CashFetched)
	assert.Equal(t, 3, report.RowsWritten)
	assert.NotEmpty(t, report.RunID)

	// Sell proceeds stay positive all the way into the file
	rows := readDataRows(t, output)
	require.Len(t, rows, 3)
	assert.Equal(t, "60,00", rows[0][5])
}
