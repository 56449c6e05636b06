// Package syncer composes the sync run: fetch the three history endpoints,
// normalize every raw record, sort and export.
package syncer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/timhls/t212-finanzblick-sync/internal/clients/trading212"
	"github.com/timhls/t212-finanzblick-sync/internal/transactions"
)

// BrokerClient is the fetch surface the orchestrator needs
type BrokerClient interface {
	FetchOrders() ([]trading212.RawOrder, error)
	FetchDividends() ([]trading212.RawDividend, error)
	FetchCashTransactions() ([]trading212.RawCashTransaction, error)
}

// Exporter writes the normalized sequence and reports the row count
type Exporter interface {
	Export(txs []transactions.Transaction, dest string) (int, error)
}

// RecordFailure is one raw record that could not be normalized
type RecordFailure struct {
	Source string // order, dividend or cash
	ID     string
	Err    error
}

// Report summarizes one sync run
type Report struct {
	RunID            string
	OrdersFetched    int
	DividendsFetched int
	CashFetched      int
	SkippedUnfilled  int // orders that never filled, excluded on purpose
	RowsWritten      int
	Failures         []RecordFailure
	EndpointErrors   []error // endpoints that failed entirely (degraded run)
}

// Service orchestrates one full sync run
type Service struct {
	client   BrokerClient
	factory  *transactions.Factory
	exporter Exporter
	output   string
	log      zerolog.Logger
}

// New creates a sync service
func New(client BrokerClient, factory *transactions.Factory, exporter Exporter, output string, log zerolog.Logger) *Service {
	return &Service{
		client:   client,
		factory:  factory,
		exporter: exporter,
		output:   output,
		log:      log.With().Str("component", "syncer").Logger(),
	}
}

// Run executes credentials-already-resolved → fetch → normalize → sort →
// export. Per-record failures degrade the run, they never abort it; a run
// fails only when every endpoint fails or nothing can be exported.
func (s *Service) Run() (*Report, error) {
	report := &Report{RunID: uuid.NewString()}
	log := s.log.With().Str("run_id", report.RunID).Logger()

	// The three endpoints are independent, fetch them concurrently. The
	// WaitGroup is the barrier: normalization starts only once every fetch has
	// either delivered or failed.
	var (
		wg        sync.WaitGroup
		orders    []trading212.RawOrder
		dividends []trading212.RawDividend
		cash      []trading212.RawCashTransaction

		ordersErr, dividendsErr, cashErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		orders, ordersErr = s.client.FetchOrders()
	}()
	go func() {
		defer wg.Done()
		dividends, dividendsErr = s.client.FetchDividends()
	}()
	go func() {
		defer wg.Done()
		cash, cashErr = s.client.FetchCashTransactions()
	}()
	wg.Wait()

	for _, err := range []error{ordersErr, dividendsErr, cashErr} {
		if err != nil {
			log.Warn().Err(err).Msg("Endpoint failed, continuing degraded")
			report.EndpointErrors = append(report.EndpointErrors, err)
		}
	}
	if len(report.EndpointErrors) == 3 {
		return nil, fmt.Errorf("all endpoints failed: %w", report.EndpointErrors[0])
	}

	report.OrdersFetched = len(orders)
	report.DividendsFetched = len(dividends)
	report.CashFetched = len(cash)

	// Normalize in fetch order (orders, dividends, cash). Slice order encodes
	// the per-record sequence, so the stable sort below is deterministic.
	txs := make([]transactions.Transaction, 0, len(orders)+len(dividends)+len(cash))

	for _, order := range orders {
		if order.Status != "FILLED" {
			report.SkippedUnfilled++
			continue
		}
		tx, err := s.factory.FromOrder(order)
		if err != nil {
			report.Failures = append(report.Failures, RecordFailure{Source: "order", ID: order.ID.String(), Err: err})
			continue
		}
		txs = append(txs, *tx)
	}

	for _, dividend := range dividends {
		tx, err := s.factory.FromDividend(dividend)
		if err != nil {
			report.Failures = append(report.Failures, RecordFailure{Source: "dividend", ID: dividend.Reference, Err: err})
			continue
		}
		txs = append(txs, *tx)
	}

	for _, movement := range cash {
		tx, err := s.factory.FromCashTransaction(movement)
		if err != nil {
			report.Failures = append(report.Failures, RecordFailure{Source: "cash", ID: movement.Reference, Err: err})
			continue
		}
		txs = append(txs, *tx)
	}

	for _, failure := range report.Failures {
		log.Warn().
			Str("source", failure.Source).
			Str("record_id", failure.ID).
			Err(failure.Err).
			Msg("Record skipped")
	}

	if len(txs) == 0 && len(report.Failures) > 0 {
		return nil, fmt.Errorf("no transaction survived normalization (%d records failed)", len(report.Failures))
	}

	// Ascending by timestamp; the stable sort keeps fetch order for ties
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.Before(txs[j].Timestamp)
	})

	rows, err := s.exporter.Export(txs, s.output)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	report.RowsWritten = rows

	log.Info().
		Int("orders", report.OrdersFetched).
		Int("dividends", report.DividendsFetched).
		Int("cash", report.CashFetched).
		Int("rows", report.RowsWritten).
		Int("failures", len(report.Failures)).
		Msg("Sync completed")

	return report, nil
}
