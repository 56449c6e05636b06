// Package main is the entry point for the Trading 212 → Finanzblick sync.
// One invocation fetches the full account history (orders, dividends, cash
// movements), normalizes it and writes the Finanzblick import CSV.
//
// Exit code 0 covers full and partial success (per-record failures are
// summarized on stderr); a credential failure, a total API failure or an
// unwritable destination exits non-zero.
package main

import (
	"os"

	"github.com/timhls/t212-finanzblick-sync/internal/clients/trading212"
	"github.com/timhls/t212-finanzblick-sync/internal/config"
	"github.com/timhls/t212-finanzblick-sync/internal/export"
	"github.com/timhls/t212-finanzblick-sync/internal/keepass"
	"github.com/timhls/t212-finanzblick-sync/internal/syncer"
	"github.com/timhls/t212-finanzblick-sync/internal/transactions"
	"github.com/timhls/t212-finanzblick-sync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})

	log.Info().Msg("Starting Trading 212 → Finanzblick sync")

	// Credential resolution is a scoped lookup: the database is opened,
	// the entry resolved and everything released before any API call
	creds, err := keepass.Resolve(keepass.Params{
		Database: cfg.KeepassDatabase,
		Entry:    cfg.KeepassEntry,
		Password: cfg.KeepassPassword,
		Keyfile:  cfg.KeepassKeyfile,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve API credentials")
	}
	log.Info().Str("entry", cfg.KeepassEntry).Msg("Credentials resolved")

	client := trading212.NewClient(creds.APIKey, creds.APISecret, cfg.BaseURL, log)
	defer client.Close()

	factory, err := transactions.NewFactory(cfg.AccountCurrency, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transaction factory")
	}

	svc := syncer.New(client, factory, export.NewExporter(log), cfg.OutputFile, log)

	report, err := svc.Run()
	if err != nil {
		log.Error().Err(err).Msg("Sync failed")
		os.Exit(1)
	}

	if len(report.Failures) > 0 || len(report.EndpointErrors) > 0 {
		log.Warn().
			Int("record_failures", len(report.Failures)).
			Int("endpoint_failures", len(report.EndpointErrors)).
			Msg("Sync finished degraded")
	}

	log.Info().
		Str("file", cfg.OutputFile).
		Int("rows", report.RowsWritten).
		Msg("Finanzblick import file written")
}
