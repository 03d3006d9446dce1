// Command rate-fetch pulls the daily ECB reference-rate feed and stores the
// supported currencies in the exchange-rate cache. Meant to run from cron
// once per business day.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/confops/billing-engine/internal/currency"
	"github.com/confops/billing-engine/internal/storage/postgres"
)

func main() {
	var databaseURL string

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL); err != nil {
		slog.Error("rate fetch failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	fetcher := currency.NewFetcher(postgres.NewExchangeRateStore(pool), nil)

	rates, err := fetcher.FetchLatest(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch rates")
	}

	for _, r := range rates {
		slog.Info("rate stored",
			slog.String("currency", r.Currency),
			slog.String("rate", r.Rate.String()),
			slog.String("date", r.Datestamp.Format("2006-01-02")),
		)
	}
	return nil
}
