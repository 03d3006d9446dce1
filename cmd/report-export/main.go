// Command report-export writes the yearly accounting exports: the tax
// report handed to the accountant and the payment reconciliation matched
// against the card-gateway statement.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/confops/billing-engine/internal/report"
	"github.com/confops/billing-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		year        int
		kind        string
		format      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&year, "year", time.Now().Year(), "emit year to report on")
	flag.StringVar(&kind, "report", "tax", "report to export: tax or reconciliation")
	flag.StringVar(&format, "format", "csv", "output format: csv or json (tax report only)")
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

	if err := run(ctx, databaseURL, year, kind, format); err != nil {
		slog.Error("report export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, year int, kind, format string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	svc := report.NewService(
		postgres.NewInvoiceRepository(pool),
		postgres.NewOrderRepository(pool),
	)

	switch kind {
	case "tax":
		rows, err := svc.TaxReport(ctx, year)
		if err != nil {
			return errors.Wrap(err, "build tax report")
		}
		switch format {
		case "csv":
			err = report.WriteTaxCSV(os.Stdout, rows)
		case "json":
			err = report.WriteTaxJSON(os.Stdout, rows)
		default:
			return errors.Errorf("unknown format %q", format)
		}
		if err != nil {
			return errors.Wrap(err, "write tax report")
		}
		slog.Info("tax report written", slog.Int("year", year), slog.Int("rows", len(rows)))
	case "reconciliation":
		rows, err := svc.Reconciliation(ctx, year)
		if err != nil {
			return errors.Wrap(err, "build reconciliation")
		}
		if err := report.WriteReconciliationCSV(os.Stdout, rows); err != nil {
			return errors.Wrap(err, "write reconciliation")
		}
		slog.Info("reconciliation written", slog.Int("year", year), slog.Int("rows", len(rows)))
	default:
		return errors.Errorf("unknown report %q", kind)
	}
	return nil
}
