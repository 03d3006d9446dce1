// Command invoice-upgrade re-renders the placeholder invoices of a year as
// real ones, once the seller's tax registration is available. Meant to run
// once after the VAT id arrives.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/confops/billing-engine/internal/currency"
	"github.com/confops/billing-engine/internal/domain/invoice"
	"github.com/confops/billing-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		year        int
		issuerBlock string
		vatID       string
		template    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&year, "year", time.Now().Year(), "emit year whose placeholders to upgrade")
	flag.StringVar(&issuerBlock, "issuer", "", "issuer block printed on invoices (name, address, tax data)")
	flag.StringVar(&vatID, "vat-id", "", "seller VAT identifier")
	flag.StringVar(&template, "template", "", "path to a custom invoice template; empty uses the built-in one")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if vatID == "" {
		slog.Error("a VAT id is required: placeholders can only be upgraded once registered")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, year, issuerBlock, vatID, template); err != nil {
		slog.Error("invoice upgrade failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, year int, issuerBlock, vatID, template string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	tpl := ""
	if template != "" {
		raw, err := os.ReadFile(template)
		if err != nil {
			return errors.Wrap(err, "read invoice template")
		}
		tpl = string(raw)
	}
	renderer, err := invoice.NewTemplateRenderer(tpl)
	if err != nil {
		return errors.Wrap(err, "create invoice renderer")
	}

	registry := invoice.NewRegistry()
	registry.SetDefault(invoice.Registration{Issuer: issuerBlock, VATID: vatID})

	orders := postgres.NewOrderRepository(pool)
	converter := currency.NewConverter(postgres.NewExchangeRateStore(pool))
	issuer := invoice.NewIssuer(postgres.NewInvoiceRepository(pool), converter, renderer, registry, orders, nil)

	n, err := issuer.UpgradePlaceholders(ctx, year)
	if err != nil {
		return errors.Wrapf(err, "upgraded %d invoices before failing", n)
	}

	slog.Info("placeholder invoices upgraded", slog.Int("year", year), slog.Int("count", n))
	return nil
}
