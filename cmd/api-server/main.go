package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	billing "github.com/confops/billing-engine/internal/app"
)

func main() {
	app.Run(run)
}

func run(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
	cfg, err := billing.LoadConfig()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	return billing.Run(ctx, lg, m, cfg)
}
