package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// serve corre la API y el escáner de expiraciones hasta SIGINT/SIGTERM.
func serve(ctx context.Context, a *app) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.ListenAndServe(ctx) })
	g.Go(func() error { return a.scanner.Run(ctx) })
	return g.Wait()
}

// runOnce ejecuta un escaneo (recuperación + cierre de expirados) e imprime los cierres.
func runOnce(ctx context.Context, a *app) error {
	sum, err := a.scanner.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("expiry scan: %w", err)
	}
	slog.Info("expiry scan complete",
		"expired", sum.Expired,
		"closed", len(sum.Closed),
		"already_closed", sum.AlreadyClosed,
		"failed", sum.Failed,
		"recovered", sum.Recovered,
	)
	return nil
}

// runReport imprime los últimos cierres en tabla.
func runReport(ctx context.Context, a *app, limit int) error {
	closed, err := a.store.ListClosed(ctx, limit)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	a.console.PrintClosedReport(closed)
	return nil
}
