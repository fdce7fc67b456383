package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/alejandrodnm/tourneyd/config"
	"github.com/alejandrodnm/tourneyd/internal/adapters/chain"
	"github.com/alejandrodnm/tourneyd/internal/adapters/cooldown"
	"github.com/alejandrodnm/tourneyd/internal/adapters/httpapi"
	"github.com/alejandrodnm/tourneyd/internal/adapters/notify"
	"github.com/alejandrodnm/tourneyd/internal/adapters/storage"
	"github.com/alejandrodnm/tourneyd/internal/closure"
	"github.com/alejandrodnm/tourneyd/internal/deposit"
	"github.com/alejandrodnm/tourneyd/internal/ports"
	"github.com/alejandrodnm/tourneyd/internal/tournament"
)

// app agrupa las piezas ya conectadas y lo que hay que cerrar al salir.
type app struct {
	store   *storage.SQLiteStorage
	console *notify.Console
	scanner *closure.TimedScanner
	server  *httpapi.Server
	closers []func()
}

// build conecta adapters y servicios. offline omite las conexiones que solo
// necesita el servidor (RPC, Redis, NATS).
func build(ctx context.Context, cfg *config.Config, offline bool) (*app, error) {
	a := &app{console: notify.NewConsole()}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %s: %w", cfg.Storage.DSN, err)
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })

	var publishers notify.Multi
	if cfg.Events.Console || offline {
		publishers = append(publishers, a.console)
	}
	if cfg.Events.NATSURL != "" && !offline {
		nc, err := notify.NewNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		publishers = append(publishers, nc)
	}
	var events ports.EventPublisher = notify.Nop{}
	if len(publishers) > 0 {
		events = publishers
	}

	coord := closure.NewCoordinator(store, store, store, events)
	scanCfg := closure.DefaultConfig()
	scanCfg.ScanInterval = cfg.ScanInterval()
	scanCfg.Workers = cfg.Closure.Workers
	scanCfg.DryRun = offline
	a.scanner = closure.NewTimedScanner(scanCfg, store, coord)

	if offline {
		return a, nil
	}

	if cfg.Server.JWTSecret == "" {
		a.Close()
		return nil, errors.New("server.jwt_secret (TOURNEYD_JWT_SECRET) is required to serve the API")
	}

	networks := make([]chain.Network, 0, len(cfg.Chain.Networks))
	for _, n := range cfg.Chain.Networks {
		networks = append(networks, chain.Network{Name: n.Name, RPCURL: n.RPCURL, RatePerSec: n.RatePerSec})
	}
	balances, err := chain.Dial(ctx, networks, cfg.Deposit.TokenDecimals)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, balances.Close)
	if len(networks) == 0 {
		slog.Warn("no chain networks configured; deposit confirmation will reject every wallet")
	}

	var cd ports.CooldownStore
	switch cfg.Cooldown.Backend {
	case "redis":
		r, err := cooldown.NewRedis(ctx, cfg.Cooldown.RedisURL, cfg.Cooldown.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { r.Close() })
		cd = r
	default:
		cd = cooldown.NewMemory()
	}

	svc := tournament.NewService(store, store, store, store, store, closure.NewSubmissionWatcher(coord))
	rec := deposit.NewReconciler(deposit.Config{
		Cooldown:   cfg.DepositCooldown(),
		RPCTimeout: cfg.RPCTimeout(),
	}, store, balances, cd, store, events)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	a.server = httpapi.New(httpapi.Config{Addr: cfg.Server.Addr, JWTSecret: cfg.Server.JWTSecret},
		svc, closure.NewManualCloser(coord), rec)
	return a, nil
}

// Close libera las conexiones en orden inverso a su apertura.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
