package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// Config contiene la configuración del escaneo de expiraciones.
type Config struct {
	ScanInterval time.Duration
	Workers      int // goroutines de cierre en paralelo (0 = NumCPU*2)
	DryRun       bool
}

// DefaultConfig escanea cada minuto.
func DefaultConfig() Config {
	return Config{ScanInterval: time.Minute}
}

// ScanSummary resume un ciclo de escaneo.
type ScanSummary struct {
	Expired       int
	Closed        []domain.ClosedTournament
	AlreadyClosed int
	Skipped       int
	Failed        int
	Recovered     int
}

// TimedScanner cierra periódicamente los torneos expirados.
type TimedScanner struct {
	cfg   Config
	store ports.TournamentStore
	coord *Coordinator
	now   func() time.Time
}

// NewTimedScanner crea el escáner. ScanInterval <= 0 usa DefaultConfig.
func NewTimedScanner(cfg Config, store ports.TournamentStore, coord *Coordinator) *TimedScanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultConfig().ScanInterval
	}
	return &TimedScanner{cfg: cfg, store: store, coord: coord, now: time.Now}
}

// WithClock sustituye el reloj (tests).
func (s *TimedScanner) WithClock(now func() time.Time) *TimedScanner {
	s.now = now
	return s
}

// Run ejecuta el loop de escaneo hasta que el contexto se cancele.
// Si cfg.DryRun está activo, solo ejecuta un ciclo.
func (s *TimedScanner) Run(ctx context.Context) error {
	slog.Info("expiry scanner starting",
		"interval", s.cfg.ScanInterval,
		"dry_run", s.cfg.DryRun,
		"workers", s.cfg.Workers,
	)

	if err := s.runCycle(ctx); err != nil {
		slog.Error("expiry scan failed", "err", err)
		if s.cfg.DryRun {
			return err
		}
	}

	if s.cfg.DryRun {
		return nil
	}

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry scanner stopped")
			return nil
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				slog.Error("expiry scan failed", "err", err)
			}
		}
	}
}

// RunOnce ejecuta exactamente un ciclo: recuperación de huérfanos y cierre de expirados.
func (s *TimedScanner) RunOnce(ctx context.Context) (ScanSummary, error) {
	var sum ScanSummary

	recovered, err := s.coord.Recover(ctx)
	sum.Recovered = recovered
	if err != nil {
		// No bloquea el escaneo: un huérfano sin borrar no impide cerrar otros torneos.
		slog.Warn("orphan recovery incomplete", "err", err)
	}

	ids, err := s.store.ListExpired(ctx, s.now())
	if err != nil {
		return sum, fmt.Errorf("closure.RunOnce: list expired: %w", err)
	}
	sum.Expired = len(ids)

	for _, r := range closeConcurrent(ctx, s.coord, ids, s.cfg.Workers) {
		switch {
		case r.err == nil:
			sum.Closed = append(sum.Closed, r.closed)
		case errors.Is(r.err, domain.ErrNotFound):
			sum.AlreadyClosed++
		case errors.Is(r.err, domain.ErrPreconditionFailed):
			// expires_at cambió entre el listado y el cierre
			sum.Skipped++
		default:
			sum.Failed++
			slog.Error("timed closure failed", "challenge_id", r.id, "err", r.err)
		}
	}
	return sum, nil
}

func (s *TimedScanner) runCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	sum, err := s.RunOnce(ctx)
	if err != nil {
		return err
	}
	slog.Info("expiry scan complete",
		"expired", sum.Expired,
		"closed", len(sum.Closed),
		"already_closed", sum.AlreadyClosed,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"recovered", sum.Recovered,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

type closeResult struct {
	id     string
	closed domain.ClosedTournament
	err    error
}

// closeConcurrent cierra los ids en paralelo con un worker pool.
// Si workers <= 0 usa runtime.NumCPU() × 2.
func closeConcurrent(ctx context.Context, coord *Coordinator, ids []string, workers int) []closeResult {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	workCh := make(chan string, len(ids))
	resultCh := make(chan closeResult, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range workCh {
				closed, err := coord.AttemptClose(ctx, Request{ChallengeID: id, Trigger: domain.TriggerTimed})
				resultCh <- closeResult{id: id, closed: closed, err: err}
			}
		}()
	}

	for _, id := range ids {
		workCh <- id
	}
	close(workCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]closeResult, 0, len(ids))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}
