// Package closure cierra torneos. Los tres orígenes de cierre (expiración,
// envíos completos y petición manual) pasan por el mismo Coordinator.
package closure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// Request es un intento de cierre.
type Request struct {
	ChallengeID string
	Trigger     domain.Trigger
	Caller      domain.Caller // solo para TriggerManual
}

// Coordinator ejecuta cargar → validar → evaluar → repartir → archivar → borrar → ledger.
//
// No hay locks en proceso: el único punto de serialización es el store.
// CreateClosed es insert-if-absent, así que de N intentos concurrentes
// exactamente uno crea el registro cerrado; el resto ve domain.ErrNotFound.
type Coordinator struct {
	store  ports.TournamentStore
	ledger ports.Ledger
	auth   ports.Authorizer
	events ports.EventPublisher
	now    func() time.Time
}

// NewCoordinator crea el coordinador. events puede ser nil.
func NewCoordinator(store ports.TournamentStore, ledger ports.Ledger, auth ports.Authorizer, events ports.EventPublisher) *Coordinator {
	return &Coordinator{
		store:  store,
		ledger: ledger,
		auth:   auth,
		events: events,
		now:    time.Now,
	}
}

// WithClock sustituye el reloj (tests).
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// AttemptClose cierra el torneo si la precondición del trigger se cumple.
//
// Errores: domain.ErrNotFound (no existe o ya cerrado), domain.ErrPreconditionFailed,
// domain.ErrUnauthorized, domain.ErrValidation. Ninguno deja el torneo a medias.
func (c *Coordinator) AttemptClose(ctx context.Context, req Request) (domain.ClosedTournament, error) {
	start := time.Now()
	closed, err := c.attemptClose(ctx, req)

	outcome := "closed"
	if err != nil {
		outcome = domain.CloseReason(err)
	}
	metrics.ClosureAttempts.WithLabelValues(string(req.Trigger), outcome).Inc()
	metrics.ClosureDuration.WithLabelValues(string(req.Trigger)).Observe(time.Since(start).Seconds())
	return closed, err
}

func (c *Coordinator) attemptClose(ctx context.Context, req Request) (domain.ClosedTournament, error) {
	// 1. Cargar. Ausente = ya cerrado (o nunca existió).
	t, err := c.store.LoadOpen(ctx, req.ChallengeID)
	if err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: %w", req.ChallengeID, err)
	}

	// 2. Precondición del trigger.
	if err := c.checkPrecondition(ctx, t, req); err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: %w", req.ChallengeID, err)
	}

	// 3-4. Ranking y reparto.
	if err := t.PayoutStructure.Validate(t.Reward.Amount); err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: %w", req.ChallengeID, err)
	}
	winners, err := domain.EvaluateWinners(t.Results, t.WinnerLogic)
	if err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: %w", req.ChallengeID, err)
	}
	payouts := domain.AllocatePayouts(winners, t.Reward, t.PayoutStructure)
	closed := t.Close(winners, payouts, req.Trigger, c.now())

	// 5. Archivar antes de borrar: un crash entre ambos deja los dos registros
	// y Recover termina el trabajo.
	created, err := c.store.CreateClosed(ctx, closed)
	if err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: archive: %w", req.ChallengeID, err)
	}
	if !created {
		if _, err := c.store.DeleteOpen(ctx, req.ChallengeID); err != nil {
			slog.Warn("stale open record not deleted", "challenge_id", req.ChallengeID, "err", err)
		}
		slog.Info("tournament already closed", "challenge_id", req.ChallengeID, "trigger", req.Trigger)
		return domain.ClosedTournament{}, fmt.Errorf("closure.AttemptClose: %s: closed by another trigger: %w", req.ChallengeID, domain.ErrNotFound)
	}

	// 6. Borrar el abierto. Si falla, el cierre ya es durable: Recover lo limpia.
	if _, err := c.store.DeleteOpen(ctx, req.ChallengeID); err != nil {
		slog.Error("open record not deleted after close", "challenge_id", req.ChallengeID, "err", err)
	}

	// 7. Ledger de auditoría.
	if err := c.ledger.AppendLedger(ctx, domain.ClosureEntry(closed)); err != nil {
		slog.Error("closure ledger entry failed", "challenge_id", req.ChallengeID, "err", err)
	}

	for _, p := range payouts {
		metrics.PayoutsAllocated.WithLabelValues(p.Token).Inc()
	}
	slog.Info("tournament closed",
		"challenge_id", closed.ChallengeID,
		"trigger", req.Trigger,
		"results", len(closed.Results),
		"payouts", len(payouts),
		"paid", domain.TotalPaid(payouts).String(),
		"token", closed.Reward.Token,
	)

	if c.events != nil {
		if err := c.events.PublishClosed(ctx, closed); err != nil {
			slog.Warn("closed event not published", "challenge_id", closed.ChallengeID, "err", err)
		}
	}
	return closed, nil
}

func (c *Coordinator) checkPrecondition(ctx context.Context, t domain.OpenTournament, req Request) error {
	switch req.Trigger {
	case domain.TriggerTimed:
		if !t.IsExpired(c.now()) {
			return fmt.Errorf("expires at %s: %w", t.ExpiresAt.Format(time.RFC3339), domain.ErrPreconditionFailed)
		}
	case domain.TriggerAutoSubmission:
		if !t.AllSubmitted() {
			return fmt.Errorf("%d of %d submissions: %w", t.DistinctSubmissions(), t.MaxParticipants, domain.ErrPreconditionFailed)
		}
	case domain.TriggerManual:
		return c.authorize(ctx, t.GameID, req.Caller)
	default:
		return domain.Invalid("unknown trigger %q", req.Trigger)
	}
	return nil
}

// authorize acepta al dueño del juego o a quien presente la clave del juego.
func (c *Coordinator) authorize(ctx context.Context, gameID string, caller domain.Caller) error {
	if c.auth == nil {
		return domain.ErrUnauthorized
	}
	owner, err := c.auth.IsOwner(ctx, gameID, caller.UserID)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if owner {
		return nil
	}
	if caller.GameKey != "" {
		ok, err := c.auth.IsValidGameKey(ctx, gameID, caller.GameKey)
		if err != nil {
			return fmt.Errorf("check game key: %w", err)
		}
		if ok {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

// Recover termina cierres interrumpidos: borra los abiertos que ya tienen registro cerrado.
func (c *Coordinator) Recover(ctx context.Context) (int, error) {
	ids, err := c.store.ListOrphanedOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("closure.Recover: %w", err)
	}

	recovered := 0
	var errs []error
	for _, id := range ids {
		deleted, err := c.store.DeleteOpen(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if deleted {
			recovered++
			metrics.OrphansRecovered.Inc()
			slog.Info("orphaned open record removed", "challenge_id", id)
		}
	}
	if len(errs) > 0 {
		return recovered, fmt.Errorf("closure.Recover: %w", errors.Join(errs...))
	}
	return recovered, nil
}
