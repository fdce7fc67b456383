package closure

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// SubmissionWatcher cierra un torneo en cuanto todos los participantes enviaron resultado.
type SubmissionWatcher struct {
	coord *Coordinator
}

func NewSubmissionWatcher(coord *Coordinator) *SubmissionWatcher {
	return &SubmissionWatcher{coord: coord}
}

// AfterSubmit se llama con el torneo ya actualizado por un envío.
// Devuelve el cierre si este envío lo disparó, nil si no procede.
// Perder la carrera contra otro trigger no es un error.
func (w *SubmissionWatcher) AfterSubmit(ctx context.Context, t domain.OpenTournament) (*domain.ClosedTournament, error) {
	if !t.AllSubmitted() {
		return nil, nil
	}

	closed, err := w.coord.AttemptClose(ctx, Request{ChallengeID: t.ChallengeID, Trigger: domain.TriggerAutoSubmission})
	switch {
	case err == nil:
		return &closed, nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrPreconditionFailed):
		slog.Debug("auto close skipped", "challenge_id", t.ChallengeID, "reason", domain.CloseReason(err))
		return nil, nil
	default:
		return nil, err
	}
}
