package closure

import (
	"context"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// ManualCloser atiende peticiones explícitas de cierre del dueño del juego.
type ManualCloser struct {
	coord *Coordinator
}

func NewManualCloser(coord *Coordinator) *ManualCloser {
	return &ManualCloser{coord: coord}
}

// Close cierra el torneo sin mirar expiración ni envíos. El caller debe ser
// el dueño del juego o presentar su game key; si no, domain.ErrUnauthorized
// y el torneo queda intacto.
func (m *ManualCloser) Close(ctx context.Context, challengeID string, caller domain.Caller) (domain.ClosedTournament, error) {
	return m.coord.AttemptClose(ctx, Request{
		ChallengeID: challengeID,
		Trigger:     domain.TriggerManual,
		Caller:      caller,
	})
}
