package ports

import (
	"context"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// EventPublisher difunde los eventos de liquidación a sistemas externos.
// Un fallo de publicación nunca deshace un cierre ya persistido.
type EventPublisher interface {
	// PublishClosed anuncia un torneo recién cerrado con sus ganadores y payouts.
	PublishClosed(ctx context.Context, c domain.ClosedTournament) error

	// PublishDeposit anuncia una reconciliación de depósito.
	PublishDeposit(ctx context.Context, r domain.DepositReceipt) error
}
