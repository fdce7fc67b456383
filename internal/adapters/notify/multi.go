package notify

import (
	"context"
	"errors"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// Multi reparte cada evento entre varios publicadores. Un fallo en uno no
// impide que los demás reciban el evento; los errores se devuelven unidos.
type Multi []ports.EventPublisher

func (m Multi) PublishClosed(ctx context.Context, t domain.ClosedTournament) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishClosed(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) PublishDeposit(ctx context.Context, r domain.DepositReceipt) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishDeposit(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop descarta todos los eventos.
type Nop struct{}

func (Nop) PublishClosed(context.Context, domain.ClosedTournament) error { return nil }
func (Nop) PublishDeposit(context.Context, domain.DepositReceipt) error  { return nil }
