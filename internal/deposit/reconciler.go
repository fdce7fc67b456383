// Package deposit reconcilia los saldos on-chain de las carteras de premios
// con el ledger interno de depósitos acreditados.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// Config del reconciliador.
type Config struct {
	Cooldown   time.Duration // una reconciliación por cartera en esta ventana, la pida quien la pida
	RPCTimeout time.Duration // tope para las dos lecturas de saldo
}

// DefaultConfig: 5s de cooldown, 10s de timeout RPC.
func DefaultConfig() Config {
	return Config{Cooldown: 5 * time.Second, RPCTimeout: 10 * time.Second}
}

// Request identifica quién pide la reconciliación y de qué cartera.
type Request struct {
	UserID string
	Key    domain.WalletKey
}

// Reconciler acredita en el ledger los depósitos observados on-chain.
type Reconciler struct {
	cfg      Config
	wallets  ports.WalletStore
	balances ports.BalanceReader
	cooldown ports.CooldownStore
	ledger   ports.Ledger
	events   ports.EventPublisher
	now      func() time.Time
}

// NewReconciler crea el reconciliador. events puede ser nil. Los campos de cfg a cero
// toman el valor de DefaultConfig.
func NewReconciler(
	cfg Config,
	wallets ports.WalletStore,
	balances ports.BalanceReader,
	cooldown ports.CooldownStore,
	ledger ports.Ledger,
	events ports.EventPublisher,
) *Reconciler {
	def := DefaultConfig()
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = def.RPCTimeout
	}
	return &Reconciler{
		cfg:      cfg,
		wallets:  wallets,
		balances: balances,
		cooldown: cooldown,
		ledger:   ledger,
		events:   events,
		now:      time.Now,
	}
}

// WithClock sustituye el reloj (tests).
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Confirm lee los saldos de la cartera y acredita el delta positivo del token.
//
// Dentro del cooldown devuelve *domain.RateLimitedError. Un fallo o timeout del RPC
// es domain.ErrTransientIO: no se escribe nada y el siguiente poll reintenta.
func (r *Reconciler) Confirm(ctx context.Context, req Request) (domain.DepositReceipt, error) {
	req.Key = normalizeKey(req.Key)
	receipt, obs, err := r.confirm(ctx, req)
	metrics.DepositChecks.WithLabelValues(req.Key.Network, depositOutcome(obs, err)).Inc()
	return receipt, err
}

func (r *Reconciler) confirm(ctx context.Context, req Request) (domain.DepositReceipt, *domain.Observation, error) {
	if err := req.Key.Validate(); err != nil {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: %w", err)
	}
	if !common.IsHexAddress(req.Key.TokenAddress) {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: %w",
			domain.Invalid("token_address %q is not a hex address", req.Key.TokenAddress))
	}

	// Una cartera desconocida no consume ventana.
	wallet, err := r.wallets.LoadWallet(ctx, req.Key)
	if err != nil {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: %w", err)
	}

	ok, retryAfter, err := r.cooldown.Acquire(ctx, cooldownKey(req.Key), r.cfg.Cooldown)
	if err != nil {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: cooldown: %w: %w", domain.ErrTransientIO, err)
	}
	if !ok {
		return domain.DepositReceipt{}, nil, &domain.RateLimitedError{RetryAfter: retryAfter}
	}

	native, token, err := r.readBalances(ctx, wallet)
	if err != nil {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: %s: %w", req.Key, err)
	}

	var obs domain.Observation
	updated, err := r.wallets.UpdateWallet(ctx, req.Key, func(w *domain.PrizePoolWallet) error {
		obs = w.ApplyObservation(native, token, r.now())
		return nil
	})
	if err != nil {
		return domain.DepositReceipt{}, nil, fmt.Errorf("deposit.Confirm: update wallet: %w", err)
	}

	entry := domain.NewLedgerEntry(domain.LedgerWalletCheck, req.UserID, map[string]any{
		"network":          req.Key.Network,
		"wallet":           updated.Address,
		"token_address":    req.Key.TokenAddress,
		"eth_balance":      native.String(),
		"previous_balance": obs.PreviousToken.String(),
		"observed_balance": obs.ObservedToken.String(),
		"credited_before":  obs.CreditedBefore.String(),
		"credited_after":   obs.CreditedAfter.String(),
		"delta":            obs.Delta.String(),
	}, r.now())
	entry.GameID = req.Key.GameID
	if err := r.ledger.AppendLedger(ctx, entry); err != nil {
		slog.Error("wallet check ledger entry failed", "wallet", req.Key.String(), "err", err)
	}

	receipt := domain.DepositReceipt{
		WalletKey:  updated.WalletKey,
		Address:    updated.Address,
		Funded:     native.IsPositive(),
		EthBalance: native,
		Credited:   obs.CreditedAfter,
		Delta:      obs.Delta,
	}

	if obs.Delta.IsPositive() {
		slog.Info("deposit credited",
			"wallet", req.Key.String(),
			"delta", obs.Delta.String(),
			"credited", obs.CreditedAfter.String(),
		)
		if r.events != nil {
			if err := r.events.PublishDeposit(ctx, receipt); err != nil {
				slog.Warn("deposit event not published", "wallet", req.Key.String(), "err", err)
			}
		}
	} else if obs.ObservedToken.LessThan(obs.PreviousToken) {
		slog.Info("token balance decreased, nothing credited",
			"wallet", req.Key.String(),
			"previous", obs.PreviousToken.String(),
			"observed", obs.ObservedToken.String(),
		)
	}
	return receipt, &obs, nil
}

// readBalances lee saldo nativo y de token con un único timeout para ambas llamadas.
func (r *Reconciler) readBalances(ctx context.Context, w domain.PrizePoolWallet) (decimal.Decimal, decimal.Decimal, error) {
	rctx, cancel := context.WithTimeout(ctx, r.cfg.RPCTimeout)
	defer cancel()

	native, err := r.balances.NativeBalance(rctx, w.Network, w.Address)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("native balance: %w", transient(rctx, err))
	}
	token, err := r.balances.TokenBalance(rctx, w.Network, w.Address, w.TokenAddress)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("token balance: %w", transient(rctx, err))
	}
	return native, token, nil
}

// transient marca como reintentable todo fallo de lectura que no sea de validación.
func transient(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrTransientIO) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientIO, ctx.Err())
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientIO, err)
}

// cooldownKey identifica la cartera (juego, red, token): el usuario que pide no cuenta.
func cooldownKey(key domain.WalletKey) string {
	return fmt.Sprintf("deposit:%s:%s:%s", key.GameID, key.Network, strings.ToLower(key.TokenAddress))
}

// normalizeKey deja la red en mayúsculas y el token en su forma checksum,
// igual que al registrar la cartera.
func normalizeKey(key domain.WalletKey) domain.WalletKey {
	key.Network = strings.ToUpper(strings.TrimSpace(key.Network))
	key.TokenAddress = strings.TrimSpace(key.TokenAddress)
	if common.IsHexAddress(key.TokenAddress) {
		key.TokenAddress = common.HexToAddress(key.TokenAddress).Hex()
	}
	return key
}

func depositOutcome(obs *domain.Observation, err error) string {
	switch {
	case err == nil && obs != nil && obs.Delta.IsPositive():
		return "credited"
	case err == nil:
		return "unchanged"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrTransientIO):
		return "transient"
	default:
		return "error"
	}
}
