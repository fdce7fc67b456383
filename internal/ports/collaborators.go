package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Authorizer responde quién puede cerrar manualmente los torneos de un juego.
type Authorizer interface {
	IsOwner(ctx context.Context, gameID, callerID string) (bool, error)
	IsValidGameKey(ctx context.Context, gameID, key string) (bool, error)
}

// BalanceReader lee saldos on-chain. Puede tardar: el caller aplica timeout.
type BalanceReader interface {
	// NativeBalance devuelve el saldo nativo (ETH) en unidades enteras de la moneda.
	NativeBalance(ctx context.Context, network, address string) (decimal.Decimal, error)

	// TokenBalance devuelve el saldo ERC-20 ya escalado por los decimales del token.
	TokenBalance(ctx context.Context, network, address, token string) (decimal.Decimal, error)
}

// CooldownStore es un almacén de claves con TTL compartible entre instancias.
type CooldownStore interface {
	// Acquire reserva key durante ttl. Si ya estaba reservada devuelve ok=false
	// y el tiempo que le queda.
	Acquire(ctx context.Context, key string, ttl time.Duration) (ok bool, retryAfter time.Duration, err error)
}
