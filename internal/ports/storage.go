package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// ResultGuard valida un envío contra el estado actual del torneo dentro de la
// misma transacción que lo escribe. Si devuelve error, no se escribe nada.
type ResultGuard func(current domain.OpenTournament) error

// TournamentStore persiste torneos abiertos y cerrados.
//
// La serialización de cierres descansa en dos primitivas atómicas:
// CreateClosed (insert-if-absent) y DeleteOpen (delete-if-present).
type TournamentStore interface {
	// CreateOpen registra un torneo nuevo. Devuelve domain.ErrConflict si el id ya existe (abierto o cerrado).
	CreateOpen(ctx context.Context, t domain.OpenTournament) error

	// LoadOpen devuelve el torneo abierto con sus resultados. domain.ErrNotFound si no existe.
	LoadOpen(ctx context.Context, challengeID string) (domain.OpenTournament, error)

	// ListExpired devuelve los ids de torneos abiertos con expires_at <= now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// UpsertResult aplica guard y escribe el resultado (last-write-wins por jugador)
	// en una sola transacción. Devuelve el torneo ya actualizado.
	UpsertResult(ctx context.Context, challengeID string, r domain.ResultEntry, guard ResultGuard) (domain.OpenTournament, error)

	// DeleteOpen borra el torneo abierto. false si ya no existía.
	DeleteOpen(ctx context.Context, challengeID string) (bool, error)

	// CreateClosed inserta el registro cerrado si no existe. false si otro cierre ganó.
	CreateClosed(ctx context.Context, c domain.ClosedTournament) (bool, error)

	// LoadClosed devuelve el registro cerrado. domain.ErrNotFound si no existe.
	LoadClosed(ctx context.Context, challengeID string) (domain.ClosedTournament, error)

	// ListClosed devuelve los últimos cierres, más recientes primero.
	ListClosed(ctx context.Context, limit int) ([]domain.ClosedTournament, error)

	// ListOrphanedOpen devuelve ids presentes a la vez como abiertos y cerrados.
	ListOrphanedOpen(ctx context.Context) ([]string, error)
}

// WalletStore persiste las carteras de prize pool.
type WalletStore interface {
	// CreateWallet registra una cartera. domain.ErrConflict si la clave ya existe.
	CreateWallet(ctx context.Context, w domain.PrizePoolWallet) error

	// LoadWallet devuelve domain.ErrNotFound si la cartera no existe.
	LoadWallet(ctx context.Context, key domain.WalletKey) (domain.PrizePoolWallet, error)

	// UpdateWallet hace read-modify-write atómico: fn recibe la cartera actual
	// y sus cambios se guardan solo si fn devuelve nil.
	UpdateWallet(ctx context.Context, key domain.WalletKey, fn func(w *domain.PrizePoolWallet) error) (domain.PrizePoolWallet, error)
}

// GameStore persiste los juegos registrados.
type GameStore interface {
	CreateGame(ctx context.Context, g domain.Game) error
	LoadGame(ctx context.Context, gameID string) (domain.Game, error)
}

// Ledger es el registro de auditoría append-only.
type Ledger interface {
	AppendLedger(ctx context.Context, e domain.LedgerEntry) error
	ListLedger(ctx context.Context, challengeID string) ([]domain.LedgerEntry, error)
}
