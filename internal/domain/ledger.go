package domain

import (
	"time"

	"github.com/google/uuid"
)

// LedgerKind clasifica las entradas del ledger de auditoría.
type LedgerKind string

const (
	LedgerChallengeCreated LedgerKind = "create_challenge"
	LedgerTournamentClosed LedgerKind = "tournament_closed"
	LedgerWalletCheck      LedgerKind = "tournament_wallet_check"
	LedgerWalletCreated    LedgerKind = "tournament_wallet_created"
)

// LedgerEntry es un apunte inmutable. Data es un documento libre por tipo.
type LedgerEntry struct {
	ID          string         `json:"id"`
	Kind        LedgerKind     `json:"kind"`
	Actor       string         `json:"actor,omitempty"`
	ChallengeID string         `json:"challenge_id,omitempty"`
	GameID      string         `json:"game_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NewLedgerEntry crea un apunte con id y timestamp.
func NewLedgerEntry(kind LedgerKind, actor string, data map[string]any, now time.Time) LedgerEntry {
	return LedgerEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Actor:     actor,
		Data:      data,
		CreatedAt: now.UTC(),
	}
}

// ClosureEntry construye el apunte de un cierre: trigger, ganadores y payouts.
func ClosureEntry(closed ClosedTournament) LedgerEntry {
	e := NewLedgerEntry(LedgerTournamentClosed, string(closed.ClosedBy), map[string]any{
		"trigger":    string(closed.ClosedBy),
		"winners":    closed.Winners,
		"payouts":    closed.Payouts,
		"total_paid": TotalPaid(closed.Payouts).String(),
	}, closed.ClosedAt)
	e.ChallengeID = closed.ChallengeID
	e.GameID = closed.GameID
	return e
}
