package storage

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// --- juegos ---

// CreateGame registra un juego. domain.ErrConflict si el id ya existe.
func (s *SQLiteStorage) CreateGame(ctx context.Context, g domain.Game) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO games (game_id, name, owner, game_key, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(game_id) DO NOTHING`,
		g.GameID, g.Name, g.Owner, g.GameKey, toMillis(g.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.CreateGame: insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.CreateGame: %q exists: %w", g.GameID, domain.ErrConflict)
	}
	return nil
}

// LoadGame devuelve el juego con su clave.
func (s *SQLiteStorage) LoadGame(ctx context.Context, gameID string) (domain.Game, error) {
	var g domain.Game
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT game_id, name, owner, game_key, created_at FROM games WHERE game_id = ?`, gameID,
	).Scan(&g.GameID, &g.Name, &g.Owner, &g.GameKey, &created)
	if isNoRows(err) {
		return domain.Game{}, fmt.Errorf("storage.LoadGame: %q: %w", gameID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("storage.LoadGame: query: %w", err)
	}
	g.CreatedAt = fromMillis(created)
	return g, nil
}

// IsOwner devuelve true si callerID registró el juego. Un juego desconocido no tiene dueño.
func (s *SQLiteStorage) IsOwner(ctx context.Context, gameID, callerID string) (bool, error) {
	if callerID == "" {
		return false, nil
	}
	g, err := s.LoadGame(ctx, gameID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return g.Owner == callerID, nil
}

// IsValidGameKey compara la clave en tiempo constante.
func (s *SQLiteStorage) IsValidGameKey(ctx context.Context, gameID, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	g, err := s.LoadGame(ctx, gameID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(g.GameKey), []byte(key)) == 1, nil
}

// --- ledger ---

// AppendLedger añade un apunte. Los apuntes no se modifican nunca.
func (s *SQLiteStorage) AppendLedger(ctx context.Context, e domain.LedgerEntry) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("storage.AppendLedger: marshal %s: %w", e.Kind, err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger (id, kind, actor, challenge_id, game_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Actor, e.ChallengeID, e.GameID, string(data), toMillis(e.CreatedAt),
	); err != nil {
		return fmt.Errorf("storage.AppendLedger: insert %s: %w", e.Kind, err)
	}
	return nil
}

// ListLedger devuelve los apuntes de un torneo en orden cronológico.
// challengeID vacío devuelve los apuntes sin torneo (carteras).
func (s *SQLiteStorage) ListLedger(ctx context.Context, challengeID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, actor, challenge_id, game_id, data, created_at
		FROM ledger
		WHERE challenge_id = ?
		ORDER BY created_at, rowid`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("storage.ListLedger: query: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var kind, data string
		var created int64
		if err := rows.Scan(&e.ID, &kind, &e.Actor, &e.ChallengeID, &e.GameID, &data, &created); err != nil {
			return nil, fmt.Errorf("storage.ListLedger: scan row: %w", err)
		}
		e.Kind = domain.LedgerKind(kind)
		e.CreatedAt = fromMillis(created)
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("storage.ListLedger: decode %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
