package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// CreateOpen inserta el torneo y sus resultados iniciales (si los trae).
// Un id ya usado por un torneo abierto o cerrado devuelve domain.ErrConflict.
func (s *SQLiteStorage) CreateOpen(ctx context.Context, t domain.OpenTournament) error {
	if t.Status == "" {
		t.Status = domain.StatusOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}

	return s.inTx(ctx, "CreateOpen", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM closed_tournaments WHERE challenge_id = ?`, t.ChallengeID,
		).Scan(&n); err != nil {
			return fmt.Errorf("storage.CreateOpen: check closed: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("storage.CreateOpen: %q already closed: %w", t.ChallengeID, domain.ErrConflict)
		}

		doc, err := openDoc(t)
		if err != nil {
			return fmt.Errorf("storage.CreateOpen: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO open_tournaments (challenge_id, game_id, status, expires_at, created_at, doc)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(challenge_id) DO NOTHING`,
			t.ChallengeID, t.GameID, string(t.Status), toMillis(t.ExpiresAt), toMillis(t.CreatedAt), doc,
		)
		if err != nil {
			return fmt.Errorf("storage.CreateOpen: insert: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("storage.CreateOpen: %q exists: %w", t.ChallengeID, domain.ErrConflict)
		}

		for _, r := range t.Results {
			if err := upsertResultRow(ctx, tx, t.ChallengeID, r); err != nil {
				return fmt.Errorf("storage.CreateOpen: %w", err)
			}
		}
		return nil
	})
}

// LoadOpen devuelve el torneo con sus resultados en orden de primer envío.
func (s *SQLiteStorage) LoadOpen(ctx context.Context, challengeID string) (domain.OpenTournament, error) {
	t, err := loadOpen(ctx, s.db, challengeID)
	if err != nil {
		return domain.OpenTournament{}, fmt.Errorf("storage.LoadOpen: %w", err)
	}
	return t, nil
}

// ListExpired devuelve los ids con expires_at <= now, los más antiguos primero.
func (s *SQLiteStorage) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := queryIDs(ctx, s.db,
		`SELECT challenge_id FROM open_tournaments WHERE expires_at <= ? ORDER BY expires_at`,
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ListExpired: %w", err)
	}
	return ids, nil
}

// UpsertResult lee el torneo, aplica guard y escribe el resultado en la misma transacción.
func (s *SQLiteStorage) UpsertResult(ctx context.Context, challengeID string, r domain.ResultEntry, guard ports.ResultGuard) (domain.OpenTournament, error) {
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}

	var updated domain.OpenTournament
	err := s.inTx(ctx, "UpsertResult", func(tx *sql.Tx) error {
		current, err := loadOpen(ctx, tx, challengeID)
		if err != nil {
			return fmt.Errorf("storage.UpsertResult: %w", err)
		}
		if guard != nil {
			if err := guard(current); err != nil {
				return err
			}
		}

		if err := upsertResultRow(ctx, tx, challengeID, r); err != nil {
			return fmt.Errorf("storage.UpsertResult: %w", err)
		}

		updated = current.WithResult(r)
		if len(updated.Participants) != len(current.Participants) {
			doc, err := openDoc(updated)
			if err != nil {
				return fmt.Errorf("storage.UpsertResult: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE open_tournaments SET doc = ? WHERE challenge_id = ?`, doc, challengeID,
			); err != nil {
				return fmt.Errorf("storage.UpsertResult: update participants: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.OpenTournament{}, err
	}
	return updated, nil
}

// DeleteOpen borra el torneo abierto y sus resultados. false si ya no existía.
func (s *SQLiteStorage) DeleteOpen(ctx context.Context, challengeID string) (bool, error) {
	var deleted bool
	err := s.inTx(ctx, "DeleteOpen", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM open_tournaments WHERE challenge_id = ?`, challengeID)
		if err != nil {
			return fmt.Errorf("storage.DeleteOpen: delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("storage.DeleteOpen: rows affected: %w", err)
		}
		deleted = n == 1

		if _, err := tx.ExecContext(ctx, `DELETE FROM tournament_results WHERE challenge_id = ?`, challengeID); err != nil {
			return fmt.Errorf("storage.DeleteOpen: delete results: %w", err)
		}
		return nil
	})
	return deleted, err
}

// CreateClosed inserta el registro cerrado si todavía no existe.
func (s *SQLiteStorage) CreateClosed(ctx context.Context, c domain.ClosedTournament) (bool, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("storage.CreateClosed: marshal: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO closed_tournaments (challenge_id, game_id, closed_by, closed_at, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(challenge_id) DO NOTHING`,
		c.ChallengeID, c.GameID, string(c.ClosedBy), toMillis(c.ClosedAt), string(doc),
	)
	if err != nil {
		return false, fmt.Errorf("storage.CreateClosed: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.CreateClosed: rows affected: %w", err)
	}
	return n == 1, nil
}

// LoadClosed devuelve el registro cerrado de un torneo.
func (s *SQLiteStorage) LoadClosed(ctx context.Context, challengeID string) (domain.ClosedTournament, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM closed_tournaments WHERE challenge_id = ?`, challengeID,
	).Scan(&doc)
	if isNoRows(err) {
		return domain.ClosedTournament{}, fmt.Errorf("storage.LoadClosed: %q: %w", challengeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("storage.LoadClosed: query: %w", err)
	}

	var c domain.ClosedTournament
	if err := json.Unmarshal([]byte(doc), &c); err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("storage.LoadClosed: decode %q: %w", challengeID, err)
	}
	return c, nil
}

// ListClosed devuelve los últimos cierres, más recientes primero.
func (s *SQLiteStorage) ListClosed(ctx context.Context, limit int) ([]domain.ClosedTournament, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM closed_tournaments ORDER BY closed_at DESC, challenge_id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.ListClosed: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedTournament
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("storage.ListClosed: scan row: %w", err)
		}
		var c domain.ClosedTournament
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, fmt.Errorf("storage.ListClosed: decode: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListOrphanedOpen devuelve ids que siguen abiertos aunque ya tienen registro cerrado:
// un cierre que se cayó entre CreateClosed y DeleteOpen.
func (s *SQLiteStorage) ListOrphanedOpen(ctx context.Context) ([]string, error) {
	ids, err := queryIDs(ctx, s.db, `
		SELECT o.challenge_id
		FROM open_tournaments o
		JOIN closed_tournaments c ON c.challenge_id = o.challenge_id
		ORDER BY o.challenge_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.ListOrphanedOpen: %w", err)
	}
	return ids, nil
}

// --- helpers internos ---

// openDoc serializa el torneo sin resultados: esos viven en tournament_results.
func openDoc(t domain.OpenTournament) (string, error) {
	t.Results = nil
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal tournament %q: %w", t.ChallengeID, err)
	}
	return string(b), nil
}

func loadOpen(ctx context.Context, q querier, challengeID string) (domain.OpenTournament, error) {
	var doc string
	err := q.QueryRowContext(ctx,
		`SELECT doc FROM open_tournaments WHERE challenge_id = ?`, challengeID,
	).Scan(&doc)
	if isNoRows(err) {
		return domain.OpenTournament{}, fmt.Errorf("open tournament %q: %w", challengeID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.OpenTournament{}, fmt.Errorf("query open %q: %w", challengeID, err)
	}

	var t domain.OpenTournament
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return domain.OpenTournament{}, fmt.Errorf("decode open %q: %w", challengeID, err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_name, data, final, submitted_at
		FROM tournament_results
		WHERE challenge_id = ?
		ORDER BY seq`, challengeID)
	if err != nil {
		return domain.OpenTournament{}, fmt.Errorf("query results %q: %w", challengeID, err)
	}
	defer rows.Close()

	t.Results = nil
	for rows.Next() {
		var r domain.ResultEntry
		var data string
		var final int
		var submitted int64
		if err := rows.Scan(&r.UserName, &data, &final, &submitted); err != nil {
			return domain.OpenTournament{}, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &r.Data); err != nil {
			return domain.OpenTournament{}, fmt.Errorf("decode result of %q: %w", r.UserName, err)
		}
		r.Final = final == 1
		r.SubmittedAt = fromMillis(submitted)
		t.Results = append(t.Results, r)
	}
	return t, rows.Err()
}

func upsertResultRow(ctx context.Context, q querier, challengeID string, r domain.ResultEntry) error {
	data, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Errorf("marshal result of %q: %w", r.UserName, err)
	}
	if _, err := q.ExecContext(ctx, `
		INSERT INTO tournament_results (challenge_id, user_name, data, final, submitted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(challenge_id, user_name) DO UPDATE SET
			data         = excluded.data,
			final        = excluded.final,
			submitted_at = excluded.submitted_at`,
		challengeID, r.UserName, string(data), boolInt(r.Final), toMillis(r.SubmittedAt),
	); err != nil {
		return fmt.Errorf("upsert result of %q: %w", r.UserName, err)
	}
	return nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
