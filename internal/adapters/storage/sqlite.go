package storage

// sqlite.go: persistencia de torneos, carteras, juegos y ledger.
//
// Estrategia:
//   - `open_tournaments`: una fila por torneo abierto. El documento completo va
//     en `doc` (JSON); expires_at y status se duplican en columnas para indexar.
//   - `tournament_results`: una fila por (torneo, jugador). UPSERT conserva `seq`,
//     así que reenviar sobreescribe sin perder el orden del primer envío.
//   - `closed_tournaments`: proyección inmutable. El INSERT es insert-if-absent:
//     la fila que entra primero es el único cierre.
//   - Tiempos en milisegundos epoch (INTEGER); importes como TEXT decimal.
//   - Una sola conexión: SQLite es single-writer y las transacciones quedan serializadas.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS games (
    game_id    TEXT PRIMARY KEY,
    name       TEXT    NOT NULL DEFAULT '',
    owner      TEXT    NOT NULL,
    game_key   TEXT    NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS open_tournaments (
    challenge_id TEXT PRIMARY KEY,
    game_id      TEXT    NOT NULL,
    status       TEXT    NOT NULL,
    expires_at   INTEGER NOT NULL,
    created_at   INTEGER NOT NULL,
    doc          TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS tournament_results (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    challenge_id TEXT    NOT NULL,
    user_name    TEXT    NOT NULL,
    data         TEXT    NOT NULL,
    final        INTEGER NOT NULL DEFAULT 0,
    submitted_at INTEGER NOT NULL,
    UNIQUE (challenge_id, user_name)
);

CREATE TABLE IF NOT EXISTS closed_tournaments (
    challenge_id TEXT PRIMARY KEY,
    game_id      TEXT    NOT NULL,
    closed_by    TEXT    NOT NULL,
    closed_at    INTEGER NOT NULL,
    doc          TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS prize_pool_wallets (
    game_id       TEXT    NOT NULL,
    network       TEXT    NOT NULL,
    token_address TEXT    NOT NULL,
    address       TEXT    NOT NULL,
    owner         TEXT    NOT NULL DEFAULT '',
    eth_balance   TEXT    NOT NULL DEFAULT '0',
    token_balance TEXT    NOT NULL DEFAULT '0',
    credited      TEXT    NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    PRIMARY KEY (game_id, network, token_address)
);

CREATE TABLE IF NOT EXISTS ledger (
    id           TEXT PRIMARY KEY,
    kind         TEXT    NOT NULL,
    actor        TEXT    NOT NULL DEFAULT '',
    challenge_id TEXT    NOT NULL DEFAULT '',
    game_id      TEXT    NOT NULL DEFAULT '',
    data         TEXT    NOT NULL DEFAULT '{}',
    created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_open_expires   ON open_tournaments(expires_at);
CREATE INDEX IF NOT EXISTS idx_results_ch     ON tournament_results(challenge_id, seq);
CREATE INDEX IF NOT EXISTS idx_closed_at      ON closed_tournaments(closed_at DESC);
CREATE INDEX IF NOT EXISTS idx_ledger_ch      ON ledger(challenge_id, created_at);
`

// querier es lo común entre *sql.DB y *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStorage implementa TournamentStore, WalletStore, GameStore, Ledger y
// Authorizer usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// inTx ejecuta fn en una transacción; rollback si fn falla.
func (s *SQLiteStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.%s: begin tx: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.%s: commit: %w", op, err)
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
