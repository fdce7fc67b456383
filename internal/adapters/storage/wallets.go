package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/tourneyd/internal/domain"
)

// CreateWallet registra una cartera de prize pool. La clave es (juego, red, token).
func (s *SQLiteStorage) CreateWallet(ctx context.Context, w domain.PrizePoolWallet) error {
	now := s.now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	credited, err := encodeCredited(w.Credited)
	if err != nil {
		return fmt.Errorf("storage.CreateWallet: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO prize_pool_wallets
			(game_id, network, token_address, address, owner, eth_balance, token_balance, credited, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, network, token_address) DO NOTHING`,
		w.GameID, w.Network, w.TokenAddress, w.Address, w.Owner,
		w.EthBalance.String(), w.TokenBalance.String(), credited,
		toMillis(w.CreatedAt), toMillis(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("storage.CreateWallet: insert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.CreateWallet: %s exists: %w", w.WalletKey, domain.ErrConflict)
	}
	return nil
}

// LoadWallet devuelve la cartera de una clave.
func (s *SQLiteStorage) LoadWallet(ctx context.Context, key domain.WalletKey) (domain.PrizePoolWallet, error) {
	w, err := loadWallet(ctx, s.db, key)
	if err != nil {
		return domain.PrizePoolWallet{}, fmt.Errorf("storage.LoadWallet: %w", err)
	}
	return w, nil
}

// UpdateWallet aplica fn sobre la cartera actual y guarda el resultado en la misma transacción.
// Dos reconciliaciones concurrentes nunca parten de la misma base.
func (s *SQLiteStorage) UpdateWallet(ctx context.Context, key domain.WalletKey, fn func(w *domain.PrizePoolWallet) error) (domain.PrizePoolWallet, error) {
	var out domain.PrizePoolWallet
	err := s.inTx(ctx, "UpdateWallet", func(tx *sql.Tx) error {
		w, err := loadWallet(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("storage.UpdateWallet: %w", err)
		}
		if err := fn(&w); err != nil {
			return err
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = s.now().UTC()
		}
		credited, err := encodeCredited(w.Credited)
		if err != nil {
			return fmt.Errorf("storage.UpdateWallet: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE prize_pool_wallets
			SET address = ?, eth_balance = ?, token_balance = ?, credited = ?, updated_at = ?
			WHERE game_id = ? AND network = ? AND token_address = ?`,
			w.Address, w.EthBalance.String(), w.TokenBalance.String(), credited, toMillis(w.UpdatedAt),
			key.GameID, key.Network, key.TokenAddress,
		); err != nil {
			return fmt.Errorf("storage.UpdateWallet: update: %w", err)
		}
		out = w
		return nil
	})
	if err != nil {
		return domain.PrizePoolWallet{}, err
	}
	return out, nil
}

func loadWallet(ctx context.Context, q querier, key domain.WalletKey) (domain.PrizePoolWallet, error) {
	var (
		w                   domain.PrizePoolWallet
		eth, token, credRaw string
		created, updated    int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT address, owner, eth_balance, token_balance, credited, created_at, updated_at
		FROM prize_pool_wallets
		WHERE game_id = ? AND network = ? AND token_address = ?`,
		key.GameID, key.Network, key.TokenAddress,
	).Scan(&w.Address, &w.Owner, &eth, &token, &credRaw, &created, &updated)
	if isNoRows(err) {
		return domain.PrizePoolWallet{}, fmt.Errorf("wallet %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PrizePoolWallet{}, fmt.Errorf("query wallet %s: %w", key, err)
	}

	w.WalletKey = key
	if w.EthBalance, err = decimal.NewFromString(eth); err != nil {
		return domain.PrizePoolWallet{}, fmt.Errorf("decode eth_balance of %s: %w", key, err)
	}
	if w.TokenBalance, err = decimal.NewFromString(token); err != nil {
		return domain.PrizePoolWallet{}, fmt.Errorf("decode token_balance of %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(credRaw), &w.Credited); err != nil {
		return domain.PrizePoolWallet{}, fmt.Errorf("decode credited of %s: %w", key, err)
	}
	w.CreatedAt = fromMillis(created)
	w.UpdatedAt = fromMillis(updated)
	return w, nil
}

func encodeCredited(m map[string]decimal.Decimal) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal credited: %w", err)
	}
	return string(b), nil
}
