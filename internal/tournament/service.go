// Package tournament gestiona el ciclo de vida de un torneo abierto:
// registro, envío de resultados y las carteras de premios de cada juego.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/tourneyd/internal/closure"
	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
	"github.com/alejandrodnm/tourneyd/internal/ports"
)

// SubmitRequest es un envío de resultado desde el backend del juego.
type SubmitRequest struct {
	ChallengeID string
	UserName    string
	Data        map[string]any
	Final       bool
	GameKey     string
}

// SubmitOutcome devuelve el torneo tras el envío y el cierre si este envío lo disparó.
type SubmitOutcome struct {
	Tournament domain.OpenTournament
	Closed     *domain.ClosedTournament
}

// Service expone las operaciones de registro y envío.
type Service struct {
	store   ports.TournamentStore
	games   ports.GameStore
	wallets ports.WalletStore
	ledger  ports.Ledger
	auth    ports.Authorizer
	watcher *closure.SubmissionWatcher
	now     func() time.Time
}

// NewService crea el servicio. watcher puede ser nil (sin cierre automático por envíos).
func NewService(
	store ports.TournamentStore,
	games ports.GameStore,
	wallets ports.WalletStore,
	ledger ports.Ledger,
	auth ports.Authorizer,
	watcher *closure.SubmissionWatcher,
) *Service {
	return &Service{
		store:   store,
		games:   games,
		wallets: wallets,
		ledger:  ledger,
		auth:    auth,
		watcher: watcher,
		now:     time.Now,
	}
}

// WithClock sustituye el reloj (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegisterGame registra un juego y genera su game key.
func (s *Service) RegisterGame(ctx context.Context, owner, gameID, name string) (domain.Game, error) {
	if owner == "" {
		return domain.Game{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(gameID) == "" {
		return domain.Game{}, domain.Invalid("game_id is required")
	}
	g := domain.Game{
		GameID:    gameID,
		Name:      name,
		Owner:     owner,
		GameKey:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt: s.now().UTC(),
	}
	if err := s.games.CreateGame(ctx, g); err != nil {
		return domain.Game{}, fmt.Errorf("tournament.RegisterGame: %w", err)
	}
	slog.Info("game registered", "game_id", gameID, "owner", owner)
	return g, nil
}

// Create registra un torneo abierto. Solo el dueño del juego (o quien tenga su key) puede crearlo.
func (s *Service) Create(ctx context.Context, caller domain.Caller, t domain.OpenTournament) (domain.OpenTournament, error) {
	if t.Status == "" {
		t.Status = domain.StatusOpen
	}
	if err := t.Validate(); err != nil {
		return domain.OpenTournament{}, fmt.Errorf("tournament.Create: %w", err)
	}
	if !t.ExpiresAt.After(s.now()) {
		return domain.OpenTournament{}, fmt.Errorf("tournament.Create: %w", domain.Invalid("expires_at must be in the future"))
	}
	if _, err := s.games.LoadGame(ctx, t.GameID); err != nil {
		return domain.OpenTournament{}, fmt.Errorf("tournament.Create: %w", err)
	}
	if err := s.authorize(ctx, t.GameID, caller); err != nil {
		return domain.OpenTournament{}, fmt.Errorf("tournament.Create: %w", err)
	}

	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = s.now().UTC()
	t.Results = nil
	if t.Participants == nil {
		t.Participants = []string{}
	}

	if err := s.store.CreateOpen(ctx, t); err != nil {
		return domain.OpenTournament{}, fmt.Errorf("tournament.Create: %w", err)
	}

	entry := domain.NewLedgerEntry(domain.LedgerChallengeCreated, caller.UserID, map[string]any{
		"title":            t.Title,
		"reward":           t.Reward,
		"max_participants": t.MaxParticipants,
		"expires_at":       t.ExpiresAt,
	}, t.CreatedAt)
	entry.ChallengeID, entry.GameID = t.ChallengeID, t.GameID
	if err := s.ledger.AppendLedger(ctx, entry); err != nil {
		slog.Error("create ledger entry failed", "challenge_id", t.ChallengeID, "err", err)
	}

	slog.Info("tournament created",
		"challenge_id", t.ChallengeID,
		"game_id", t.GameID,
		"expires_at", t.ExpiresAt,
		"max_participants", t.MaxParticipants,
	)
	return t, nil
}

// SubmitResult valida y escribe un resultado; si con él se completan los envíos,
// intenta el cierre automático en la misma llamada.
func (s *Service) SubmitResult(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	outcome, err := s.submit(ctx, req)
	metrics.ResultsSubmitted.WithLabelValues(submitLabel(err)).Inc()
	return outcome, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	if req.ChallengeID == "" || req.UserName == "" || req.Data == nil {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: %w",
			domain.Invalid("challenge_id, user_name and result_data are required"))
	}
	if req.GameKey == "" {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: game key required: %w", domain.ErrUnauthorized)
	}

	// La key se comprueba contra el juego antes de tocar nada.
	current, err := s.store.LoadOpen(ctx, req.ChallengeID)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: %w", err)
	}
	ok, err := s.auth.IsValidGameKey(ctx, current.GameID, req.GameKey)
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: check game key: %w", err)
	}
	if !ok {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: %w", domain.ErrUnauthorized)
	}

	now := s.now()
	entry := domain.ResultEntry{
		UserName:    req.UserName,
		Data:        req.Data,
		Final:       req.Final,
		SubmittedAt: now.UTC(),
	}

	// El guard corre dentro de la transacción del store sobre el estado actual,
	// así capacidad y anti-cheat no compiten con otros envíos.
	updated, err := s.store.UpsertResult(ctx, req.ChallengeID, entry, func(t domain.OpenTournament) error {
		return admit(t, entry, now)
	})
	if err != nil {
		return SubmitOutcome{}, fmt.Errorf("tournament.SubmitResult: %w", err)
	}

	slog.Debug("result submitted",
		"challenge_id", req.ChallengeID,
		"user", req.UserName,
		"final", req.Final,
		"submissions", updated.DistinctSubmissions(),
	)

	out := SubmitOutcome{Tournament: updated}
	if s.watcher == nil {
		return out, nil
	}
	closed, err := s.watcher.AfterSubmit(ctx, updated)
	if err != nil {
		// El resultado ya está guardado; el escáner temporal cerrará el torneo.
		slog.Error("auto close after submit failed", "challenge_id", req.ChallengeID, "err", err)
		return out, nil
	}
	out.Closed = closed
	return out, nil
}

// admit decide si un envío entra en el torneo tal como está ahora.
func admit(t domain.OpenTournament, r domain.ResultEntry, now time.Time) error {
	if t.Status == domain.StatusLocked {
		return fmt.Errorf("tournament is locked: %w", domain.ErrPreconditionFailed)
	}
	if t.IsExpired(now) {
		return fmt.Errorf("tournament expired at %s: %w", t.ExpiresAt.Format(time.RFC3339), domain.ErrPreconditionFailed)
	}
	if !t.HasParticipant(r.UserName) && t.IsFull() {
		return fmt.Errorf("tournament is full (%d players): %w", t.MaxParticipants, domain.ErrPreconditionFailed)
	}

	var prev map[string]any
	if existing, ok := t.FindResult(r.UserName); ok {
		prev = existing.Data
	}
	return t.AntiCheat.Check(r.Data, prev, now)
}

// GetClosed devuelve el registro cerrado de un torneo.
func (s *Service) GetClosed(ctx context.Context, challengeID string) (domain.ClosedTournament, error) {
	c, err := s.store.LoadClosed(ctx, challengeID)
	if err != nil {
		return domain.ClosedTournament{}, fmt.Errorf("tournament.GetClosed: %w", err)
	}
	return c, nil
}

// ListClosed devuelve los últimos cierres.
func (s *Service) ListClosed(ctx context.Context, limit int) ([]domain.ClosedTournament, error) {
	if limit <= 0 {
		limit = 20
	}
	list, err := s.store.ListClosed(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("tournament.ListClosed: %w", err)
	}
	return list, nil
}

// RegisterWallet registra la cartera de premios de un juego para una red y un token.
// Es idempotente: si ya existe devuelve la registrada y created=false.
// La custodia de claves es externa: el caller aporta la dirección.
func (s *Service) RegisterWallet(ctx context.Context, caller domain.Caller, key domain.WalletKey, address string) (domain.PrizePoolWallet, bool, error) {
	key.Network = strings.ToUpper(strings.TrimSpace(key.Network))
	if err := key.Validate(); err != nil {
		return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w", err)
	}
	if !common.IsHexAddress(address) || !common.IsHexAddress(key.TokenAddress) {
		return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w",
			domain.Invalid("address and token_address must be hex addresses"))
	}
	key.TokenAddress = common.HexToAddress(key.TokenAddress).Hex()
	if err := s.authorize(ctx, key.GameID, caller); err != nil {
		return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w", err)
	}

	existing, err := s.wallets.LoadWallet(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w", err)
	}

	now := s.now().UTC()
	w := domain.PrizePoolWallet{
		WalletKey: key,
		Address:   common.HexToAddress(address).Hex(),
		Owner:     caller.UserID,
		Credited:  map[string]decimal.Decimal{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.wallets.CreateWallet(ctx, w); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Otro registro ganó la carrera: devolvemos el suyo.
			existing, loadErr := s.wallets.LoadWallet(ctx, key)
			if loadErr != nil {
				return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w", loadErr)
			}
			return existing, false, nil
		}
		return domain.PrizePoolWallet{}, false, fmt.Errorf("tournament.RegisterWallet: %w", err)
	}

	entry := domain.NewLedgerEntry(domain.LedgerWalletCreated, caller.UserID, map[string]any{
		"network":       key.Network,
		"wallet":        w.Address,
		"token_address": key.TokenAddress,
	}, now)
	entry.GameID = key.GameID
	if err := s.ledger.AppendLedger(ctx, entry); err != nil {
		slog.Error("wallet ledger entry failed", "wallet", key.String(), "err", err)
	}

	slog.Info("prize pool wallet registered", "wallet", key.String(), "address", w.Address)
	return w, true, nil
}

func (s *Service) authorize(ctx context.Context, gameID string, caller domain.Caller) error {
	owner, err := s.auth.IsOwner(ctx, gameID, caller.UserID)
	if err != nil {
		return fmt.Errorf("check owner: %w", err)
	}
	if owner {
		return nil
	}
	if caller.GameKey != "" {
		ok, err := s.auth.IsValidGameKey(ctx, gameID, caller.GameKey)
		if err != nil {
			return fmt.Errorf("check game key: %w", err)
		}
		if ok {
			return nil
		}
	}
	return domain.ErrUnauthorized
}

func submitLabel(err error) string {
	if err == nil {
		return "accepted"
	}
	return domain.CloseReason(err)
}
