package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tourneyd/internal/adapters/cooldown"
	"github.com/alejandrodnm/tourneyd/internal/adapters/httpapi"
	"github.com/alejandrodnm/tourneyd/internal/adapters/storage"
	"github.com/alejandrodnm/tourneyd/internal/closure"
	"github.com/alejandrodnm/tourneyd/internal/deposit"
	"github.com/alejandrodnm/tourneyd/internal/tournament"
)

const (
	secret    = "test-secret"
	poolAddr  = "0x00000000000000000000000000000000000000a1"
	tokenAddr = "0x00000000000000000000000000000000000000b2"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fixedBalances devuelve siempre los mismos saldos.
type fixedBalances struct{ native, token decimal.Decimal }

func (f fixedBalances) NativeBalance(context.Context, string, string) (decimal.Decimal, error) {
	return f.native, nil
}

func (f fixedBalances) TokenBalance(context.Context, string, string, string) (decimal.Decimal, error) {
	return f.token, nil
}

type harness struct {
	t       *testing.T
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	coord := closure.NewCoordinator(db, db, db, nil)
	svc := tournament.NewService(db, db, db, db, db, closure.NewSubmissionWatcher(coord))
	rec := deposit.NewReconciler(deposit.DefaultConfig(), db,
		fixedBalances{native: decimal.NewFromInt(1), token: decimal.NewFromInt(25)},
		cooldown.NewMemory(), db, nil)

	srv := httpapi.New(httpapi.Config{Addr: ":0", JWTSecret: secret}, svc, closure.NewManualCloser(coord), rec)
	return &harness{t: t, handler: srv.Handler()}
}

func (h *harness) do(method, path, user string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		tok, err := httpapi.IssueToken([]byte(secret), user, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" && bytes.HasPrefix(w.Body.Bytes(), []byte("{")) {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func (h *harness) registerGame(owner string) string {
	h.t.Helper()
	w, body := h.do(http.MethodPost, "/api/games", owner, map[string]any{"game_id": "game-1", "name": "Space Race"})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	return body["game_key"].(string)
}

func tournamentBody(id string, expires time.Time) map[string]any {
	return map[string]any{
		"challenge_id":           id,
		"game_id":                "game-1",
		"title":                  "Weekly " + id,
		"max_participants":       2,
		"end_when_all_submitted": true,
		"winner_logic":           map[string]any{"mode": "highest", "metric": "score"},
		"payout_structure":       []any{100, map[string]any{"percentage": 20}},
		"reward":                 map[string]any{"token": "HGTP", "amount": "150", "reward_wallet": poolAddr},
		"expires_at":             expires.UTC().Format(time.RFC3339),
	}
}

// --- Tests ---

func TestServer_HealthAndMetricsArePublic(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = h.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tourneyd_")
}

func TestServer_RequiresBearerToken(t *testing.T) {
	h := newHarness(t)

	w, body := h.do(http.MethodGet, "/api/tournaments/closed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", body["code"])

	w, _ = h.do(http.MethodGet, "/api/tournaments/closed", "", nil, "Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := httpapi.IssueToken([]byte("other-secret"), "alice", time.Hour)
	require.NoError(t, err)
	w, _ = h.do(http.MethodGet, "/api/tournaments/closed", "", nil, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := httpapi.IssueToken([]byte(secret), "alice", -time.Minute)
	require.NoError(t, err)
	w, body = h.do(http.MethodGet, "/api/tournaments/closed", "", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token expired", body["message"])
}

func TestServer_TournamentLifecycle(t *testing.T) {
	h := newHarness(t)
	key := h.registerGame("owner-1")

	w, _ := h.do(http.MethodPost, "/api/tournaments", "owner-1", tournamentBody("c1", time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := h.do(http.MethodPost, "/api/tournaments/submit-result", "backend", map[string]any{
		"challenge_id": "c1", "user_name": "alice", "result_data": map[string]any{"score": 10}, "gameKey": key,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, body["submissions"])
	assert.Nil(t, body["closed"])

	w, body = h.do(http.MethodPost, "/api/tournaments/submit-result", "backend", map[string]any{
		"challenge_id": "c1", "user_name": "bob", "result_data": map[string]any{"score": 30}, "is_final": true, "game_key": key,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Result submitted and marked final.", body["message"])
	closed, ok := body["closed"].(map[string]any)
	require.True(t, ok, "second submission closes the tournament")
	assert.Equal(t, "auto_submission", closed["closed_by"])

	w, body = h.do(http.MethodGet, "/api/tournaments/closed/c1", "anyone", nil)
	require.Equal(t, http.StatusOK, w.Code)
	payouts := body["tournament"].(map[string]any)["payouts"].([]any)
	require.Len(t, payouts, 2)
	assert.Equal(t, "bob", payouts[0].(map[string]any)["user_name"])

	w, body = h.do(http.MethodGet, "/api/tournaments/closed?limit=5", "anyone", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["tournaments"], 1)

	w, body = h.do(http.MethodPost, "/api/tournaments/c1/close", "owner-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "already_closed", body["code"])
}

func TestServer_ManualClose(t *testing.T) {
	h := newHarness(t)
	key := h.registerGame("owner-1")
	for _, id := range []string{"c1", "c2"} {
		w, _ := h.do(http.MethodPost, "/api/tournaments", "owner-1", tournamentBody(id, time.Now().Add(time.Hour)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, body := h.do(http.MethodPost, "/api/tournaments/c1/close", "mallory", map[string]any{"game_key": "guess"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", body["code"])

	w, body = h.do(http.MethodPost, "/api/tournaments/c1/close", "owner-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "manual", body["tournament"].(map[string]any)["closed_by"])

	// la key del juego también autoriza, vía header
	w, _ = h.do(http.MethodPost, "/api/tournaments/c2/close", "backend", nil, "X-Game-Key", key)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	h := newHarness(t)
	key := h.registerGame("owner-1")

	locked := tournamentBody("locked", time.Now().Add(time.Hour))
	locked["status"] = "locked"
	w, _ := h.do(http.MethodPost, "/api/tournaments", "owner-1", locked)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := h.do(http.MethodPost, "/api/tournaments/submit-result", "backend", map[string]any{
		"challenge_id": "locked", "user_name": "alice", "result_data": map[string]any{"score": 1}, "game_key": key,
	})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "not_eligible", body["code"])

	w, _ = h.do(http.MethodPost, "/api/tournaments", "owner-1", tournamentBody("locked", time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusConflict, w.Code)

	bad := tournamentBody("bad", time.Now().Add(time.Hour))
	bad["winner_logic"] = map[string]any{"mode": "median"}
	w, body = h.do(http.MethodPost, "/api/tournaments", "owner-1", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_config", body["code"])
	assert.NotEmpty(t, body["problems"])

	w, _ = h.do(http.MethodGet, "/api/tournaments/closed/missing", "anyone", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = h.do(http.MethodGet, "/api/tournaments/closed?limit=abc", "anyone", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_WalletAndDeposit(t *testing.T) {
	h := newHarness(t)
	h.registerGame("owner-1")
	wallet := map[string]any{"game_id": "game-1", "network": "eth", "token_address": tokenAddr, "address": poolAddr}

	w, body := h.do(http.MethodPost, "/api/tournaments/wallet", "owner-1", wallet)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "ETH", body["network"])

	w, _ = h.do(http.MethodPost, "/api/tournaments/wallet", "owner-1", wallet)
	assert.Equal(t, http.StatusOK, w.Code, "registration is idempotent")

	confirm := map[string]any{"game_id": "game-1", "network": "ETH", "token_address": tokenAddr}
	w, body = h.do(http.MethodPost, "/api/tournaments/deposit-confirm", "owner-1", confirm)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, body["funded"])
	assert.Equal(t, "25", body["token_balance"])

	w, body = h.do(http.MethodPost, "/api/tournaments/deposit-confirm", "owner-1", confirm)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["code"])
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
