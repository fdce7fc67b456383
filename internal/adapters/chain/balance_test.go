package chain_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tourneyd/internal/adapters/chain"
	"github.com/alejandrodnm/tourneyd/internal/domain"
)

const (
	wallet = "0x1111111111111111111111111111111111111111"
	token  = "0x2222222222222222222222222222222222222222"

	selBalanceOf = "0x70a08231"
	selDecimals  = "0x313ce567"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode responde eth_getBalance y eth_call (balanceOf / decimals) con valores fijos.
type fakeNode struct {
	decimalsCalls atomic.Int32
	failCalls     bool
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var result string
	switch req.Method {
	case "eth_getBalance":
		result = "0x22b1c8c1227a0000" // 2.5 ETH
	case "eth_call":
		if f.failCalls {
			writeRPC(w, req.ID, "", "execution reverted")
			return
		}
		var call struct {
			Data  string `json:"data"`
			Input string `json:"input"`
		}
		_ = json.Unmarshal(req.Params[0], &call)
		data := call.Input
		if data == "" {
			data = call.Data
		}
		switch {
		case strings.HasPrefix(data, selBalanceOf):
			result = "0x" + fmt.Sprintf("%064x", 15_500_000) // 15.5 con 6 decimales
		case strings.HasPrefix(data, selDecimals):
			f.decimalsCalls.Add(1)
			result = "0x" + fmt.Sprintf("%064x", 6)
		default:
			writeRPC(w, req.ID, "", "unknown selector")
			return
		}
	default:
		writeRPC(w, req.ID, "", "method not found")
		return
	}
	writeRPC(w, req.ID, result, "")
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result, errMsg string) {
	resp := map[string]any{"jsonrpc": "2.0", "id": id}
	if errMsg != "" {
		resp["error"] = map[string]any{"code": -32000, "message": errMsg}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func dialFake(t *testing.T, node *fakeNode) *chain.BalanceReader {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	r, err := chain.Dial(context.Background(), []chain.Network{{Name: "eth", RPCURL: srv.URL, RatePerSec: 100}}, 18)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestBalanceReader_NativeBalance(t *testing.T) {
	r := dialFake(t, &fakeNode{})

	bal, err := r.NativeBalance(context.Background(), "ETH", wallet)
	require.NoError(t, err)
	assert.Equal(t, "2.5", bal.String())
}

func TestBalanceReader_TokenBalanceUsesDecimals(t *testing.T) {
	node := &fakeNode{}
	r := dialFake(t, node)
	ctx := context.Background()

	bal, err := r.TokenBalance(ctx, "eth", wallet, token)
	require.NoError(t, err)
	assert.Equal(t, "15.5", bal.String())

	_, err = r.TokenBalance(ctx, "eth", wallet, token)
	require.NoError(t, err)
	assert.Equal(t, int32(1), node.decimalsCalls.Load(), "decimals() is cached per token")
}

func TestBalanceReader_RPCErrorIsTransient(t *testing.T) {
	r := dialFake(t, &fakeNode{failCalls: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.TokenBalance(ctx, "ETH", wallet, token)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
}

func TestBalanceReader_UnknownNetworkAndBadAddress(t *testing.T) {
	r := dialFake(t, &fakeNode{})
	ctx := context.Background()

	_, err := r.NativeBalance(ctx, "SOL", wallet)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = r.TokenBalance(ctx, "ETH", "not-an-address", token)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBalanceReader_TimeoutIsTransient(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		(&fakeNode{}).ServeHTTP(w, r)
	})
	srv := httptest.NewServer(slow)
	defer srv.Close()

	r, err := chain.Dial(context.Background(), []chain.Network{{Name: "ETH", RPCURL: srv.URL}}, 18)
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.NativeBalance(ctx, "ETH", wallet)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
}
