package chain

// balance.go: lector de saldos on-chain multi-red.
//
// Cada red tiene su propio ethclient y su propio token bucket: un RPC lento o
// limitado en una red no frena a las demás. Los errores de RPC se marcan como
// domain.ErrTransientIO: el caller los trata como "reintentar en el próximo poll".

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/tourneyd/internal/domain"
	"github.com/alejandrodnm/tourneyd/internal/metrics"
)

const (
	nativeDecimals       = 18
	defaultRatePerSec    = 10
	defaultBurst         = 5
	defaultTokenDecimals = 18
)

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "balanceOf",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "account", "type": "address"}],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "decimals",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint8"}]
		}
	]`))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
}

// Network describe un endpoint RPC.
type Network struct {
	Name       string
	RPCURL     string
	RatePerSec float64
}

type networkClient struct {
	name    string
	eth     *ethclient.Client
	limiter *rate.Limiter
}

// BalanceReader implementa ports.BalanceReader sobre JSON-RPC.
type BalanceReader struct {
	networks         map[string]networkClient
	fallbackDecimals int32

	mu       sync.Mutex
	decimals map[string]int32 // network:token → decimales
}

// Dial conecta con cada red. fallbackDecimals se usa cuando un token no expone decimals().
func Dial(ctx context.Context, networks []Network, fallbackDecimals int32) (*BalanceReader, error) {
	if fallbackDecimals <= 0 {
		fallbackDecimals = defaultTokenDecimals
	}
	r := &BalanceReader{
		networks:         make(map[string]networkClient, len(networks)),
		fallbackDecimals: fallbackDecimals,
		decimals:         make(map[string]int32),
	}
	for _, n := range networks {
		client, err := ethclient.DialContext(ctx, n.RPCURL)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("chain.Dial: %s: %w", n.Name, err)
		}
		perSec := n.RatePerSec
		if perSec <= 0 {
			perSec = defaultRatePerSec
		}
		r.networks[normalize(n.Name)] = networkClient{
			name:    normalize(n.Name),
			eth:     client,
			limiter: rate.NewLimiter(rate.Limit(perSec), defaultBurst),
		}
		slog.Debug("chain network ready", "network", n.Name, "rate_per_sec", perSec)
	}
	return r, nil
}

// Close cierra todos los clientes RPC.
func (r *BalanceReader) Close() {
	for _, n := range r.networks {
		n.eth.Close()
	}
}

// NativeBalance devuelve el saldo nativo en unidades enteras (wei / 1e18).
func (r *BalanceReader) NativeBalance(ctx context.Context, network, address string) (decimal.Decimal, error) {
	nc, err := r.client(network)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain.NativeBalance: %w", err)
	}
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("chain.NativeBalance: %w", domain.Invalid("bad address %q", address))
	}
	if err := nc.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("chain.NativeBalance: rate limiter: %w: %w", domain.ErrTransientIO, err)
	}

	start := time.Now()
	wei, err := nc.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	metrics.RPCDuration.WithLabelValues(nc.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain.NativeBalance: %s %s: %w: %w", network, address, domain.ErrTransientIO, err)
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

// TokenBalance devuelve balanceOf(address) del token ERC-20 escalado por sus decimales.
func (r *BalanceReader) TokenBalance(ctx context.Context, network, address, token string) (decimal.Decimal, error) {
	nc, err := r.client(network)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: %w", err)
	}
	if !common.IsHexAddress(address) || !common.IsHexAddress(token) {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: %w", domain.Invalid("bad address %q or token %q", address, token))
	}
	tokenAddr := common.HexToAddress(token)

	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: pack: %w", err)
	}
	out, err := r.call(ctx, nc, tokenAddr, data)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: balanceOf %s on %s: %w", address, token, err)
	}
	vals, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(vals) == 0 {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: unpack balanceOf: %w: %v", domain.ErrTransientIO, err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("chain.TokenBalance: unexpected balanceOf type %T", vals[0])
	}

	dec := r.tokenDecimals(ctx, network, nc, tokenAddr)
	return decimal.NewFromBigInt(raw, -dec), nil
}

// tokenDecimals consulta decimals() una vez por token y la cachea.
// Si el contrato no responde usa fallbackDecimals sin cachear.
func (r *BalanceReader) tokenDecimals(ctx context.Context, network string, nc networkClient, token common.Address) int32 {
	key := normalize(network) + ":" + token.Hex()
	r.mu.Lock()
	d, ok := r.decimals[key]
	r.mu.Unlock()
	if ok {
		return d
	}

	data, err := erc20ABI.Pack("decimals")
	if err != nil {
		return r.fallbackDecimals
	}
	out, err := r.call(ctx, nc, token, data)
	if err != nil {
		slog.Warn("token decimals unavailable, using fallback", "token", token.Hex(), "fallback", r.fallbackDecimals, "err", err)
		return r.fallbackDecimals
	}
	vals, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(vals) == 0 {
		return r.fallbackDecimals
	}
	v, ok := vals[0].(uint8)
	if !ok {
		return r.fallbackDecimals
	}

	r.mu.Lock()
	r.decimals[key] = int32(v)
	r.mu.Unlock()
	return int32(v)
}

func (r *BalanceReader) call(ctx context.Context, nc networkClient, to common.Address, data []byte) ([]byte, error) {
	if err := nc.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w: %w", domain.ErrTransientIO, err)
	}
	start := time.Now()
	out, err := nc.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	metrics.RPCDuration.WithLabelValues(nc.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("eth_call: %w: %w", domain.ErrTransientIO, err)
	}
	return out, nil
}

func (r *BalanceReader) client(network string) (networkClient, error) {
	nc, ok := r.networks[normalize(network)]
	if !ok {
		return networkClient{}, domain.Invalid("network %q is not configured", network)
	}
	return nc, nil
}

func normalize(network string) string {
	return strings.ToUpper(strings.TrimSpace(network))
}
