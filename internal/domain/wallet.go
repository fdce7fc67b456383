package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WalletKey identifica un prize pool: un juego, una red y un token.
type WalletKey struct {
	GameID       string `json:"game_id"`
	Network      string `json:"network"`
	TokenAddress string `json:"token_address"`
}

func (k WalletKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.GameID, k.Network, k.TokenAddress)
}

// Validate exige las tres partes de la clave.
func (k WalletKey) Validate() error {
	if k.GameID == "" || k.Network == "" || k.TokenAddress == "" {
		return Invalid("game_id, network and token_address are required")
	}
	return nil
}

// PrizePoolWallet es la cartera custodial de premios de un juego.
//
// TokenBalance es el último saldo on-chain observado; Credited (hgtpBalances)
// es lo que el ledger interno ha reconocido como depositado y nunca decrece.
type PrizePoolWallet struct {
	WalletKey
	Address      string                     `json:"address"`
	Owner        string                     `json:"owner,omitempty"`
	EthBalance   decimal.Decimal            `json:"eth_balance"`
	TokenBalance decimal.Decimal            `json:"token_balance"`
	Credited     map[string]decimal.Decimal `json:"hgtp_balances"`
	CreatedAt    time.Time                  `json:"created_at"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// CreditedFor devuelve el saldo reconocido para un token (cero si nunca hubo depósito).
func (w PrizePoolWallet) CreditedFor(token string) decimal.Decimal {
	if v, ok := w.Credited[token]; ok {
		return v
	}
	return decimal.Zero
}

// CreditDelta es lo que se acredita al pasar de last a observed: solo subidas.
// Una bajada (fondos que salen de custodia) no deshace depósitos ya reconocidos.
func CreditDelta(last, observed decimal.Decimal) decimal.Decimal {
	if observed.GreaterThan(last) {
		return observed.Sub(last)
	}
	return decimal.Zero
}

// Observation es el resultado de aplicar una lectura de saldos a la cartera.
type Observation struct {
	PreviousToken  decimal.Decimal
	ObservedToken  decimal.Decimal
	ObservedNative decimal.Decimal
	Delta          decimal.Decimal
	CreditedBefore decimal.Decimal
	CreditedAfter  decimal.Decimal
}

// ApplyObservation acredita el delta positivo y guarda la nueva lectura como base.
// La base es siempre el último saldo observado, no el máximo histórico.
func (w *PrizePoolWallet) ApplyObservation(native, token decimal.Decimal, now time.Time) Observation {
	obs := Observation{
		PreviousToken:  w.TokenBalance,
		ObservedToken:  token,
		ObservedNative: native,
		Delta:          CreditDelta(w.TokenBalance, token),
		CreditedBefore: w.CreditedFor(w.TokenAddress),
	}
	obs.CreditedAfter = obs.CreditedBefore.Add(obs.Delta)

	if w.Credited == nil {
		w.Credited = make(map[string]decimal.Decimal)
	}
	w.Credited[w.TokenAddress] = obs.CreditedAfter
	w.EthBalance = native
	w.TokenBalance = token
	w.UpdatedAt = now.UTC()
	return obs
}

// DepositReceipt es lo que ve el caller de una reconciliación: si hay fondos
// nativos y el saldo acreditado, nunca el saldo bruto on-chain.
type DepositReceipt struct {
	WalletKey
	Address    string          `json:"address"`
	Funded     bool            `json:"funded"`
	EthBalance decimal.Decimal `json:"eth_balance"`
	Credited   decimal.Decimal `json:"token_balance"`
	Delta      decimal.Decimal `json:"credited_delta"`
}
