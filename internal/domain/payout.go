package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// payoutPrecision es el número de decimales al que se truncan las cuotas porcentuales.
const payoutPrecision = 8

var hundred = decimal.NewFromInt(100)

// PayoutSlot es la cuota de una posición del ranking: un importe absoluto
// o un porcentaje (0-100) del premio. Exactamente uno de los dos.
//
// En JSON acepta un número suelto ("100" o 100, importe) o un objeto
// {"amount": x} / {"percentage": x}.
type PayoutSlot struct {
	Amount     *decimal.Decimal
	Percentage *decimal.Decimal
}

// AmountSlot construye una cuota absoluta.
func AmountSlot(v decimal.Decimal) PayoutSlot { return PayoutSlot{Amount: &v} }

// PercentSlot construye una cuota porcentual (0-100).
func PercentSlot(v decimal.Decimal) PayoutSlot { return PayoutSlot{Percentage: &v} }

type payoutSlotJSON struct {
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
}

func (s PayoutSlot) MarshalJSON() ([]byte, error) {
	return json.Marshal(payoutSlotJSON{Amount: s.Amount, Percentage: s.Percentage})
}

func (s *PayoutSlot) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' {
		var d decimal.Decimal
		if err := d.UnmarshalJSON(b); err != nil {
			return fmt.Errorf("payout slot: %w", err)
		}
		*s = PayoutSlot{Amount: &d}
		return nil
	}
	var raw payoutSlotJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("payout slot: %w", err)
	}
	*s = PayoutSlot{Amount: raw.Amount, Percentage: raw.Percentage}
	return nil
}

// resolve devuelve el importe de la cuota para el premio dado, sin recortar.
func (s PayoutSlot) resolve(reward decimal.Decimal) decimal.Decimal {
	if s.Percentage != nil {
		return reward.Mul(*s.Percentage).Div(hundred).Truncate(payoutPrecision)
	}
	if s.Amount != nil {
		return *s.Amount
	}
	return decimal.Zero
}

// PayoutStructure asigna cuota por posición: el índice 0 es el primer puesto.
type PayoutStructure []PayoutSlot

// Validate rechaza cuotas vacías o negativas y estructuras que reparten más que el premio.
func (ps PayoutStructure) Validate(reward decimal.Decimal) error {
	var problems []string
	absSum, pctSum := decimal.Zero, decimal.Zero
	for i, s := range ps {
		switch {
		case s.Amount != nil && s.Percentage != nil:
			problems = append(problems, fmt.Sprintf("payout_structure[%d]: set either amount or percentage", i))
		case s.Amount != nil:
			if s.Amount.IsNegative() {
				problems = append(problems, fmt.Sprintf("payout_structure[%d]: amount must not be negative", i))
			}
			absSum = absSum.Add(*s.Amount)
		case s.Percentage != nil:
			if s.Percentage.IsNegative() || s.Percentage.GreaterThan(hundred) {
				problems = append(problems, fmt.Sprintf("payout_structure[%d]: percentage must be within 0..100", i))
			}
			pctSum = pctSum.Add(*s.Percentage)
		default:
			problems = append(problems, fmt.Sprintf("payout_structure[%d]: empty slot", i))
		}
	}
	if absSum.GreaterThan(reward) {
		problems = append(problems, fmt.Sprintf("payout_structure: amounts add up to %s, more than reward %s", absSum, reward))
	}
	if pctSum.GreaterThan(hundred) {
		problems = append(problems, fmt.Sprintf("payout_structure: percentages add up to %s%%", pctSum))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Payout es una distribución pendiente de ejecutar. TransactionID lo rellena
// el colaborador de desembolso; aquí siempre sale vacío.
type Payout struct {
	UserName      string          `json:"user_name"`
	Rank          int             `json:"rank"`
	Amount        decimal.Decimal `json:"amount"`
	Token         string          `json:"token"`
	Network       string          `json:"network,omitempty"`
	TransactionID string          `json:"transaction_id"`
}

// AllocatePayouts empareja winners[i] con structure[i] para i < min(len(winners), len(structure)).
//
// Cada cuota se recorta al remanente del premio, así que la suma nunca supera
// reward.Amount aunque la estructura venga mal configurada. Las cuotas que quedan
// en cero no generan Payout.
func AllocatePayouts(winners []Winner, reward Reward, structure PayoutStructure) []Payout {
	n := min(len(winners), len(structure))
	payouts := make([]Payout, 0, n)
	remaining := reward.Amount
	for i := 0; i < n; i++ {
		amount := structure[i].resolve(reward.Amount)
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if !amount.IsPositive() {
			continue
		}
		remaining = remaining.Sub(amount)
		payouts = append(payouts, Payout{
			UserName: winners[i].UserName,
			Rank:     winners[i].Rank,
			Amount:   amount,
			Token:    reward.Token,
			Network:  reward.Network,
		})
	}
	return payouts
}

// TotalPaid suma los importes de una lista de payouts.
func TotalPaid(payouts []Payout) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payouts {
		total = total.Add(p.Amount)
	}
	return total
}
