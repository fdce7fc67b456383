package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCreditDelta(t *testing.T) {
	assert.Equal(t, "10", CreditDelta(dec("0"), dec("10")).String())
	assert.True(t, CreditDelta(dec("10"), dec("7")).IsZero())
	assert.True(t, CreditDelta(dec("7"), dec("7")).IsZero())
	assert.Equal(t, "8", CreditDelta(dec("7"), dec("15")).String())
}

// Base = último saldo observado: [0,10,7,15] acredita [0,+10,+0,+8].
func TestApplyObservation_LedgerMonotonic(t *testing.T) {
	w := &PrizePoolWallet{WalletKey: WalletKey{GameID: "g", Network: "ETH", TokenAddress: "0xtoken"}}
	now := time.Now()

	observed := []string{"0", "10", "7", "15"}
	wantDelta := []string{"0", "10", "0", "8"}
	wantCredited := []string{"0", "10", "10", "18"}
	wantPrev := []string{"0", "0", "10", "7"}

	prevCredited := decimal.Zero
	for i, o := range observed {
		obs := w.ApplyObservation(dec("1"), dec(o), now)
		assert.Equal(t, wantPrev[i], obs.PreviousToken.String(), "step %d", i)
		assert.Equal(t, wantDelta[i], obs.Delta.String(), "step %d", i)
		assert.Equal(t, wantCredited[i], obs.CreditedAfter.String(), "step %d", i)
		assert.True(t, obs.CreditedAfter.GreaterThanOrEqual(prevCredited))
		assert.Equal(t, o, w.TokenBalance.String())
		prevCredited = obs.CreditedAfter
	}
	assert.Equal(t, "18", w.CreditedFor("0xtoken").String())
	assert.True(t, w.CreditedFor("0xother").IsZero())
}

func TestWalletKey_Validate(t *testing.T) {
	assert.NoError(t, WalletKey{GameID: "g", Network: "ETH", TokenAddress: "0x1"}.Validate())
	assert.ErrorIs(t, WalletKey{GameID: "g"}.Validate(), ErrValidation)
}
