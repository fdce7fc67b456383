package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTournament() OpenTournament {
	return OpenTournament{
		ChallengeID:     "c1",
		GameID:          "g1",
		Title:           "Weekly",
		MaxParticipants: 2,
		Status:          StatusOpen,
		WinnerLogic:     WinnerLogic{Mode: ModeHighest, Metric: "score"},
		PayoutStructure: PayoutStructure{AmountSlot(dec("100")), AmountSlot(dec("50"))},
		Reward:          Reward{Token: "HGTP", Amount: dec("150"), RewardWallet: "0xpool"},
		ExpiresAt:       time.Now().Add(time.Hour),
	}
}

func TestOpenTournament_Validate(t *testing.T) {
	assert.NoError(t, validTournament().Validate())

	bad := validTournament()
	bad.Title = ""
	bad.WinnerLogic.Mode = "median"
	bad.PayoutStructure = PayoutStructure{AmountSlot(dec("500"))}
	err := bad.Validate()

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 3)
}

func TestOpenTournament_AllSubmitted(t *testing.T) {
	tr := validTournament()
	tr.EndWhenAllSubmitted = true
	tr = tr.WithResult(ResultEntry{UserName: "A"})
	assert.False(t, tr.AllSubmitted())

	tr = tr.WithResult(ResultEntry{UserName: "B"})
	assert.True(t, tr.AllSubmitted())

	tr.Unlimited = true
	assert.False(t, tr.AllSubmitted(), "unlimited never closes by submissions")

	tr.Unlimited = false
	tr.EndWhenAllSubmitted = false
	assert.False(t, tr.AllSubmitted())

	tr.EndWhenAllSubmitted = true
	tr.MaxParticipants = 0
	assert.False(t, tr.AllSubmitted())
}

func TestOpenTournament_WithResultOverwrites(t *testing.T) {
	tr := validTournament()
	tr = tr.WithResult(ResultEntry{UserName: "A", Data: map[string]any{"score": 1}})
	tr = tr.WithResult(ResultEntry{UserName: "B", Data: map[string]any{"score": 2}})
	tr = tr.WithResult(ResultEntry{UserName: "A", Data: map[string]any{"score": 9}, Final: true})

	require.Len(t, tr.Results, 2)
	assert.Equal(t, "A", tr.Results[0].UserName)
	assert.Equal(t, 9, tr.Results[0].Data["score"])
	assert.True(t, tr.Results[0].Final)
	assert.Equal(t, []string{"A", "B"}, tr.Participants)
	assert.Equal(t, 2, tr.DistinctSubmissions())
	assert.True(t, tr.IsFull())
}

func TestOpenTournament_IsExpired(t *testing.T) {
	tr := validTournament()
	assert.False(t, tr.IsExpired(tr.ExpiresAt.Add(-time.Second)))
	assert.True(t, tr.IsExpired(tr.ExpiresAt))
	assert.True(t, tr.IsExpired(tr.ExpiresAt.Add(time.Second)))
}

func TestOpenTournament_Close(t *testing.T) {
	tr := validTournament()
	tr.Unlimited = true
	tr.EndWhenAllSubmitted = true
	tr.AutoRestart = true
	tr.CreatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	closedAt := time.Now()
	c := tr.Close([]Winner{{UserName: "A", Rank: 1}}, nil, TriggerManual, closedAt)

	// la proyección conserva todos los campos descriptivos
	assert.True(t, c.Unlimited)
	assert.True(t, c.EndWhenAll)
	assert.True(t, c.AutoRestart)
	assert.Equal(t, tr.CreatedAt, c.CreatedAt)
	assert.Equal(t, tr.ExpiresAt, c.ExpiresAt)
	assert.Equal(t, tr.MaxParticipants, c.MaxParticipants)

	assert.Equal(t, StatusClosed, c.Status)
	assert.Equal(t, TriggerManual, c.ClosedBy)
	assert.Equal(t, tr.ChallengeID, c.ChallengeID)
	assert.Equal(t, tr.Reward, c.Reward)
	assert.Len(t, c.Winners, 1)
}

func TestCloseReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", ErrNotFound), ReasonAlreadyClosed},
		{ErrPreconditionFailed, ReasonNotEligible},
		{ErrUnauthorized, ReasonUnauthorized},
		{Invalid("bad"), ReasonInvalidConfig},
		{&RateLimitedError{RetryAfter: time.Second}, ReasonRateLimited},
		{ErrTransientIO, ReasonTransient},
		{ErrConflict, ReasonConflict},
		{errors.New("boom"), ReasonInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CloseReason(tc.err), "%v", tc.err)
	}
}
