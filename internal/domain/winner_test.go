package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func results(pairs ...any) []ResultEntry {
	var out []ResultEntry
	for i := 0; i+1 < len(pairs); i += 2 {
		data := map[string]any{}
		if pairs[i+1] != nil {
			data["score"] = pairs[i+1]
		}
		out = append(out, ResultEntry{UserName: pairs[i].(string), Data: data})
	}
	return out
}

func names(ws []Winner) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.UserName
	}
	return out
}

func TestEvaluateWinners_Highest(t *testing.T) {
	ws, err := EvaluateWinners(results("A", 10, "B", 30, "C", 20), WinnerLogic{Mode: ModeHighest, Metric: "score"})
	require.NoError(t, err)
	require.Len(t, ws, 3)

	assert.Equal(t, []string{"B", "C", "A"}, names(ws))
	for i, w := range ws {
		assert.Equal(t, i+1, w.Rank)
	}
	assert.Equal(t, 30.0, *ws[0].Score)
	assert.Equal(t, 20.0, *ws[1].Score)
	assert.Equal(t, 10.0, *ws[2].Score)
}

func TestEvaluateWinners_Lowest(t *testing.T) {
	ws, err := EvaluateWinners(results("A", 10, "B", 30, "C", 20), WinnerLogic{Mode: ModeLowest, Metric: "score"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, names(ws))
}

func TestEvaluateWinners_TiesKeepSubmissionOrder(t *testing.T) {
	ws, err := EvaluateWinners(results("A", 5, "B", 9, "C", 5, "D", 5), WinnerLogic{Mode: ModeHighest, Metric: "score"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C", "D"}, names(ws))
}

func TestEvaluateWinners_MissingMetricIsWorst(t *testing.T) {
	for _, mode := range []Mode{ModeHighest, ModeLowest} {
		ws, err := EvaluateWinners(results("A", nil, "B", 3, "C", "oops", "D", 1), WinnerLogic{Mode: mode, Metric: "score"})
		require.NoError(t, err)
		require.Len(t, ws, 4)
		assert.Equal(t, []string{"A", "C"}, names(ws[2:]), "mode %s", mode)
		assert.Nil(t, ws[2].Score)
		assert.Nil(t, ws[3].Score)
	}
}

func TestEvaluateWinners_NestedMetricAndNumericStrings(t *testing.T) {
	rs := []ResultEntry{
		{UserName: "A", Data: map[string]any{"stats": map[string]any{"kills": "7"}}},
		{UserName: "B", Data: map[string]any{"stats": map[string]any{"kills": 12}}},
	}
	ws, err := EvaluateWinners(rs, WinnerLogic{Mode: ModeHighest, Metric: "stats.kills"})
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, names(ws))
}

func TestEvaluateWinners_Formula(t *testing.T) {
	rs := []ResultEntry{
		{UserName: "A", Data: map[string]any{"kills": 10, "deaths": 5}},
		{UserName: "B", Data: map[string]any{"kills": 6, "deaths": 1}},
		{UserName: "C", Data: map[string]any{"kills": 3, "deaths": 0}},
	}
	logic := WinnerLogic{Mode: ModeHighest, Metric: "kills", Formula: &Formula{Expr: "kills / max(deaths, 1)"}}
	ws, err := EvaluateWinners(rs, logic)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C", "A"}, names(ws))
	assert.InDelta(t, 2.0, *ws[2].Score, 1e-9)
}

func TestEvaluateWinners_EmptyResults(t *testing.T) {
	ws, err := EvaluateWinners(nil, WinnerLogic{Mode: ModeHighest, Metric: "score"})
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestEvaluateWinners_InvalidLogic(t *testing.T) {
	_, err := EvaluateWinners(results("A", 1), WinnerLogic{Mode: "random", Metric: ""})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 2)
}
