package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Mode es la dirección del ranking.
type Mode string

const (
	ModeHighest Mode = "highest"
	ModeLowest  Mode = "lowest"
)

// WinnerLogic convierte los resultados enviados en un ranking.
type WinnerLogic struct {
	Mode    Mode     `json:"mode"`
	Metric  string   `json:"metric"`
	Formula *Formula `json:"formula,omitempty"`
}

// Validate rechaza modos desconocidos, métricas vacías y fórmulas que no compilan.
func (w WinnerLogic) Validate() error {
	var problems []string
	if w.Mode != ModeHighest && w.Mode != ModeLowest {
		problems = append(problems, `winner_logic.mode must be "highest" or "lowest"`)
	}
	if strings.TrimSpace(w.Metric) == "" {
		problems = append(problems, "winner_logic.metric is required")
	}
	if w.Formula != nil {
		if _, err := w.Formula.Compile(); err != nil {
			problems = append(problems, "winner_logic.formula: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Winner es una posición del ranking. Score es nil cuando el resultado
// no tenía la métrica (o la fórmula no produjo un número).
type Winner struct {
	UserName string   `json:"user_name"`
	Rank     int      `json:"rank"`
	Score    *float64 `json:"score"`
}

// EvaluateWinners ordena TODOS los resultados según la lógica configurada.
//
// Reglas:
//   - un valor ausente es el peor posible para la dirección elegida
//   - orden estable: los empates conservan el orden de envío
//   - no se trunca aquí; el recorte a posiciones pagadas lo hace AllocatePayouts
func EvaluateWinners(results []ResultEntry, logic WinnerLogic) ([]Winner, error) {
	if err := logic.Validate(); err != nil {
		return nil, err
	}

	var program Program
	if logic.Formula != nil {
		p, err := logic.Formula.Compile()
		if err != nil {
			return nil, Invalid("winner_logic.formula: %v", err)
		}
		program = p
	}

	type scored struct {
		user    string
		score   float64
		present bool
	}

	rows := make([]scored, len(results))
	for i, r := range results {
		var v float64
		var ok bool
		if program != nil {
			v, ok = program.Score(r.Data, logic.Metric)
		} else {
			v, ok = MetricValue(r.Data, logic.Metric)
		}
		rows[i] = scored{user: r.UserName, score: v, present: ok}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.present != b.present {
			return a.present
		}
		if !a.present {
			return false
		}
		if logic.Mode == ModeLowest {
			return a.score < b.score
		}
		return a.score > b.score
	})

	winners := make([]Winner, len(rows))
	for i, row := range rows {
		w := Winner{UserName: row.user, Rank: i + 1}
		if row.present {
			s := row.score
			w.Score = &s
		}
		winners[i] = w
	}
	return winners, nil
}

// MetricValue extrae un valor numérico de los datos de un resultado.
// Admite rutas con punto ("stats.kills") para datos anidados.
func MetricValue(data map[string]any, path string) (float64, bool) {
	raw, ok := lookupPath(data, path)
	if !ok {
		return 0, false
	}
	return toFloat(raw)
}

func lookupPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
