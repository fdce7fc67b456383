package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Condiciones soportadas por las reglas anti-cheat. Una condición desconocida acepta.
const (
	CondEquals            = "equals"
	CondGreaterThan       = "greater_than"
	CondLessThan          = "less_than"
	CondIncreasesBy1      = "increases_by_1"
	CondWithinLastSeconds = "within_last_seconds"
)

// AntiCheatRule compara un campo del resultado con Value.
type AntiCheatRule struct {
	Field     string `json:"field"`
	Condition string `json:"condition"`
	Value     any    `json:"value,omitempty"`
}

// AntiCheat es el conjunto de reglas que debe cumplir cada resultado enviado.
type AntiCheat struct {
	Rules []AntiCheatRule `json:"rules,omitempty"`
}

// ValidateConfig solo exige campo en cada regla y valor numérico donde la condición compara números.
func (a AntiCheat) ValidateConfig() error {
	var problems []string
	for i, r := range a.Rules {
		if strings.TrimSpace(r.Field) == "" {
			problems = append(problems, fmt.Sprintf("anti_cheat.rules[%d]: field is required", i))
		}
		switch r.Condition {
		case CondGreaterThan, CondLessThan, CondWithinLastSeconds:
			if _, ok := toFloat(r.Value); !ok {
				problems = append(problems, fmt.Sprintf("anti_cheat.rules[%d]: %s needs a numeric value", i, r.Condition))
			}
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Check evalúa las reglas contra un resultado. prev es el envío anterior del mismo
// jugador (nil si es el primero). Devuelve un *ValidationError con una línea por regla fallida.
func (a AntiCheat) Check(data, prev map[string]any, now time.Time) error {
	var problems []string
	for _, r := range a.Rules {
		if !r.passes(data, prev, now) {
			msg := fmt.Sprintf("failed rule: %s - %s", r.Field, r.Condition)
			if r.Value != nil {
				msg += fmt.Sprintf(" (%v)", r.Value)
			}
			problems = append(problems, msg)
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (r AntiCheatRule) passes(data, prev map[string]any, now time.Time) bool {
	cur, present := lookupPath(data, r.Field)

	switch r.Condition {
	case CondEquals:
		return present && sameValue(cur, r.Value)

	case CondGreaterThan, CondLessThan:
		a, ok1 := toFloat(cur)
		b, ok2 := toFloat(r.Value)
		if !present || !ok1 || !ok2 {
			return false
		}
		if r.Condition == CondGreaterThan {
			return a > b
		}
		return a < b

	case CondIncreasesBy1:
		before, had := lookupPath(prev, r.Field)
		if !had {
			return true
		}
		a, ok1 := toFloat(cur)
		b, ok2 := toFloat(before)
		return present && ok1 && ok2 && a == b+1

	case CondWithinLastSeconds:
		// el campo es un timestamp en milisegundos epoch
		ts, ok1 := toFloat(cur)
		window, ok2 := toFloat(r.Value)
		if !present || !ok1 || !ok2 || ts == 0 {
			return false
		}
		return float64(now.UnixMilli())-ts <= window*1000

	default:
		return true
	}
}

// sameValue compara numéricamente si ambos lados son números y, si no, por su forma JSON.
func sameValue(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	_, aStr := a.(string)
	_, bStr := b.(string)
	if okA && okB && !aStr && !bStr {
		return fa == fb
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
