package domain

// formula.go: fórmula de puntuación opcional de winner_logic.
//
// Es una variante etiquetada:
//   - Builtin: una estrategia con nombre aplicada sobre la métrica configurada.
//   - Expr:    una expresión aritmética restringida sobre los campos de UN resultado.
//
// La expresión se compila con expr-lang sin builtins. Antes se recorre el AST y
// solo se admiten números, rutas de campos, + - * / ^ **, paréntesis y un conjunto
// cerrado de funciones puras. No hay estado entre resultados ni ejecución de código.

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

const (
	maxExprLen   = 512
	maxExprDepth = 32
	maxExprNodes = 256
)

// Builtin es una estrategia de puntuación predefinida.
type Builtin string

const (
	BuiltinIdentity Builtin = "identity"
	BuiltinAbs      Builtin = "abs"
	BuiltinNegate   Builtin = "negate"
	BuiltinLog1p    Builtin = "log1p"
	BuiltinSqrt     Builtin = "sqrt"
)

// Formula es exactamente uno de Builtin o Expr.
type Formula struct {
	Builtin Builtin `json:"builtin,omitempty"`
	Expr    string  `json:"expr,omitempty"`
}

// Program es una fórmula compilada. Score es una función pura de los datos de un resultado.
type Program interface {
	Score(data map[string]any, metric string) (float64, bool)
}

// Compile valida la fórmula y devuelve su forma ejecutable.
func (f Formula) Compile() (Program, error) {
	switch {
	case f.Builtin != "" && f.Expr != "":
		return nil, errors.New("set either builtin or expr, not both")
	case f.Builtin != "":
		return compileBuiltin(f.Builtin)
	case strings.TrimSpace(f.Expr) != "":
		return compileExpr(f.Expr)
	default:
		return nil, errors.New("empty formula")
	}
}

type builtinProgram struct {
	fn func(float64) float64
}

func compileBuiltin(b Builtin) (Program, error) {
	var fn func(float64) float64
	switch b {
	case BuiltinIdentity:
		fn = func(x float64) float64 { return x }
	case BuiltinAbs:
		fn = math.Abs
	case BuiltinNegate:
		fn = func(x float64) float64 { return -x }
	case BuiltinLog1p:
		fn = math.Log1p
	case BuiltinSqrt:
		fn = math.Sqrt
	default:
		return nil, fmt.Errorf("unknown builtin %q", b)
	}
	return builtinProgram{fn: fn}, nil
}

func (p builtinProgram) Score(data map[string]any, metric string) (float64, bool) {
	v, ok := MetricValue(data, metric)
	if !ok {
		return 0, false
	}
	return finite(p.fn(v))
}

// --- expresiones ---

type exprFunc struct {
	minArgs, maxArgs int
	fn               func(args []float64) float64
}

var exprFuncs = map[string]exprFunc{
	"abs":   {1, 1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"sqrt":  {1, 1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"log":   {1, 1, func(a []float64) float64 { return math.Log(a[0]) }},
	"floor": {1, 1, func(a []float64) float64 { return math.Floor(a[0]) }},
	"ceil":  {1, 1, func(a []float64) float64 { return math.Ceil(a[0]) }},
	"round": {1, 1, func(a []float64) float64 { return math.Round(a[0]) }},
	"mod":   {2, 2, func(a []float64) float64 { return math.Mod(a[0], a[1]) }},
	"min": {1, 16, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Min(m, v)
		}
		return m
	}},
	"max": {1, 16, func(a []float64) float64 {
		m := a[0]
		for _, v := range a[1:] {
			m = math.Max(m, v)
		}
		return m
	}},
}

var exprOperators = map[string]bool{"+": true, "-": true, "*": true, "/": true, "^": true, "**": true}

// exprOptions: sin builtins de expr-lang, solo las funciones de exprFuncs.
var exprOptions = func() []expr.Option {
	opts := []expr.Option{expr.AllowUndefinedVariables(), expr.DisableAllBuiltins()}
	for name, f := range exprFuncs {
		opts = append(opts, expr.Function(name, wrapExprFunc(name, f)))
	}
	return opts
}()

func wrapExprFunc(name string, f exprFunc) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		args := make([]float64, len(params))
		for i, p := range params {
			v, ok := toFloat(p)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is not a number", name, i+1)
			}
			args[i] = v
		}
		return f.fn(args), nil
	}
}

type exprProgram struct{ prog *vm.Program }

// Score devuelve false si falta un campo, un operando no es numérico o el resultado no es finito.
func (p exprProgram) Score(data map[string]any, _ string) (float64, bool) {
	out, err := expr.Run(p.prog, data)
	if err != nil {
		return 0, false
	}
	return toFloat(out)
}

func finite(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func compileExpr(src string) (Program, error) {
	if len(src) > maxExprLen {
		return nil, fmt.Errorf("expression longer than %d characters", maxExprLen)
	}
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	nodes := 0
	if err := checkExprNode(tree.Node, 1, &nodes); err != nil {
		return nil, err
	}
	prog, err := expr.Compile(src, exprOptions...)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return exprProgram{prog: prog}, nil
}

// checkExprNode recorre el AST y rechaza todo lo que no sea aritmética sobre campos.
func checkExprNode(n ast.Node, depth int, nodes *int) error {
	*nodes++
	if depth > maxExprDepth {
		return fmt.Errorf("expression nested deeper than %d", maxExprDepth)
	}
	if *nodes > maxExprNodes {
		return fmt.Errorf("expression has more than %d nodes", maxExprNodes)
	}

	switch n := n.(type) {
	case *ast.IntegerNode, *ast.FloatNode, *ast.IdentifierNode:
		return nil
	case *ast.MemberNode:
		if _, ok := n.Property.(*ast.StringNode); !ok {
			return errors.New("field paths only accept names")
		}
		return checkExprNode(n.Node, depth+1, nodes)
	case *ast.UnaryNode:
		if n.Operator != "-" && n.Operator != "+" {
			return fmt.Errorf("operator %q is not allowed", n.Operator)
		}
		return checkExprNode(n.Node, depth+1, nodes)
	case *ast.BinaryNode:
		if !exprOperators[n.Operator] {
			return fmt.Errorf("operator %q is not allowed", n.Operator)
		}
		if err := checkExprNode(n.Left, depth+1, nodes); err != nil {
			return err
		}
		return checkExprNode(n.Right, depth+1, nodes)
	case *ast.CallNode:
		id, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return errors.New("only named functions can be called")
		}
		return checkExprCall(id.Value, n.Arguments, depth, nodes)
	case *ast.BuiltinNode:
		return checkExprCall(n.Name, n.Arguments, depth, nodes)
	default:
		return fmt.Errorf("%T is not allowed in a formula", n)
	}
}

func checkExprCall(name string, args []ast.Node, depth int, nodes *int) error {
	sig, ok := exprFuncs[name]
	if !ok {
		return fmt.Errorf("unknown function %q", name)
	}
	if len(args) < sig.minArgs || len(args) > sig.maxArgs {
		return fmt.Errorf("%s takes %d..%d arguments, got %d", name, sig.minArgs, sig.maxArgs, len(args))
	}
	for _, a := range args {
		if err := checkExprNode(a, depth+1, nodes); err != nil {
			return err
		}
	}
	return nil
}
