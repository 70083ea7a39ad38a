package expr

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDivisionByZero is returned for x/0 and x%0.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrUnresolvedName is returned when a dotted name has no value in the
	// context, including indicator fields absent during warmup.
	ErrUnresolvedName = errors.New("unresolved name")
	// ErrUnknownFunction is returned for calls outside the whitelist.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrBadArity is returned when a whitelisted function is called with
	// the wrong number of arguments.
	ErrBadArity = errors.New("wrong argument count")
)

// Evaluate parses (with AST caching) and evaluates an expression against the
// context. It is deterministic, pure and side-effect free; any failure
// returns a non-nil error and the caller decides whether that makes a rule
// false or an action a no-op.
func Evaluate(src string, ctx *Context) (float64, error) {
	root, err := parse(src)
	if err != nil {
		return 0, err
	}
	v, err := eval(root, ctx)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression %q produced a non-finite value", src)
	}
	return v, nil
}

// Validate parses an expression without evaluating it, for load-time
// playbook checks.
func Validate(src string) error {
	_, err := parse(src)
	return err
}

func eval(n node, ctx *Context) (float64, error) {
	switch v := n.(type) {
	case numberNode:
		return v.value, nil
	case nameNode:
		return resolveName(v.parts, ctx)
	case unaryNode:
		operand, err := eval(v.operand, ctx)
		if err != nil {
			return 0, err
		}
		if v.op == "-" {
			return -operand, nil
		}
		return operand, nil
	case binaryNode:
		return evalBinary(v, ctx)
	case compareNode:
		ok, err := evalCompare(v, ctx)
		if err != nil {
			return 0, err
		}
		if ok {
			return 1, nil
		}
		return 0, nil
	case callNode:
		return evalCall(v, ctx)
	}
	return 0, fmt.Errorf("unknown expression node %T", n)
}

func evalBinary(n binaryNode, ctx *Context) (float64, error) {
	left, err := eval(n.left, ctx)
	if err != nil {
		return 0, err
	}
	right, err := eval(n.right, ctx)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return left + right, nil
	case "-":
		return left - right, nil
	case "*":
		return left * right, nil
	case "/":
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return left / right, nil
	case "%":
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(left, right), nil
	case "**":
		return math.Pow(left, right), nil
	}
	return 0, fmt.Errorf("unknown operator %q", n.op)
}

func evalCompare(n compareNode, ctx *Context) (bool, error) {
	left, err := eval(n.left, ctx)
	if err != nil {
		return false, err
	}
	right, err := eval(n.right, ctx)
	if err != nil {
		return false, err
	}
	return Compare(left, n.op, right)
}

// Compare applies a comparison operator to two scalars.
func Compare(left float64, op string, right float64) (bool, error) {
	switch op {
	case "<":
		return left < right, nil
	case ">":
		return left > right, nil
	case "<=":
		return left <= right, nil
	case ">=":
		return left >= right, nil
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

func evalCall(n callNode, ctx *Context) (float64, error) {
	arity := func(want int) error {
		if len(n.args) != want {
			return fmt.Errorf("%w: %s takes %d argument(s), got %d", ErrBadArity, n.name, want, len(n.args))
		}
		return nil
	}
	argv := func() ([]float64, error) {
		out := make([]float64, len(n.args))
		for i, a := range n.args {
			v, err := eval(a, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	switch n.name {
	case "abs":
		if err := arity(1); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Abs(args[0]), nil
	case "min":
		if err := arity(2); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Min(args[0], args[1]), nil
	case "max":
		if err := arity(2); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Max(args[0], args[1]), nil
	case "round":
		if len(n.args) != 1 && len(n.args) != 2 {
			return 0, fmt.Errorf("%w: round takes 1 or 2 arguments, got %d", ErrBadArity, len(n.args))
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		digits := 0.0
		if len(args) == 2 {
			digits = args[1]
		}
		scale := math.Pow(10, math.Trunc(digits))
		return math.Round(args[0]*scale) / scale, nil
	case "sqrt":
		if err := arity(1); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Sqrt(args[0]), nil
	case "log":
		if err := arity(1); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Log(args[0]), nil
	case "clamp":
		if err := arity(3); err != nil {
			return 0, err
		}
		args, err := argv()
		if err != nil {
			return 0, err
		}
		return math.Min(math.Max(args[0], args[1]), args[2]), nil
	case "iff":
		if err := arity(3); err != nil {
			return 0, err
		}
		cond, ok := n.args[0].(compareNode)
		if !ok {
			return 0, fmt.Errorf("iff: first argument must be a single comparison")
		}
		pass, err := evalCompare(cond, ctx)
		if err != nil {
			return 0, err
		}
		if pass {
			return eval(n.args[1], ctx)
		}
		return eval(n.args[2], ctx)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFunction, n.name)
}

func resolveName(parts []string, ctx *Context) (float64, error) {
	root := parts[0]
	switch root {
	case "_price":
		if len(parts) != 1 {
			return 0, fmt.Errorf("%w: _price takes no sub-fields", ErrUnresolvedName)
		}
		return ctx.Price, nil
	case "ind", "prev":
		if len(parts) != 3 {
			return 0, fmt.Errorf("%w: %s names are %s.<id>.<field>", ErrUnresolvedName, root, root)
		}
		source := ctx.Indicators
		if root == "prev" {
			source = ctx.Previous
		}
		outputs, ok := source[parts[1]]
		if !ok {
			return 0, fmt.Errorf("%w: no indicator %q", ErrUnresolvedName, parts[1])
		}
		v, ok := outputs[parts[2]]
		if !ok {
			return 0, fmt.Errorf("%w: indicator %q has no field %q", ErrUnresolvedName, parts[1], parts[2])
		}
		return v, nil
	case "var":
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: var names are var.<name>", ErrUnresolvedName)
		}
		v, ok := ctx.Vars[parts[1]]
		if !ok {
			return 0, fmt.Errorf("%w: no variable %q", ErrUnresolvedName, parts[1])
		}
		return v, nil
	case "trade":
		if len(parts) != 2 || !tradeFields[parts[1]] {
			return 0, fmt.Errorf("%w: bad trade field %q", ErrUnresolvedName, dotted(parts))
		}
		if ctx.Trade == nil {
			return 0, fmt.Errorf("%w: no open trade", ErrUnresolvedName)
		}
		v, ok := ctx.Trade[parts[1]]
		if !ok {
			return 0, fmt.Errorf("%w: trade field %q not set", ErrUnresolvedName, parts[1])
		}
		return v, nil
	case "risk":
		if len(parts) != 2 || !riskFields[parts[1]] {
			return 0, fmt.Errorf("%w: bad risk field %q", ErrUnresolvedName, dotted(parts))
		}
		v, ok := ctx.Risk[parts[1]]
		if !ok {
			return 0, fmt.Errorf("%w: risk field %q not set", ErrUnresolvedName, parts[1])
		}
		return v, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnresolvedName, dotted(parts))
}

func dotted(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "." + p
	}
	return out
}
