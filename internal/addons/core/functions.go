// Package core registers the unnamespaced runtime: the functions binary
// operators dispatch to, plus the builtin variable, output and module
// command specifications.
package core

import (
	"math/big"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/value"
)

type Addon struct{}

func New() *Addon { return &Addon{} }

func (a *Addon) Namespace() string { return "" }

func (a *Addon) TypeIDs() []string { return nil }

func (a *Addon) Signers() []*construct.SignerSpecification { return nil }

func (a *Addon) Functions() []addon.FunctionSpecification {
	return []addon.FunctionSpecification{
		{Name: "add", Documentation: "Adds two integers or floats.", Run: addFn},
		{Name: "minus", Documentation: "Subtracts the second operand from the first.", Run: minusFn},
		{Name: "multiply", Documentation: "Multiplies two integers or floats.", Run: multiplyFn},
		{Name: "div", Documentation: "Divides the first operand by the second.", Run: divFn},
		{Name: "modulo", Documentation: "Remainder of integer division.", Run: moduloFn},
		{Name: "eq", Documentation: "Structural equality.", Run: eqFn},
		{Name: "neq", Documentation: "Structural inequality.", Run: neqFn},
		{Name: "gt", Run: compareFn(func(c int) bool { return c > 0 })},
		{Name: "gte", Run: compareFn(func(c int) bool { return c >= 0 })},
		{Name: "lt", Run: compareFn(func(c int) bool { return c < 0 })},
		{Name: "lte", Run: compareFn(func(c int) bool { return c <= 0 })},
		{Name: "and_bool", Run: boolFn(func(a, b bool) bool { return a && b })},
		{Name: "or_bool", Run: boolFn(func(a, b bool) bool { return a || b })},
	}
}

func binaryArgs(args []*value.Value) (*value.Value, *value.Value, *diag.Diagnostic) {
	if len(args) != 2 {
		return nil, nil, diag.Errorf(diag.ClassEvaluation, "operator expects 2 arguments, got %d", len(args))
	}
	return args[0], args[1], nil
}

// checkedInteger enforces the 128-bit bound; overflow is a diagnostic,
// never a wrap.
func checkedInteger(i *big.Int, op string) (*value.Value, *diag.Diagnostic) {
	if i.Cmp(value.MaxInteger) > 0 || i.Cmp(value.MinInteger) < 0 {
		return nil, diag.Errorf(diag.ClassEvaluation, "integer overflow in %s", op)
	}
	return value.IntegerBig(i), nil
}

func addFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	if li, ok := lhs.AsInteger(); ok {
		ri, _ := rhs.AsInteger()
		return checkedInteger(new(big.Int).Add(li, ri), "add")
	}
	if lf, ok := lhs.AsFloat(); ok {
		rf, _ := rhs.AsFloat()
		return value.Float(lf + rf), nil
	}
	return nil, diag.Errorf(diag.ClassTyping, "operator + expects numbers, got %s", lhs.Kind())
}

func minusFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	if li, ok := lhs.AsInteger(); ok {
		ri, _ := rhs.AsInteger()
		return checkedInteger(new(big.Int).Sub(li, ri), "minus")
	}
	if lf, ok := lhs.AsFloat(); ok {
		rf, _ := rhs.AsFloat()
		return value.Float(lf - rf), nil
	}
	return nil, diag.Errorf(diag.ClassTyping, "operator - expects numbers, got %s", lhs.Kind())
}

func multiplyFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	if li, ok := lhs.AsInteger(); ok {
		ri, _ := rhs.AsInteger()
		return checkedInteger(new(big.Int).Mul(li, ri), "multiply")
	}
	if lf, ok := lhs.AsFloat(); ok {
		rf, _ := rhs.AsFloat()
		return value.Float(lf * rf), nil
	}
	return nil, diag.Errorf(diag.ClassTyping, "operator * expects numbers, got %s", lhs.Kind())
}

func divFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	if li, ok := lhs.AsInteger(); ok {
		ri, _ := rhs.AsInteger()
		if ri.Sign() == 0 {
			return nil, diag.Errorf(diag.ClassEvaluation, "division by zero")
		}
		return checkedInteger(new(big.Int).Quo(li, ri), "div")
	}
	if lf, ok := lhs.AsFloat(); ok {
		rf, _ := rhs.AsFloat()
		if rf == 0 {
			return nil, diag.Errorf(diag.ClassEvaluation, "division by zero")
		}
		return value.Float(lf / rf), nil
	}
	return nil, diag.Errorf(diag.ClassTyping, "operator / expects numbers, got %s", lhs.Kind())
}

func moduloFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	li, ok := lhs.AsInteger()
	if !ok {
		return nil, diag.Errorf(diag.ClassTyping, "operator %% expects integers, got %s", lhs.Kind())
	}
	ri, _ := rhs.AsInteger()
	if ri.Sign() == 0 {
		return nil, diag.Errorf(diag.ClassEvaluation, "modulo by zero")
	}
	return checkedInteger(new(big.Int).Rem(li, ri), "modulo")
}

func eqFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	return value.Bool(lhs.Equal(rhs)), nil
}

func neqFn(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	lhs, rhs, d := binaryArgs(args)
	if d != nil {
		return nil, d
	}
	return value.Bool(!lhs.Equal(rhs)), nil
}

func compareFn(accept func(int) bool) func([]*value.Value, *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	return func(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
		lhs, rhs, d := binaryArgs(args)
		if d != nil {
			return nil, d
		}
		if li, ok := lhs.AsInteger(); ok {
			ri, _ := rhs.AsInteger()
			return value.Bool(accept(li.Cmp(ri))), nil
		}
		if lf, ok := lhs.AsFloat(); ok {
			rf, _ := rhs.AsFloat()
			switch {
			case lf < rf:
				return value.Bool(accept(-1)), nil
			case lf > rf:
				return value.Bool(accept(1)), nil
			default:
				return value.Bool(accept(0)), nil
			}
		}
		if ls, ok := lhs.AsString(); ok {
			rs, _ := rhs.AsString()
			switch {
			case ls < rs:
				return value.Bool(accept(-1)), nil
			case ls > rs:
				return value.Bool(accept(1)), nil
			default:
				return value.Bool(accept(0)), nil
			}
		}
		return nil, diag.Errorf(diag.ClassTyping, "comparison expects numbers or strings, got %s", lhs.Kind())
	}
}

func boolFn(combine func(a, b bool) bool) func([]*value.Value, *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	return func(args []*value.Value, _ *addon.AuthorizationContext) (*value.Value, *diag.Diagnostic) {
		lhs, rhs, d := binaryArgs(args)
		if d != nil {
			return nil, d
		}
		lb, ok := lhs.AsBool()
		if !ok {
			return nil, diag.Errorf(diag.ClassTyping, "boolean operator expects bools, got %s", lhs.Kind())
		}
		rb, _ := rhs.AsBool()
		return value.Bool(combine(lb, rb)), nil
	}
}
