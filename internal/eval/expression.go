// Package eval walks the runbook DAG: it evaluates expressions against the
// dependency result cache, resolves command inputs, and drives the two-phase
// lifecycle of signers and commands one pass at a time.
package eval

import (
	"math/big"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/value"
)

// hclExpression aliases the parser's expression node interface.
type hclExpression = hclsyntax.Expression

// ExpressionStatus is the three-way outcome of evaluating one expression.
type ExpressionStatus int

const (
	// CompleteOk carries an evaluated value.
	CompleteOk ExpressionStatus = iota
	// CompleteErr carries a diagnostic.
	CompleteErr
	// DependencyNotComputed is a scheduling signal, not an error: a
	// traversal target has not produced results yet.
	DependencyNotComputed
)

type ExpressionResult struct {
	Status ExpressionStatus
	Value  *value.Value
	Diag   *diag.Diagnostic
}

func ok(v *value.Value) ExpressionResult {
	return ExpressionResult{Status: CompleteOk, Value: v}
}

func errResult(d *diag.Diagnostic) ExpressionResult {
	return ExpressionResult{Status: CompleteErr, Diag: d}
}

func notComputed() ExpressionResult {
	return ExpressionResult{Status: DependencyNotComputed}
}

// DependencyResult is one cached upstream outcome.
type DependencyResult struct {
	Result *construct.CommandExecutionResult
	Diag   *diag.Diagnostic
}

// EvalContext bundles the read-only surroundings of an evaluation: the
// dependency cache for this construct, the symbol table, the shared result
// cache and the runtime function table. Warnings accumulate across calls.
type EvalContext struct {
	Deps      map[did.ConstructDid]*DependencyResult
	Package   *runbook.Package
	Workspace *runbook.WorkspaceContext
	Execution *runbook.ExecutionContext
	Runtime   *runbook.RuntimeContext
	Warnings  []*diag.Diagnostic
}

var binaryOpFunctions = map[*hclsyntax.Operation]string{
	hclsyntax.OpLogicalAnd:         "and_bool",
	hclsyntax.OpDivide:             "div",
	hclsyntax.OpEqual:              "eq",
	hclsyntax.OpGreaterThan:        "gt",
	hclsyntax.OpGreaterThanOrEqual: "gte",
	hclsyntax.OpLessThan:           "lt",
	hclsyntax.OpLessThanOrEqual:    "lte",
	hclsyntax.OpSubtract:           "minus",
	hclsyntax.OpModulo:             "modulo",
	hclsyntax.OpMultiply:           "multiply",
	hclsyntax.OpAdd:                "add",
	hclsyntax.OpNotEqual:           "neq",
	hclsyntax.OpLogicalOr:          "or_bool",
}

// Eval evaluates an expression. It is pure with respect to the caches it
// reads; the only side effect is warning accumulation on the context.
func (ec *EvalContext) Eval(expr hclsyntax.Expression) ExpressionResult {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		v, d := literalValue(e.Val)
		if d != nil {
			return errResult(d)
		}
		return ok(v)

	case *hclsyntax.TemplateExpr:
		return ec.evalTemplate(e)

	case *hclsyntax.TemplateWrapExpr:
		return ec.Eval(e.Wrapped)

	case *hclsyntax.ParenthesesExpr:
		return ec.Eval(e.Expression)

	case *hclsyntax.TupleConsExpr:
		items := make([]*value.Value, 0, len(e.Exprs))
		for _, itemExpr := range e.Exprs {
			res := ec.Eval(itemExpr)
			if res.Status != CompleteOk {
				return res
			}
			items = append(items, res.Value)
		}
		return ok(value.Array(items))

	case *hclsyntax.ObjectConsExpr:
		return ec.evalObject(e)

	case *hclsyntax.ScopeTraversalExpr:
		return ec.evalTraversal(e.Traversal)

	case *hclsyntax.RelativeTraversalExpr:
		source := ec.Eval(e.Source)
		if source.Status != CompleteOk {
			return source
		}
		return walkValue(source.Value, traversalComponents(e.Traversal))

	case *hclsyntax.FunctionCallExpr:
		return ec.evalFunctionCall(e)

	case *hclsyntax.ConditionalExpr:
		cond := ec.Eval(e.Condition)
		if cond.Status != CompleteOk {
			return cond
		}
		b, isBool := cond.Value.AsBool()
		if !isBool {
			return errResult(diag.Errorf(diag.ClassTyping, "conditional predicate is %s, expected bool", cond.Value.Kind()))
		}
		if b {
			return ec.Eval(e.TrueResult)
		}
		return ec.Eval(e.FalseResult)

	case *hclsyntax.UnaryOpExpr:
		return ec.evalUnaryOp(e)

	case *hclsyntax.BinaryOpExpr:
		return ec.evalBinaryOp(e)

	case *hclsyntax.ForExpr:
		return errResult(diag.Errorf(diag.ClassEvaluation, "for expressions are not supported in runbooks"))

	default:
		return errResult(diag.Errorf(diag.ClassEvaluation, "unsupported expression at %s", expr.Range().String()))
	}
}

func literalValue(v cty.Value) (*value.Value, *diag.Diagnostic) {
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Type() {
	case cty.Bool:
		return value.Bool(v.True()), nil
	case cty.String:
		return value.String(v.AsString()), nil
	case cty.Number:
		f := v.AsBigFloat()
		if f.IsInt() {
			i, _ := f.Int(nil)
			if i.Cmp(value.MaxInteger) > 0 || i.Cmp(value.MinInteger) < 0 {
				return nil, diag.Errorf(diag.ClassEvaluation, "integer literal %s exceeds 128-bit bounds", i)
			}
			return value.IntegerBig(i), nil
		}
		out, _ := f.Float64()
		return value.Float(out), nil
	}
	return nil, diag.Errorf(diag.ClassEvaluation, "unsupported literal of type %s", v.Type().FriendlyName())
}

func (ec *EvalContext) evalTemplate(e *hclsyntax.TemplateExpr) ExpressionResult {
	// single-part quoted strings evaluate to the part itself
	if len(e.Parts) == 1 {
		if lit, isLit := e.Parts[0].(*hclsyntax.LiteralValueExpr); isLit {
			v, d := literalValue(lit.Val)
			if d != nil {
				return errResult(d)
			}
			return ok(v)
		}
	}
	var b strings.Builder
	for _, part := range e.Parts {
		res := ec.Eval(part)
		if res.Status != CompleteOk {
			return res
		}
		b.WriteString(res.Value.String())
	}
	return ok(value.String(b.String()))
}

func (ec *EvalContext) evalObject(e *hclsyntax.ObjectConsExpr) ExpressionResult {
	obj := value.NewObjectMap()
	for _, item := range e.Items {
		key, res := ec.evalObjectKey(item.KeyExpr)
		if res != nil {
			return *res
		}
		if obj.Has(key) {
			ec.Warnings = append(ec.Warnings, diag.Warningf(diag.ClassEvaluation, "duplicate object key %q: last write wins", key))
		}
		valRes := ec.Eval(item.ValueExpr)
		if valRes.Status != CompleteOk {
			return valRes
		}
		obj.Set(key, valRes.Value)
	}
	return ok(value.Object(obj))
}

func (ec *EvalContext) evalObjectKey(keyExpr hclsyntax.Expression) (string, *ExpressionResult) {
	if wrapped, isKey := keyExpr.(*hclsyntax.ObjectConsKeyExpr); isKey {
		if keyword := hcl.ExprAsKeyword(wrapped.Wrapped); keyword != "" {
			return keyword, nil
		}
		keyExpr = wrapped.Wrapped
	}
	res := ec.Eval(keyExpr)
	if res.Status != CompleteOk {
		return "", &res
	}
	key, isString := res.Value.AsString()
	if !isString {
		failure := errResult(diag.Errorf(diag.ClassTyping, "object key must evaluate to a string, got %s", res.Value.Kind()))
		return "", &failure
	}
	return key, nil
}

// evalTraversal resolves a construct reference in two steps: the workspace
// maps the head to a DID, then the remainder indexes the cached result. A
// missing first component retries against the conventional "value" output
// with the component pushed back onto the remainder.
func (ec *EvalContext) evalTraversal(traversal hcl.Traversal) ExpressionResult {
	dependency, components, found := ec.Workspace.ResolveTraversal(ec.Package, traversal)
	if !found {
		return errResult(undefinedReference(traversal))
	}

	if v, isInput := ec.Workspace.TopLevelInputs[dependency]; isInput {
		return walkValue(v, components)
	}

	var result *construct.CommandExecutionResult
	if dep, cached := ec.Deps[dependency]; cached {
		if dep.Diag != nil {
			return errResult(dep.Diag)
		}
		result = dep.Result
	} else if res, computed := ec.Execution.CommandsExecutionResults[dependency]; computed {
		result = res
	} else {
		return notComputed()
	}

	if len(components) == 0 {
		if v, hasValue := result.Outputs.Get("value"); hasValue {
			return ok(v)
		}
		return notComputed()
	}

	first := components[0]
	if v, hasFirst := result.Outputs.Get(first); hasFirst {
		return walkValue(v, components[1:])
	}
	if v, hasValue := result.Outputs.Get("value"); hasValue {
		return walkValue(v, components)
	}
	return notComputed()
}

func walkValue(v *value.Value, components []string) ExpressionResult {
	if len(components) == 0 {
		return ok(v)
	}
	out, err := v.GetKeysFromObject(components)
	if err != nil {
		return errResult(diag.Errorf(diag.ClassReference, "invalid_field_access: %v", err))
	}
	return ok(out)
}

func undefinedReference(traversal hcl.Traversal) *diag.Diagnostic {
	parts := traversalComponents(traversal)
	rendered := strings.Join(parts, ".")
	if len(parts) > 0 {
		switch parts[0] {
		case "input":
			return diag.Errorf(diag.ClassReference, "undefined_input: %s is not defined", rendered)
		case "signer":
			return diag.Errorf(diag.ClassReference, "undefined_signer: %s is not defined", rendered)
		case "action":
			return diag.Errorf(diag.ClassReference, "undefined_action: %s is not defined", rendered)
		}
	}
	return diag.Errorf(diag.ClassReference, "unable to resolve expression %q", rendered)
}

func traversalComponents(traversal hcl.Traversal) []string {
	var out []string
	for _, step := range traversal {
		switch t := step.(type) {
		case hcl.TraverseRoot:
			out = append(out, t.Name)
		case hcl.TraverseAttr:
			out = append(out, t.Name)
		case hcl.TraverseIndex:
			if t.Key.Type() == cty.String {
				out = append(out, t.Key.AsString())
			} else if t.Key.Type() == cty.Number {
				i, _ := t.Key.AsBigFloat().Int(nil)
				out = append(out, i.String())
			}
		}
	}
	return out
}

func (ec *EvalContext) evalFunctionCall(e *hclsyntax.FunctionCallExpr) ExpressionResult {
	args := make([]*value.Value, 0, len(e.Args))
	for _, argExpr := range e.Args {
		res := ec.Eval(argExpr)
		if res.Status != CompleteOk {
			return res
		}
		args = append(args, res.Value)
	}
	namespace, name := splitFunctionName(e.Name)
	out, d := ec.Runtime.ExecuteFunction(namespace, name, args)
	if d != nil {
		return errResult(d)
	}
	return ok(out)
}

func splitFunctionName(full string) (namespace, name string) {
	if idx := strings.LastIndex(full, "::"); idx >= 0 {
		return full[:idx], full[idx+2:]
	}
	return "", full
}

func (ec *EvalContext) evalUnaryOp(e *hclsyntax.UnaryOpExpr) ExpressionResult {
	operand := ec.Eval(e.Val)
	if operand.Status != CompleteOk {
		return operand
	}
	switch e.Op {
	case hclsyntax.OpLogicalNot:
		b, isBool := operand.Value.AsBool()
		if !isBool {
			return errResult(diag.Errorf(diag.ClassTyping, "operator ! expects bool, got %s", operand.Value.Kind()))
		}
		return ok(value.Bool(!b))
	case hclsyntax.OpNegate:
		if i, isInt := operand.Value.AsInteger(); isInt {
			return ok(value.IntegerBig(new(big.Int).Neg(i)))
		}
		if f, isFloat := operand.Value.AsFloat(); isFloat {
			return ok(value.Float(-f))
		}
		return errResult(diag.Errorf(diag.ClassTyping, "operator - expects a number, got %s", operand.Value.Kind()))
	}
	return errResult(diag.Errorf(diag.ClassEvaluation, "unsupported unary operator"))
}

// evalBinaryOp dispatches to the named runtime function after requiring
// type-equal operands.
func (ec *EvalContext) evalBinaryOp(e *hclsyntax.BinaryOpExpr) ExpressionResult {
	lhs := ec.Eval(e.LHS)
	if lhs.Status != CompleteOk {
		return lhs
	}
	rhs := ec.Eval(e.RHS)
	if rhs.Status != CompleteOk {
		return rhs
	}
	if !lhs.Value.TypeEq(rhs.Value) {
		return errResult(diag.Errorf(diag.ClassTyping,
			"mismatched operand types: %s and %s", lhs.Value.Kind(), rhs.Value.Kind()))
	}
	fn, known := binaryOpFunctions[e.Op]
	if !known {
		return errResult(diag.Errorf(diag.ClassEvaluation, "unsupported binary operator"))
	}
	out, d := ec.Runtime.ExecuteFunction("", fn, []*value.Value{lhs.Value, rhs.Value})
	if d != nil {
		return errResult(d)
	}
	return ok(out)
}
