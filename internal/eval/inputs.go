package eval

import (
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

// InputsStatus is the outcome of resolving a construct's declared inputs.
type InputsStatus int

const (
	// InputsComplete: every input evaluated; the lifecycle can proceed.
	InputsComplete InputsStatus = iota
	// InputsNeedsUserInteraction: at least one input is blocked on an
	// uncomputed dependency or a pending action item.
	InputsNeedsUserInteraction
	// InputsAborted: a fatal diagnostic was recorded against an input.
	InputsAborted
)

// inputEvaluator threads the shared bookkeeping of one inputs pass.
type inputEvaluator struct {
	ec                     *EvalContext
	results                *construct.CommandInputsEvaluationResult
	diags                  []*diag.Diagnostic
	fatalError             bool
	requireUserInteraction bool
}

// record classifies one expression outcome against an input name and
// reports whether a value was produced.
func (ie *inputEvaluator) record(inputName string, res ExpressionResult) (*value.Value, bool) {
	switch res.Status {
	case CompleteOk:
		return res.Value, true
	case CompleteErr:
		if res.Diag.IsError() {
			ie.fatalError = true
		}
		ie.results.MarkUnevaluated(inputName, res.Diag)
		ie.diags = append(ie.diags, res.Diag)
		return nil, false
	default:
		ie.requireUserInteraction = true
		ie.results.MarkUnevaluated(inputName, nil)
		return nil, false
	}
}

// PerformInputsEvaluation resolves each declared input of a command
// instance: scalars evaluate their attribute, object inputs merge declared
// properties unless set from a single expression, array inputs evaluate one
// expression, map inputs collect same-named blocks into an array of objects.
//
// In simulation mode (DAG checking) the inputs named signer/signers are
// skipped; they resolve only at signed-execution time. Before evaluation,
// ProvideInput responses overwrite matching inputs and ReviewInput responses
// flip the per-input check flag.
func PerformInputsEvaluation(
	ec *EvalContext,
	instance *construct.CommandInstance,
	prev *construct.CommandInputsEvaluationResult,
	defaults *value.ObjectMap,
	responses []frontend.ActionItemResponse,
	simulation bool,
) (InputsStatus, *construct.CommandInputsEvaluationResult, []*diag.Diagnostic) {
	var results *construct.CommandInputsEvaluationResult
	if prev != nil {
		results = prev.Clone()
	} else {
		results = construct.NewCommandInputsEvaluationResult(instance.Name, defaults, instance.Specification)
	}

	for _, response := range responses {
		switch payload := response.Payload.(type) {
		case *frontend.ProvideInputResponse:
			results.Insert(payload.InputName, payload.UpdatedValue)
		case *frontend.ReviewInputResponse:
			results.CheckPerformed[payload.InputName] = true
		}
	}

	ie := &inputEvaluator{ec: ec, results: results}

	for _, input := range instance.Specification.Inputs {
		if simulation {
			if input.Name == "signer" || input.Name == "signers" {
				results.MarkUnevaluated(input.Name, nil)
				continue
			}
		} else if !results.IsUnevaluated(input.Name) {
			continue
		}

		switch {
		case input.Typing.IsObject():
			ie.evalObjectInput(instance, input)
		case input.Typing.IsArray():
			ie.evalArrayInput(instance, input)
		case input.Typing.IsMap():
			ie.evalMapInput(instance, input)
		default:
			expr := instance.GetExpressionFromInput(input.Name)
			if expr == nil {
				continue
			}
			if v, produced := ie.record(input.Name, ec.Eval(expr)); produced {
				results.Insert(input.Name, v)
			}
		}
	}

	if instance.Specification.AcceptsArbitraryInputs {
		ie.evalArbitraryInputs(instance)
	}

	ie.diags = append(ie.diags, ec.Warnings...)
	ec.Warnings = nil

	if ie.fatalError {
		return InputsAborted, results, ie.diags
	}
	if ie.requireUserInteraction {
		return InputsNeedsUserInteraction, results, ie.diags
	}
	return InputsComplete, results, ie.diags
}

// evalObjectInput evaluates an object-typed input. A single expression (a
// traversal, function call or object literal) covers the whole input;
// otherwise the declared properties are collected from a nested block and
// merged in declaration order.
func (ie *inputEvaluator) evalObjectInput(instance *construct.CommandInstance, input construct.CommandInput) {
	if expr := instance.GetExpressionFromInput(input.Name); expr != nil {
		if v, produced := ie.record(input.Name, ie.ec.Eval(expr)); produced {
			ie.results.Insert(input.Name, v)
		}
		return
	}

	merged := value.NewObjectMap()
	for _, prop := range input.Typing.Fields {
		expr := instance.GetExpressionFromObjectProperty(input.Name, prop.Name)
		if expr == nil {
			continue
		}
		v, produced := ie.record(input.Name, ie.ec.Eval(expr))
		if !produced {
			continue
		}
		if obj, isObject := v.AsObject(); isObject {
			obj.Range(func(k string, item *value.Value) bool {
				merged.Set(k, item)
				return true
			})
		} else {
			merged.Set(prop.Name, v)
		}
	}
	if merged.Len() > 0 {
		ie.results.Insert(input.Name, value.Object(merged))
	}
}

func (ie *inputEvaluator) evalArrayInput(instance *construct.CommandInstance, input construct.CommandInput) {
	expr := instance.GetExpressionFromInput(input.Name)
	if expr == nil {
		return
	}
	v, produced := ie.record(input.Name, ie.ec.Eval(expr))
	if !produced {
		return
	}
	ie.results.Insert(input.Name, v)
}

// evalMapInput collects every block sharing the input's name and produces
// an array of objects in source order.
func (ie *inputEvaluator) evalMapInput(instance *construct.CommandInstance, input construct.CommandInput) {
	blocks := instance.GetBlocksForMap(input.Name)
	if len(blocks) == 0 {
		return
	}
	var entries []*value.Value
	for _, block := range blocks {
		entry := value.NewObjectMap()
		for _, prop := range input.Typing.Fields {
			attr, declared := block.Body.Attributes[prop.Name]
			if !declared {
				continue
			}
			v, produced := ie.record(input.Name, ie.ec.Eval(attr.Expr))
			if !produced {
				continue
			}
			if obj, isObject := v.AsObject(); isObject {
				obj.Range(func(k string, item *value.Value) bool {
					entry.Set(k, item)
					return true
				})
			} else {
				entry.Set(prop.Name, v)
			}
		}
		entries = append(entries, value.Object(entry))
	}
	ie.results.Insert(input.Name, value.Array(entries))
}

// evalArbitraryInputs evaluates body attributes outside the declared set
// for specs that accept them.
func (ie *inputEvaluator) evalArbitraryInputs(instance *construct.CommandInstance) {
	if instance.Block == nil {
		return
	}
	declared := make(map[string]bool, len(instance.Specification.Inputs))
	for _, input := range instance.Specification.Inputs {
		declared[input.Name] = true
	}
	for name, attr := range instance.Block.Body.Attributes {
		if declared[name] {
			continue
		}
		if !ie.results.IsUnevaluated(name) && ie.results.Inputs.Has(name) {
			continue
		}
		if v, produced := ie.record(name, ie.ec.Eval(attr.Expr)); produced {
			ie.results.Insert(name, v)
		}
	}
}

// PerformSignerInputsEvaluation is the signer-side variant: no action item
// responses, no simulation mode.
func PerformSignerInputsEvaluation(
	ec *EvalContext,
	instance *construct.SignerInstance,
	prev *construct.CommandInputsEvaluationResult,
	defaults *value.ObjectMap,
) (InputsStatus, *construct.CommandInputsEvaluationResult, []*diag.Diagnostic) {
	var results *construct.CommandInputsEvaluationResult
	if prev != nil {
		results = prev.Clone()
	} else {
		results = &construct.CommandInputsEvaluationResult{
			Inputs:            value.NewValueStore(instance.Name, "").WithDefaults(defaults),
			UnevaluatedInputs: make(map[string]*diag.Diagnostic),
			CheckPerformed:    make(map[string]bool),
		}
		for _, input := range instance.Specification.Inputs {
			results.UnevaluatedInputs[input.Name] = nil
		}
	}

	ie := &inputEvaluator{ec: ec, results: results}

	for _, input := range instance.Specification.Inputs {
		if !results.IsUnevaluated(input.Name) {
			continue
		}
		expr := instance.GetExpressionFromInput(input.Name)
		if expr == nil {
			continue
		}
		if v, produced := ie.record(input.Name, ec.Eval(expr)); produced {
			results.Insert(input.Name, v)
		}
	}

	ie.diags = append(ie.diags, ec.Warnings...)
	ec.Warnings = nil

	if ie.fatalError {
		return InputsAborted, results, ie.diags
	}
	if ie.requireUserInteraction {
		return InputsNeedsUserInteraction, results, ie.diags
	}
	return InputsComplete, results, ie.diags
}
