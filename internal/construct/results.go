// Package construct defines the building blocks of a runbook: command and
// signer specifications, their parsed instances, and the result types the
// evaluator threads between them.
package construct

import (
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/value"
)

// CommandExecutionResult is the outputs map a command produces. Order is
// preserved so downstream consumers see outputs the way the addon emitted
// them.
type CommandExecutionResult struct {
	Outputs *value.ObjectMap
}

func NewCommandExecutionResult() *CommandExecutionResult {
	return &CommandExecutionResult{Outputs: value.NewObjectMap()}
}

// SingleValueResult wraps a value under the conventional "value" key.
func SingleValueResult(v *value.Value) *CommandExecutionResult {
	res := NewCommandExecutionResult()
	res.Outputs.Set("value", v)
	return res
}

// Append merges other's outputs into the receiver in other's order.
func (r *CommandExecutionResult) Append(other *CommandExecutionResult) {
	other.Outputs.Range(func(k string, v *value.Value) bool {
		r.Outputs.Set(k, v)
		return true
	})
}

// CommandInputsEvaluationResult accumulates evaluated inputs plus the
// per-input reasons evaluation is still blocked. An input present in
// UnevaluatedInputs has not produced a value yet; a non-nil diagnostic
// explains why (nil means the dependency simply has not run).
type CommandInputsEvaluationResult struct {
	Inputs            *value.ValueStore
	UnevaluatedInputs map[string]*diag.Diagnostic
	// CheckPerformed flips when a ReviewInput response acknowledges the
	// input without changing its value.
	CheckPerformed map[string]bool
}

func NewCommandInputsEvaluationResult(name string, defaults *value.ObjectMap, spec *CommandSpecification) *CommandInputsEvaluationResult {
	res := &CommandInputsEvaluationResult{
		Inputs:            value.NewValueStore(name, "").WithDefaults(defaults),
		UnevaluatedInputs: make(map[string]*diag.Diagnostic),
		CheckPerformed:    make(map[string]bool),
	}
	if spec != nil {
		for _, input := range spec.Inputs {
			res.UnevaluatedInputs[input.Name] = nil
		}
	}
	return res
}

// Insert records an evaluated input and clears its unevaluated marker.
func (r *CommandInputsEvaluationResult) Insert(name string, v *value.Value) {
	r.Inputs.Insert(name, v)
	delete(r.UnevaluatedInputs, name)
}

// MarkUnevaluated records that name is still blocked, optionally with the
// diagnostic the UI shows to explain why.
func (r *CommandInputsEvaluationResult) MarkUnevaluated(name string, d *diag.Diagnostic) {
	r.UnevaluatedInputs[name] = d
}

func (r *CommandInputsEvaluationResult) IsUnevaluated(name string) bool {
	_, ok := r.UnevaluatedInputs[name]
	return ok
}

func (r *CommandInputsEvaluationResult) Clone() *CommandInputsEvaluationResult {
	out := &CommandInputsEvaluationResult{
		Inputs:            r.Inputs.Clone(),
		UnevaluatedInputs: make(map[string]*diag.Diagnostic, len(r.UnevaluatedInputs)),
		CheckPerformed:    make(map[string]bool, len(r.CheckPerformed)),
	}
	for k, v := range r.UnevaluatedInputs {
		out.UnevaluatedInputs[k] = v
	}
	for k, v := range r.CheckPerformed {
		out.CheckPerformed[k] = v
	}
	return out
}
