package core

import (
	"context"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

func (a *Addon) Commands() []*construct.CommandSpecification {
	return []*construct.CommandSpecification{
		variableSpec(),
		outputSpec(),
		moduleSpec(),
	}
}

// variableSpec evaluates its value input and republishes it under the
// conventional "value" output. In supervised runs an editable variable
// surfaces a review item before first execution.
func variableSpec() *construct.CommandSpecification {
	return &construct.CommandSpecification{
		Name:    "Variable",
		Matcher: "variable",
		Inputs: []construct.CommandInput{
			{Name: "value", Typing: value.AnyType(), Tainting: true},
			{Name: "description", Typing: value.StringType(), Optional: true},
			{Name: "editable", Typing: value.BoolType(), Optional: true},
		},
		Outputs: []construct.CommandOutput{
			{Name: "value", Typing: value.AnyType()},
		},
		Runner: construct.CommandRunner{
			CheckExecutability: checkReviewable("value"),
			PerformExecution:   passThrough("value"),
		},
	}
}

func outputSpec() *construct.CommandSpecification {
	return &construct.CommandSpecification{
		Name:    "Output",
		Matcher: "output",
		Inputs: []construct.CommandInput{
			{Name: "value", Typing: value.AnyType(), Tainting: true},
			{Name: "description", Typing: value.StringType(), Optional: true},
		},
		Outputs: []construct.CommandOutput{
			{Name: "value", Typing: value.AnyType()},
		},
		Runner: construct.CommandRunner{
			PerformExecution: passThrough("value"),
		},
	}
}

// moduleSpec republishes arbitrary attributes as an output object.
func moduleSpec() *construct.CommandSpecification {
	return &construct.CommandSpecification{
		Name:                   "Module",
		Matcher:                "module",
		AcceptsArbitraryInputs: true,
		Runner: construct.CommandRunner{
			PerformExecution: func(_ context.Context, _ did.ConstructDid, _ *construct.CommandSpecification, values *value.ValueStore, _ *frontend.StatusUpdater) (*construct.CommandExecutionResult, *diag.Diagnostic) {
				result := construct.NewCommandExecutionResult()
				obj := value.NewObjectMap()
				values.Range(func(k string, v *value.Value) bool {
					obj.Set(k, v)
					return true
				})
				result.Outputs.Set("value", value.Object(obj))
				return result, nil
			},
		},
	}
}

func passThrough(input string) func(context.Context, did.ConstructDid, *construct.CommandSpecification, *value.ValueStore, *frontend.StatusUpdater) (*construct.CommandExecutionResult, *diag.Diagnostic) {
	return func(_ context.Context, _ did.ConstructDid, _ *construct.CommandSpecification, values *value.ValueStore, _ *frontend.StatusUpdater) (*construct.CommandExecutionResult, *diag.Diagnostic) {
		result := construct.NewCommandExecutionResult()
		v, ok := values.Get(input)
		if !ok {
			v = value.Null()
		}
		result.Outputs.Set("value", v)
		return result, nil
	}
}

// checkReviewable surfaces a review item for the named input when the run
// is supervised and the block opted in via editable = true. Unsupervised
// runs never block on review.
func checkReviewable(input string) func(did.ConstructDid, string, *construct.CommandSpecification, *value.ValueStore, *construct.SupervisionContext, []frontend.ActionItemResponse) (*frontend.Actions, *diag.Diagnostic) {
	return func(constructDid did.ConstructDid, instanceName string, _ *construct.CommandSpecification, values *value.ValueStore, supervision *construct.SupervisionContext, responses []frontend.ActionItemResponse) (*frontend.Actions, *diag.Diagnostic) {
		if supervision == nil || !supervision.IsSupervised {
			return frontend.NoActions(), nil
		}
		editable, _ := values.GetBool("editable")
		if !editable {
			return frontend.NoActions(), nil
		}
		for _, response := range responses {
			if payload, ok := response.Payload.(*frontend.ReviewInputResponse); ok && payload.InputName == input {
				return frontend.NoActions(), nil
			}
		}
		v, ok := values.Get(input)
		if !ok {
			v = value.Null()
		}
		item := frontend.NewActionItemRequest(
			constructDid,
			instanceName,
			"",
			frontend.StatusTodoV(),
			&frontend.ReviewInputRequest{InputName: input, Value: v},
			"check_"+input,
		)
		return frontend.SubGroupOfItems("", item), nil
	}
}
