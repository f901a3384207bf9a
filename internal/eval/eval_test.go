package eval

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/addons/core"
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/value"
)

func loadTestRunbook(t *testing.T, src string, inputs map[string]*value.Value) (*runbook.WorkspaceContext, *runbook.ExecutionContext, *runbook.RuntimeContext) {
	t.Helper()
	registry := addon.NewRegistry()
	require.NoError(t, registry.Register(core.New()))
	rt := &runbook.RuntimeContext{
		Registry:      registry,
		Authorization: &addon.AuthorizationContext{WorkspaceRoot: t.TempDir()},
		NetworkID:     "devnet",
	}
	ws, execCtx, d := runbook.Load("test", []runbook.Source{
		{Filename: "main.tx", Content: []byte(src)},
	}, inputs, rt)
	require.Nil(t, d, "load failed: %v", d)
	return ws, execCtx, rt
}

func runSinglePass(t *testing.T, ws *runbook.WorkspaceContext, execCtx *runbook.ExecutionContext, rt *runbook.RuntimeContext) *EvaluationPassResult {
	t.Helper()
	progress := make(chan frontend.BlockEvent, 1024)
	return RunConstructsEvaluation(
		context.Background(), uuid.New(), ws, execCtx, rt,
		&construct.SupervisionContext{},
		map[did.ConstructDid][]*frontend.ActionItemRequest{},
		map[did.ConstructDid][]frontend.ActionItemResponse{},
		progress)
}

func outputValue(t *testing.T, ws *runbook.WorkspaceContext, execCtx *runbook.ExecutionContext, kind runbook.ConstructKind, name string) *value.Value {
	t.Helper()
	for constructDid, loc := range ws.Constructs {
		if loc.Kind == kind && loc.Name == name {
			result, ok := execCtx.CommandsExecutionResults[constructDid]
			if !ok {
				return nil
			}
			v, _ := result.Outputs.Get("value")
			return v
		}
	}
	t.Fatalf("construct %s.%s not found", kind, name)
	return nil
}

func TestVariableChain(t *testing.T) {
	src := `
variable "a" {
  value = 2
}

variable "b" {
  value = variable.a + 3
}

output "o" {
  value = variable.b * 2
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	assert.Empty(t, pass.Diagnostics)
	assert.False(t, pass.Actions.HasPendingActions())

	o := outputValue(t, ws, execCtx, runbook.KindOutput, "o")
	require.NotNil(t, o)
	i, ok := o.AsInt64()
	require.True(t, ok)
	assert.Equal(t, int64(10), i)
}

func TestBareNameReferences(t *testing.T) {
	src := `
variable "a" {
  value = 2
}

variable "b" {
  value = a + 3
}

output "o" {
  value = b * 2
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	runSinglePass(t, ws, execCtx, rt)

	o := outputValue(t, ws, execCtx, runbook.KindOutput, "o")
	require.NotNil(t, o)
	i, _ := o.AsInt64()
	assert.Equal(t, int64(10), i)
}

func TestCircularDependencyFailsLoad(t *testing.T) {
	src := `
variable "a" {
  value = variable.b
}

variable "b" {
  value = variable.a
}
`
	registry := addon.NewRegistry()
	require.NoError(t, registry.Register(core.New()))
	rt := &runbook.RuntimeContext{Registry: registry, Authorization: &addon.AuthorizationContext{}}

	_, _, d := runbook.Load("test", []runbook.Source{
		{Filename: "main.tx", Content: []byte(src)},
	}, nil, rt)
	require.NotNil(t, d)
	assert.Equal(t, diag.ClassCircular, d.Class)
	assert.Contains(t, d.Message, "variable.a")
	assert.Contains(t, d.Message, "variable.b")
}

func TestObjectTraversal(t *testing.T) {
	src := `
variable "c" {
  value = { port = 8080 }
}

output "p" {
  value = variable.c.port
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)
	assert.Empty(t, pass.Diagnostics)

	p := outputValue(t, ws, execCtx, runbook.KindOutput, "p")
	require.NotNil(t, p)
	i, _ := p.AsInt64()
	assert.Equal(t, int64(8080), i)
}

func TestTraversalValueFallback(t *testing.T) {
	// c.nested is absent from the outputs map but c.value.nested exists; the
	// evaluator unwraps the single-value convention
	src := `
variable "c" {
  value = { nested = { deep = "ok" } }
}

output "p" {
  value = variable.c.nested.deep
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	runSinglePass(t, ws, execCtx, rt)

	p := outputValue(t, ws, execCtx, runbook.KindOutput, "p")
	require.NotNil(t, p)
	s, _ := p.AsString()
	assert.Equal(t, "ok", s)
}

func TestInvalidFieldAccess(t *testing.T) {
	src := `
variable "c" {
  value = { port = 8080 }
}

output "p" {
  value = variable.c.missing
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	require.NotEmpty(t, pass.Diagnostics)
	found := false
	for _, d := range pass.Diagnostics {
		if strings.Contains(d.Message, "invalid_field_access") {
			found = true
		}
	}
	assert.True(t, found, "expected invalid_field_access diagnostic, got %v", pass.Diagnostics)
}

func TestIntegerOverflowIsDiagnosticNotWrap(t *testing.T) {
	src := `
variable "max" {
  value = 170141183460469231731687303715884105727
}

variable "overflow" {
  value = variable.max + 1
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	require.NotEmpty(t, pass.Diagnostics)
	var overflow *diag.Diagnostic
	for _, d := range pass.Diagnostics {
		if strings.Contains(d.Message, "overflow") {
			overflow = d
		}
	}
	require.NotNil(t, overflow)
	assert.Equal(t, diag.ClassEvaluation, overflow.Class)

	assert.Nil(t, outputValue(t, ws, execCtx, runbook.KindVariable, "overflow"))
}

func TestDuplicateObjectKeyWarnsLastWriteWins(t *testing.T) {
	src := `
variable "c" {
  value = { port = 1, port = 2 }
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	warned := false
	for _, d := range pass.Diagnostics {
		if d.Severity == diag.SeverityWarning && strings.Contains(d.Message, "duplicate object key") {
			warned = true
		}
	}
	assert.True(t, warned, "expected duplicate key warning, got %v", pass.Diagnostics)

	c := outputValue(t, ws, execCtx, runbook.KindVariable, "c")
	require.NotNil(t, c)
	port, ok := c.GetKeyFromObject("port")
	require.True(t, ok)
	i, _ := port.AsInt64()
	assert.Equal(t, int64(2), i)
}

func TestMissingInputAbortsAndTaintsDownstream(t *testing.T) {
	src := `
variable "api" {
  value = input.API_KEY
}

output "o" {
  value = variable.api
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	var undefined *diag.Diagnostic
	for _, d := range pass.Diagnostics {
		if strings.Contains(d.Message, "undefined_input") {
			undefined = d
		}
	}
	require.NotNil(t, undefined, "expected undefined_input diagnostic, got %v", pass.Diagnostics)
	assert.Equal(t, diag.ClassReference, undefined.Class)

	// the tainted output must be absent from the result cache
	assert.Nil(t, outputValue(t, ws, execCtx, runbook.KindOutput, "o"))
	assert.Nil(t, outputValue(t, ws, execCtx, runbook.KindVariable, "api"))
}

func TestTopLevelInputResolves(t *testing.T) {
	src := `
variable "api" {
  value = input.API_KEY
}
`
	inputs := map[string]*value.Value{"API_KEY": value.String("sk-123")}
	ws, execCtx, rt := loadTestRunbook(t, src, inputs)
	pass := runSinglePass(t, ws, execCtx, rt)
	assert.Empty(t, pass.Diagnostics)

	api := outputValue(t, ws, execCtx, runbook.KindVariable, "api")
	require.NotNil(t, api)
	s, _ := api.AsString()
	assert.Equal(t, "sk-123", s)
}

func TestStringTemplateInterpolation(t *testing.T) {
	src := `
variable "name" {
  value = "world"
}

output "greeting" {
  value = "hello ${variable.name}"
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	runSinglePass(t, ws, execCtx, rt)

	greeting := outputValue(t, ws, execCtx, runbook.KindOutput, "greeting")
	require.NotNil(t, greeting)
	s, _ := greeting.AsString()
	assert.Equal(t, "hello world", s)
}

func TestConditionalAndComparison(t *testing.T) {
	src := `
variable "amount" {
  value = 1500
}

output "tier" {
  value = variable.amount >= 1000 ? "high" : "low"
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)
	assert.Empty(t, pass.Diagnostics)

	tier := outputValue(t, ws, execCtx, runbook.KindOutput, "tier")
	require.NotNil(t, tier)
	s, _ := tier.AsString()
	assert.Equal(t, "high", s)
}

func TestMixedOperandTypesFail(t *testing.T) {
	src := `
variable "bad" {
  value = "a" + 1
}
`
	ws, execCtx, rt := loadTestRunbook(t, src, nil)
	pass := runSinglePass(t, ws, execCtx, rt)

	require.NotEmpty(t, pass.Diagnostics)
	var mismatch *diag.Diagnostic
	for _, d := range pass.Diagnostics {
		if d.Class == diag.ClassTyping {
			mismatch = d
		}
	}
	require.NotNil(t, mismatch)
	assert.Nil(t, outputValue(t, ws, execCtx, runbook.KindVariable, "bad"))
}

func TestReorderingIndependentConstructsYieldsIdenticalOutputs(t *testing.T) {
	forward := `
variable "x" { value = 1 }
variable "y" { value = 2 }
output "sum" { value = variable.x + variable.y }
`
	reversed := `
variable "y" { value = 2 }
variable "x" { value = 1 }
output "sum" { value = variable.x + variable.y }
`
	wsA, ctxA, rtA := loadTestRunbook(t, forward, nil)
	runSinglePass(t, wsA, ctxA, rtA)
	wsB, ctxB, rtB := loadTestRunbook(t, reversed, nil)
	runSinglePass(t, wsB, ctxB, rtB)

	a := outputValue(t, wsA, ctxA, runbook.KindOutput, "sum")
	b := outputValue(t, wsB, ctxB, runbook.KindOutput, "sum")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.True(t, a.Equal(b))
}
