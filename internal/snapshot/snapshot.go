// Package snapshot captures the evaluated inputs and outputs of a run and
// diffs two captures to decide which constructs must re-execute on replay.
package snapshot

import (
	"time"

	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/runbook"
	"github.com/recinq/quill/internal/value"
)

// InputSnapshot records one evaluated input: the expression source it came
// from, the value it produced, and whether downstream signing consumed it.
type InputSnapshot struct {
	Name                string       `json:"name"`
	ValuePreEvaluation  string       `json:"value_pre_evaluation,omitempty"`
	ValuePostEvaluation *value.Value `json:"value_post_evaluation"`
	Critical            bool         `json:"critical"`
}

type OutputSnapshot struct {
	Name   string       `json:"name"`
	Value  *value.Value `json:"value"`
	Signed bool         `json:"signed"`
}

// SignerSnapshot captures one signing construct with the constructs
// downstream of it.
type SignerSnapshot struct {
	ConstructDid    did.ConstructDid   `json:"construct_did"`
	PackageDid      did.PackageDid     `json:"package_did"`
	ConstructType   string             `json:"construct_type"`
	ConstructName   string             `json:"construct_name"`
	ConstructAddon  string             `json:"construct_addon,omitempty"`
	ConstructPath   string             `json:"construct_path"`
	DownstreamDids  []did.ConstructDid `json:"downstream_constructs_dids"`
	Inputs          []InputSnapshot    `json:"inputs"`
	Outputs         []OutputSnapshot   `json:"outputs"`
}

type CommandSnapshot struct {
	ConstructDid   did.ConstructDid   `json:"construct_did"`
	PackageDid     did.PackageDid     `json:"package_did"`
	ConstructType  string             `json:"construct_type"`
	ConstructName  string             `json:"construct_name"`
	ConstructAddon string             `json:"construct_addon,omitempty"`
	ConstructPath  string             `json:"construct_path"`
	UpstreamDids   []did.ConstructDid `json:"upstream_constructs_dids"`
	Inputs         []InputSnapshot    `json:"inputs"`
	Outputs        []OutputSnapshot   `json:"outputs"`
}

// RunSnapshot is one run (environment) of the runbook.
type RunSnapshot struct {
	ID       string            `json:"-"`
	Inputs   *value.ObjectMap  `json:"inputs"`
	Packages []PackageSnapshot `json:"packages"`
	Signers  []SignerSnapshot  `json:"signing_commands"`
	Commands []CommandSnapshot `json:"commands"`
}

type PackageSnapshot struct {
	Did  did.PackageDid `json:"did"`
	Name string         `json:"name"`
	Path string         `json:"path"`
}

// ExecutionSnapshot is the deterministic tree emitted after a run; the core
// never persists it, the host stores and reloads it as a value.
type ExecutionSnapshot struct {
	Org       string
	Workspace string
	Name      string
	EndedAt   string
	runs      []*RunSnapshot
}

func NewExecutionSnapshot(org, workspace, name string) *ExecutionSnapshot {
	return &ExecutionSnapshot{
		Org:       org,
		Workspace: workspace,
		Name:      name,
		EndedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

func (s *ExecutionSnapshot) AddRun(run *RunSnapshot) {
	s.runs = append(s.runs, run)
}

func (s *ExecutionSnapshot) Runs() []*RunSnapshot { return s.runs }

func (s *ExecutionSnapshot) Run(id string) *RunSnapshot {
	for _, run := range s.runs {
		if run.ID == id {
			return run
		}
	}
	return nil
}

// CaptureRun snapshots one run out of the execution context. Inputs record
// their pre-evaluation expression source and evaluated value; outputs are
// limited to the critical output when the specification names one.
func CaptureRun(
	runID string,
	ws *runbook.WorkspaceContext,
	execCtx *runbook.ExecutionContext,
) *RunSnapshot {
	run := &RunSnapshot{ID: runID, Inputs: value.NewObjectMap()}

	for _, inputDid := range ws.InputOrder() {
		loc := ws.Constructs[inputDid]
		if v, ok := ws.TopLevelInputs[inputDid]; ok && loc != nil {
			run.Inputs.Set(loc.Name, v)
		}
	}

	for _, pkgDid := range ws.PackageOrder() {
		pkg := ws.Packages[pkgDid]
		run.Packages = append(run.Packages, PackageSnapshot{Did: pkgDid, Name: pkg.Name, Path: pkg.Path})
	}

	for _, signerDid := range execCtx.OrderForSignersInitialization {
		instance, ok := execCtx.SignersInstances[signerDid]
		if !ok {
			continue
		}
		loc := ws.ExpectConstructLocation(signerDid)
		snap := SignerSnapshot{
			ConstructDid:   signerDid,
			PackageDid:     instance.PackageDid,
			ConstructType:  string(loc.Kind),
			ConstructName:  loc.Name,
			ConstructAddon: instance.Namespace,
			ConstructPath:  rangePath(loc),
			DownstreamDids: signerDownstream(execCtx, signerDid),
		}
		if inputs, ok := execCtx.CommandsInputsEvaluationResults[signerDid]; ok {
			snap.Inputs = captureInputs(instance.Block, inputs, ws, nil)
		}
		if result, ok := execCtx.CommandsExecutionResults[signerDid]; ok {
			result.Outputs.Range(func(k string, v *value.Value) bool {
				snap.Outputs = append(snap.Outputs, OutputSnapshot{Name: k, Value: v, Signed: true})
				return true
			})
		}
		run.Signers = append(run.Signers, snap)
	}

	for _, constructDid := range execCtx.OrderForCommandsExecution {
		instance, ok := execCtx.CommandsInstances[constructDid]
		if !ok {
			continue
		}
		loc := ws.ExpectConstructLocation(constructDid)
		snap := CommandSnapshot{
			ConstructDid:   constructDid,
			PackageDid:     instance.PackageDid,
			ConstructType:  string(loc.Kind),
			ConstructName:  loc.Name,
			ConstructAddon: instance.Namespace,
			ConstructPath:  rangePath(loc),
			UpstreamDids:   execCtx.UpstreamDependencies(constructDid),
		}
		sortDids(snap.UpstreamDids)
		critical := make(map[string]bool)
		for _, input := range instance.Specification.Inputs {
			if input.Tainting {
				critical[input.Name] = true
			}
		}
		if inputs, ok := execCtx.CommandsInputsEvaluationResults[constructDid]; ok {
			snap.Inputs = captureInputs(instance.Block, inputs, ws, critical)
		}
		if result, ok := execCtx.CommandsExecutionResults[constructDid]; ok {
			criticalOutput := instance.Specification.CreateCriticalOutput
			result.Outputs.Range(func(k string, v *value.Value) bool {
				if criticalOutput != "" && k != criticalOutput {
					return true
				}
				snap.Outputs = append(snap.Outputs, OutputSnapshot{
					Name:   k,
					Value:  v,
					Signed: instance.IsSigning(),
				})
				return true
			})
		}
		run.Commands = append(run.Commands, snap)
	}

	return run
}

// captureInputs walks evaluated inputs in store order, quoting each input's
// source expression as its pre-evaluation value.
func captureInputs(block *hclsyntax.Block, inputs *construct.CommandInputsEvaluationResult, ws *runbook.WorkspaceContext, critical map[string]bool) []InputSnapshot {
	var out []InputSnapshot
	inputs.Inputs.Range(func(name string, v *value.Value) bool {
		pre := ""
		if block != nil {
			if attr, ok := block.Body.Attributes[name]; ok {
				pre = ws.ExprText(attr.Expr.Range())
			}
		}
		out = append(out, InputSnapshot{
			Name:                name,
			ValuePreEvaluation:  pre,
			ValuePostEvaluation: v,
			Critical:            critical[name],
		})
		return true
	})
	return out
}

func signerDownstream(execCtx *runbook.ExecutionContext, signerDid did.ConstructDid) []did.ConstructDid {
	var out []did.ConstructDid
	for commandDid, signers := range execCtx.SignedCommandsUpstreamDependencies {
		for _, s := range signers {
			if s == signerDid {
				out = append(out, commandDid)
				break
			}
		}
	}
	sortDids(out)
	return out
}

func sortDids(dids []did.ConstructDid) {
	for i := 1; i < len(dids); i++ {
		for j := i; j > 0 && dids[j] < dids[j-1]; j-- {
			dids[j], dids[j-1] = dids[j-1], dids[j]
		}
	}
}

func rangePath(loc *runbook.ConstructLocation) string {
	if loc.Range == nil {
		return ""
	}
	return loc.Range.Filename
}
