package construct

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/value"
)

// SupervisionContext tells commands whether a human is reviewing the run.
// Unsupervised runs auto-acknowledge review items; only signature-providing
// items can block them.
type SupervisionContext struct {
	ReviewInputDefault  bool
	ReviewInputValues   bool
	IsSupervised        bool
}

// CommandInput declares one input of a command specification.
type CommandInput struct {
	Name        string
	Description string
	Typing      value.Type
	Optional    bool
	Sensitive   bool
	// Tainting marks the input as critical for snapshot diffing: a change
	// in its evaluated value forces downstream re-execution.
	Tainting bool
}

// CommandOutput declares one output of a command specification.
type CommandOutput struct {
	Name        string
	Description string
	Typing      value.Type
}

// BackgroundTaskFuture is a deferred chunk of work polled at the pass
// boundary; its continuation is the next pass, never an inline await.
type BackgroundTaskFuture func(ctx context.Context) (*CommandExecutionResult, *diag.Diagnostic)

// NestedChild is one expansion step of a command that fans out into
// sub-commands.
type NestedChild struct {
	Did    did.ConstructDid
	Inputs *value.ValueStore
}

// CommandRunner is the capability set of a command: a closed v-table of
// addon-provided handles. Nil entries mean the capability is absent.
type CommandRunner struct {
	CheckExecutability func(
		constructDid did.ConstructDid,
		instanceName string,
		spec *CommandSpecification,
		values *value.ValueStore,
		supervision *SupervisionContext,
		responses []frontend.ActionItemResponse,
	) (*frontend.Actions, *diag.Diagnostic)

	PerformExecution func(
		ctx context.Context,
		constructDid did.ConstructDid,
		spec *CommandSpecification,
		values *value.ValueStore,
		progress *frontend.StatusUpdater,
	) (*CommandExecutionResult, *diag.Diagnostic)

	CheckSignedExecutability func(
		constructDid did.ConstructDid,
		instanceName string,
		spec *CommandSpecification,
		values *value.ValueStore,
		supervision *SupervisionContext,
		responses []frontend.ActionItemResponse,
		signersInstances map[did.ConstructDid]*SignerInstance,
		signersState *SignersState,
	) (*SignersState, *frontend.Actions, *diag.Diagnostic)

	RunSignedExecution func(
		ctx context.Context,
		constructDid did.ConstructDid,
		spec *CommandSpecification,
		values *value.ValueStore,
		signersInstances map[did.ConstructDid]*SignerInstance,
		signersState *SignersState,
		progress *frontend.StatusUpdater,
	) (*SignersState, *CommandExecutionResult, *diag.Diagnostic)

	BuildBackgroundTask func(
		constructDid did.ConstructDid,
		spec *CommandSpecification,
		values *value.ValueStore,
		outputs *CommandExecutionResult,
		progressTx chan<- frontend.BlockEvent,
		backgroundTasksUuid string,
		supervision *SupervisionContext,
	) (BackgroundTaskFuture, *diag.Diagnostic)

	PrepareNestedExecution func(
		constructDid did.ConstructDid,
		instanceName string,
		values *value.ValueStore,
	) ([]NestedChild, *diag.Diagnostic)

	AggregateNestedExecutionResults func(
		constructDid did.ConstructDid,
		children []NestedChild,
		results []*CommandExecutionResult,
	) (*CommandExecutionResult, *diag.Diagnostic)
}

// CommandSpecification is the static shape of a command: declared inputs
// and outputs plus capability flags.
type CommandSpecification struct {
	Name          string
	Matcher       string
	Documentation string

	AcceptsArbitraryInputs bool
	// CreateCriticalOutput names the single output field persisted in
	// snapshots as the construct's semantic identity; "" disables it.
	CreateCriticalOutput string
	UpdateAddonDefaults  bool

	ImplementsSigningCapability        bool
	ImplementsBackgroundTaskCapability bool

	Inputs  []CommandInput
	Outputs []CommandOutput

	Runner CommandRunner
}

func (s *CommandSpecification) Input(name string) *CommandInput {
	for i := range s.Inputs {
		if s.Inputs[i].Name == name {
			return &s.Inputs[i]
		}
	}
	return nil
}

// CommandInstance is one command block of a runbook, bound to its
// specification and its parsed HCL body.
type CommandInstance struct {
	Specification *CommandSpecification
	Name          string
	BlockType     string
	Block         *hclsyntax.Block
	PackageDid    did.PackageDid
	Namespace     string
}

// GetExpressionFromInput returns the attribute expression declared for the
// input, or nil when the block does not set it.
func (c *CommandInstance) GetExpressionFromInput(name string) hclsyntax.Expression {
	if c.Block == nil {
		return nil
	}
	attr, ok := c.Block.Body.Attributes[name]
	if !ok {
		return nil
	}
	return attr.Expr
}

// GetExpressionFromObjectProperty looks inside a nested block named after
// the input for the property attribute.
func (c *CommandInstance) GetExpressionFromObjectProperty(inputName, propName string) hclsyntax.Expression {
	for _, block := range c.blocksNamed(inputName) {
		if attr, ok := block.Body.Attributes[propName]; ok {
			return attr.Expr
		}
	}
	return nil
}

// GetBlocksForMap collects every block sharing the map input's name, in
// source order.
func (c *CommandInstance) GetBlocksForMap(inputName string) []*hclsyntax.Block {
	return c.blocksNamed(inputName)
}

func (c *CommandInstance) blocksNamed(name string) []*hclsyntax.Block {
	if c.Block == nil {
		return nil
	}
	var out []*hclsyntax.Block
	for _, block := range c.Block.Body.Blocks {
		if block.Type == name {
			out = append(out, block)
		}
	}
	return out
}

// InputExpressions walks every attribute and nested block of the body in
// source order; the graph builder uses it to discover dependencies.
func (c *CommandInstance) InputExpressions() []hclsyntax.Expression {
	if c.Block == nil {
		return nil
	}
	return bodyExpressions(c.Block.Body)
}

func bodyExpressions(body *hclsyntax.Body) []hclsyntax.Expression {
	var out []hclsyntax.Expression
	for _, attr := range attributesInOrder(body) {
		out = append(out, attr.Expr)
	}
	for _, block := range body.Blocks {
		out = append(out, bodyExpressions(block.Body)...)
	}
	return out
}

// attributesInOrder sorts a body's attribute map by source position so
// dependency discovery stays deterministic.
func attributesInOrder(body *hclsyntax.Body) []*hclsyntax.Attribute {
	out := make([]*hclsyntax.Attribute, 0, len(body.Attributes))
	for _, attr := range body.Attributes {
		out = append(out, attr)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].SrcRange.Start.Byte < out[j-1].SrcRange.Start.Byte; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SourceRange locates the instance for diagnostics.
func (c *CommandInstance) SourceRange() *diag.Range {
	if c.Block == nil {
		return nil
	}
	r := c.Block.DefRange()
	return &diag.Range{
		Filename: r.Filename,
		Start:    diag.Pos{Line: r.Start.Line, Column: r.Start.Column, Byte: r.Start.Byte},
		End:      diag.Pos{Line: r.End.Line, Column: r.End.Column, Byte: r.End.Byte},
	}
}

func (c *CommandInstance) String() string {
	return fmt.Sprintf("%s.%s", c.BlockType, c.Name)
}

// IsSigning reports the signing capability.
func (c *CommandInstance) IsSigning() bool {
	return c.Specification.ImplementsSigningCapability
}

// HasBackgroundTask reports the background task capability.
func (c *CommandInstance) HasBackgroundTask() bool {
	return c.Specification.ImplementsBackgroundTaskCapability
}
