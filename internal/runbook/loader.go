package runbook

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/value"
)

// Source is one runbook file handed over by the host; parsing stays behind
// hclsyntax, the engine only walks the resulting AST.
type Source struct {
	Filename string
	Content  []byte
}

// Load parses sources into a workspace context and a fresh execution
// context. Top-level input values arrive pre-resolved by the manifest layer
// (CLI > environment > global precedence).
func Load(runbookID string, sources []Source, inputs map[string]*value.Value, rt *RuntimeContext) (*WorkspaceContext, *ExecutionContext, *diag.Diagnostic) {
	ws := NewWorkspaceContext(runbookID)
	ctx := NewExecutionContext()

	pkg := NewPackage(runbookID, runbookID, ".")
	ws.AddPackage(pkg)

	inputNames := make([]string, 0, len(inputs))
	for name := range inputs {
		inputNames = append(inputNames, name)
	}
	sort.Strings(inputNames)
	for _, name := range inputNames {
		ws.IndexTopLevelInput(name, inputs[name])
	}

	for _, source := range sources {
		ws.Sources[source.Filename] = source.Content
		file, parseDiags := hclsyntax.ParseConfig(source.Content, source.Filename, hcl.InitialPos)
		if parseDiags.HasErrors() {
			return nil, nil, parseDiagnostic(source.Filename, parseDiags)
		}
		body, ok := file.Body.(*hclsyntax.Body)
		if !ok {
			return nil, nil, diag.Errorf(diag.ClassParse, "file %q did not parse to native syntax", source.Filename)
		}
		if d := indexBody(ws, ctx, pkg, body, rt); d != nil {
			return nil, nil, d
		}
	}

	if d := BuildExecutionGraph(ws, ctx); d != nil {
		return nil, nil, d
	}
	return ws, ctx, nil
}

func indexBody(ws *WorkspaceContext, ctx *ExecutionContext, pkg *Package, body *hclsyntax.Body, rt *RuntimeContext) *diag.Diagnostic {
	for _, block := range body.Blocks {
		switch block.Type {
		case "variable", "output", "module":
			if len(block.Labels) != 1 {
				return blockDiag(block, "%s block requires exactly one label", block.Type)
			}
			spec, _, ok := rt.Registry.LookupCommand(block.Type)
			if !ok {
				return blockDiag(block, "no specification registered for %q blocks", block.Type)
			}
			name := block.Labels[0]
			constructDid := ws.IndexConstruct(pkg, ConstructKind(block.Type), name, "", blockRange(block))
			ctx.CommandsInstances[constructDid] = &construct.CommandInstance{
				Specification: spec,
				Name:          name,
				BlockType:     block.Type,
				Block:         block,
				PackageDid:    pkg.Did,
			}

		case "action":
			if len(block.Labels) != 2 {
				return blockDiag(block, "action block requires a name and a kind label")
			}
			name, kind := block.Labels[0], block.Labels[1]
			spec, namespace, ok := rt.Registry.LookupCommand(kind)
			if !ok {
				return blockDiag(block, "unknown action kind %q", kind)
			}
			constructDid := ws.IndexConstruct(pkg, KindAction, name, namespace, blockRange(block))
			ctx.CommandsInstances[constructDid] = &construct.CommandInstance{
				Specification: spec,
				Name:          name,
				BlockType:     "action",
				Block:         block,
				PackageDid:    pkg.Did,
				Namespace:     namespace,
			}

		case "signer":
			if len(block.Labels) != 2 {
				return blockDiag(block, "signer block requires a name and a kind label")
			}
			name, kind := block.Labels[0], block.Labels[1]
			spec, namespace, ok := rt.Registry.LookupSigner(kind)
			if !ok {
				return blockDiag(block, "unknown signer kind %q", kind)
			}
			constructDid := ws.IndexConstruct(pkg, KindSigner, name, namespace, blockRange(block))
			ctx.SignersInstances[constructDid] = &construct.SignerInstance{
				Specification: spec,
				Name:          name,
				Block:         block,
				PackageDid:    pkg.Did,
				Namespace:     namespace,
			}

		case "addon":
			if len(block.Labels) != 1 {
				return blockDiag(block, "addon block requires the namespace label")
			}
			defaults, d := literalAttributes(block)
			if d != nil {
				return d
			}
			ws.SetAddonDefaults(pkg.Did, block.Labels[0], defaults)

		default:
			return blockDiag(block, "unknown block type %q", block.Type)
		}
	}
	return nil
}

// literalAttributes evaluates addon-defaults attributes statically; defaults
// cannot reference other constructs.
func literalAttributes(block *hclsyntax.Block) (*value.ObjectMap, *diag.Diagnostic) {
	defaults := value.NewObjectMap()
	for _, attr := range attributesInSourceOrder(block.Body) {
		ctyVal, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, blockDiag(block, "addon defaults attribute %q must be a literal", attr.Name)
		}
		converted, err := fromCty(ctyVal)
		if err != nil {
			return nil, blockDiag(block, "addon defaults attribute %q: %v", attr.Name, err)
		}
		defaults.Set(attr.Name, converted)
	}
	return defaults, nil
}

func fromCty(v cty.Value) (*value.Value, error) {
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Type() {
	case cty.String:
		return value.String(v.AsString()), nil
	case cty.Bool:
		return value.Bool(v.True()), nil
	case cty.Number:
		f := v.AsBigFloat()
		if f.IsInt() {
			i, _ := f.Int(nil)
			return value.IntegerBig(i), nil
		}
		out, _ := f.Float64()
		return value.Float(out), nil
	}
	return nil, fmt.Errorf("unsupported literal type %s", v.Type().FriendlyName())
}

func attributesInSourceOrder(body *hclsyntax.Body) []*hclsyntax.Attribute {
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

func blockRange(block *hclsyntax.Block) *diag.Range {
	r := block.DefRange()
	return &diag.Range{
		Filename: r.Filename,
		Start:    diag.Pos{Line: r.Start.Line, Column: r.Start.Column, Byte: r.Start.Byte},
		End:      diag.Pos{Line: r.End.Line, Column: r.End.Column, Byte: r.End.Byte},
	}
}

func blockDiag(block *hclsyntax.Block, format string, args ...any) *diag.Diagnostic {
	d := diag.Errorf(diag.ClassParse, format, args...)
	return d.WithSpan(blockRange(block))
}

func parseDiagnostic(filename string, diags hcl.Diagnostics) *diag.Diagnostic {
	first := diags[0]
	d := diag.Errorf(diag.ClassParse, "%s", first.Error())
	if first.Subject != nil {
		d = d.WithSpan(&diag.Range{
			Filename: filename,
			Start:    diag.Pos{Line: first.Subject.Start.Line, Column: first.Subject.Start.Column, Byte: first.Subject.Start.Byte},
			End:      diag.Pos{Line: first.Subject.End.Line, Column: first.Subject.End.Column, Byte: first.Subject.End.Byte},
		})
	}
	return d
}
