// Package runbook owns the parsed shape of a runbook: the symbol table
// mapping references to construct DIDs, the dependency graph and execution
// order, and the mutable execution context a run threads through passes.
package runbook

import (
	"github.com/hashicorp/hcl/v2"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/value"
)

// ConstructKind is the block type of a construct.
type ConstructKind string

const (
	KindVariable      ConstructKind = "variable"
	KindOutput        ConstructKind = "output"
	KindAction        ConstructKind = "action"
	KindSigner        ConstructKind = "signer"
	KindModule        ConstructKind = "module"
	KindAddonDefaults ConstructKind = "addon"
	KindInput         ConstructKind = "input"
)

// ConstructLocation is the display-side identity of a construct: DIDs are
// the only references used in the graph, names exist for humans and
// diagnostics.
type ConstructLocation struct {
	Did        did.ConstructDid
	PackageDid did.PackageDid
	Kind       ConstructKind
	Name       string
	Namespace  string
	Range      *diag.Range
}

// Package is one directory of runbook sources with its per-kind name
// indexes.
type Package struct {
	Did  did.PackageDid
	Name string
	Path string

	variables map[string]did.ConstructDid
	outputs   map[string]did.ConstructDid
	actions   map[string]did.ConstructDid
	signers   map[string]did.ConstructDid
	modules   map[string]did.ConstructDid
}

func NewPackage(runbookID, name, path string) *Package {
	return &Package{
		Did:       did.NewPackageDid(runbookID, path),
		Name:      name,
		Path:      path,
		variables: make(map[string]did.ConstructDid),
		outputs:   make(map[string]did.ConstructDid),
		actions:   make(map[string]did.ConstructDid),
		signers:   make(map[string]did.ConstructDid),
		modules:   make(map[string]did.ConstructDid),
	}
}

// WorkspaceContext is the read-only symbol table built by indexing parsed
// packages.
type WorkspaceContext struct {
	RunbookID string

	Packages     map[did.PackageDid]*Package
	packageOrder []did.PackageDid

	Constructs map[did.ConstructDid]*ConstructLocation

	// commandOrder and signerOrder keep parser insertion order; ties in the
	// topological sort break on them.
	commandOrder []did.ConstructDid
	signerOrder  []did.ConstructDid

	// TopLevelInputs carries the resolved `input.NAME` values.
	TopLevelInputs map[did.ConstructDid]*value.Value
	inputDids      map[string]did.ConstructDid
	inputOrder     []did.ConstructDid

	// AddonDefaults maps "<package did>::<namespace>" to the defaults store
	// consulted by that namespace's constructs.
	AddonDefaults map[string]*value.ObjectMap

	// Sources keeps the raw file contents so diagnostics and snapshots can
	// quote expression text.
	Sources map[string][]byte
}

func NewWorkspaceContext(runbookID string) *WorkspaceContext {
	return &WorkspaceContext{
		RunbookID:      runbookID,
		Packages:       make(map[did.PackageDid]*Package),
		Constructs:     make(map[did.ConstructDid]*ConstructLocation),
		TopLevelInputs: make(map[did.ConstructDid]*value.Value),
		inputDids:      make(map[string]did.ConstructDid),
		AddonDefaults:  make(map[string]*value.ObjectMap),
		Sources:        make(map[string][]byte),
	}
}

// ExprText quotes the source text behind a range, for snapshot
// pre-evaluation values and diagnostics.
func (w *WorkspaceContext) ExprText(r hcl.Range) string {
	src, ok := w.Sources[r.Filename]
	if !ok || r.Start.Byte < 0 || r.End.Byte > len(src) || r.Start.Byte > r.End.Byte {
		return ""
	}
	return string(src[r.Start.Byte:r.End.Byte])
}

func (w *WorkspaceContext) AddPackage(pkg *Package) {
	if _, ok := w.Packages[pkg.Did]; ok {
		return
	}
	w.Packages[pkg.Did] = pkg
	w.packageOrder = append(w.packageOrder, pkg.Did)
}

// PackageOrder returns package DIDs in registration order.
func (w *WorkspaceContext) PackageOrder() []did.PackageDid {
	out := make([]did.PackageDid, len(w.packageOrder))
	copy(out, w.packageOrder)
	return out
}

// IndexConstruct registers a construct under its package's per-kind name
// index and returns its DID.
func (w *WorkspaceContext) IndexConstruct(pkg *Package, kind ConstructKind, name, namespace string, srcRange *diag.Range) did.ConstructDid {
	constructDid := did.NewConstructDid(pkg.Did, string(kind), name)
	w.Constructs[constructDid] = &ConstructLocation{
		Did:        constructDid,
		PackageDid: pkg.Did,
		Kind:       kind,
		Name:       name,
		Namespace:  namespace,
		Range:      srcRange,
	}
	switch kind {
	case KindVariable:
		pkg.variables[name] = constructDid
		w.commandOrder = append(w.commandOrder, constructDid)
	case KindOutput:
		pkg.outputs[name] = constructDid
		w.commandOrder = append(w.commandOrder, constructDid)
	case KindAction:
		pkg.actions[name] = constructDid
		w.commandOrder = append(w.commandOrder, constructDid)
	case KindModule:
		pkg.modules[name] = constructDid
		w.commandOrder = append(w.commandOrder, constructDid)
	case KindSigner:
		pkg.signers[name] = constructDid
		w.signerOrder = append(w.signerOrder, constructDid)
	}
	return constructDid
}

// IndexTopLevelInput registers `input.NAME` with its resolved value.
func (w *WorkspaceContext) IndexTopLevelInput(name string, v *value.Value) did.ConstructDid {
	inputDid := did.NewConstructDid("", string(KindInput), name)
	if _, ok := w.inputDids[name]; !ok {
		w.inputOrder = append(w.inputOrder, inputDid)
	}
	w.inputDids[name] = inputDid
	w.TopLevelInputs[inputDid] = v
	w.Constructs[inputDid] = &ConstructLocation{
		Did:  inputDid,
		Kind: KindInput,
		Name: name,
	}
	return inputDid
}

// InputOrder returns top-level input DIDs in registration order.
func (w *WorkspaceContext) InputOrder() []did.ConstructDid {
	out := make([]did.ConstructDid, len(w.inputOrder))
	copy(out, w.inputOrder)
	return out
}

// InputDid resolves a top-level input reference by name.
func (w *WorkspaceContext) InputDid(name string) (did.ConstructDid, bool) {
	d, ok := w.inputDids[name]
	return d, ok
}

// SetAddonDefaults installs the defaults store for a namespace within a
// package.
func (w *WorkspaceContext) SetAddonDefaults(pkg did.PackageDid, namespace string, defaults *value.ObjectMap) {
	w.AddonDefaults[string(pkg)+"::"+namespace] = defaults
}

func (w *WorkspaceContext) GetAddonDefaults(pkg did.PackageDid, namespace string) *value.ObjectMap {
	if defaults, ok := w.AddonDefaults[string(pkg)+"::"+namespace]; ok {
		return defaults
	}
	return nil
}

// ExpectConstructLocation panics on unknown DIDs: the graph only ever holds
// DIDs the workspace indexed.
func (w *WorkspaceContext) ExpectConstructLocation(constructDid did.ConstructDid) *ConstructLocation {
	loc, ok := w.Constructs[constructDid]
	if !ok {
		panic("unknown construct did " + constructDid.String())
	}
	return loc
}

func (w *WorkspaceContext) ConstructName(constructDid did.ConstructDid) string {
	if loc, ok := w.Constructs[constructDid]; ok {
		return string(loc.Kind) + "." + loc.Name
	}
	return constructDid.String()
}

// CommandOrder returns command constructs in parser insertion order.
func (w *WorkspaceContext) CommandOrder() []did.ConstructDid {
	out := make([]did.ConstructDid, len(w.commandOrder))
	copy(out, w.commandOrder)
	return out
}

// SignerOrder returns signer constructs in parser insertion order.
func (w *WorkspaceContext) SignerOrder() []did.ConstructDid {
	out := make([]did.ConstructDid, len(w.signerOrder))
	copy(out, w.signerOrder)
	return out
}

// ResolveTraversal maps the head of a traversal to a construct DID and
// returns the remaining components. `variable.a.b` resolves the construct
// from `variable.a` leaving `b`; a bare `a.b` falls back to searching the
// package's name indexes for `a`.
func (w *WorkspaceContext) ResolveTraversal(pkg *Package, traversal hcl.Traversal) (did.ConstructDid, []string, bool) {
	parts := traversalParts(traversal)
	if len(parts) == 0 {
		return "", nil, false
	}
	root := parts[0]
	switch root {
	case "variable":
		return lookupPrefixed(pkg.variables, parts)
	case "output":
		return lookupPrefixed(pkg.outputs, parts)
	case "action":
		return lookupPrefixed(pkg.actions, parts)
	case "signer":
		return lookupPrefixed(pkg.signers, parts)
	case "module":
		return lookupPrefixed(pkg.modules, parts)
	case "input":
		if len(parts) < 2 {
			return "", nil, false
		}
		d, ok := w.inputDids[parts[1]]
		if !ok {
			return "", nil, false
		}
		return d, parts[2:], true
	}
	// bare name: search the package indexes in declaration-kind order
	for _, index := range []map[string]did.ConstructDid{pkg.variables, pkg.signers, pkg.actions, pkg.outputs, pkg.modules} {
		if d, ok := index[root]; ok {
			return d, parts[1:], true
		}
	}
	return "", nil, false
}

func lookupPrefixed(index map[string]did.ConstructDid, parts []string) (did.ConstructDid, []string, bool) {
	if len(parts) < 2 {
		return "", nil, false
	}
	d, ok := index[parts[1]]
	if !ok {
		return "", nil, false
	}
	return d, parts[2:], true
}

func traversalParts(traversal hcl.Traversal) []string {
	var out []string
	for _, step := range traversal {
		switch t := step.(type) {
		case hcl.TraverseRoot:
			out = append(out, t.Name)
		case hcl.TraverseAttr:
			out = append(out, t.Name)
		case hcl.TraverseIndex:
			if t.Key.Type().FriendlyName() == "string" {
				out = append(out, t.Key.AsString())
			}
		}
	}
	return out
}
