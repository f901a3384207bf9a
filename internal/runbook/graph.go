package runbook

import (
	"strings"

	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/did"
)

// BuildExecutionGraph discovers input dependencies by resolving every
// traversal in every construct body, rejects cycles, and derives the
// execution orders the driver walks. Must run before the first pass.
func BuildExecutionGraph(ws *WorkspaceContext, ctx *ExecutionContext) *diag.Diagnostic {
	upstream := make(map[did.ConstructDid][]did.ConstructDid)

	addEdge := func(from, to did.ConstructDid) {
		for _, existing := range upstream[from] {
			if existing == to {
				return
			}
		}
		upstream[from] = append(upstream[from], to)
	}

	for _, constructDid := range ws.CommandOrder() {
		instance, ok := ctx.CommandsInstances[constructDid]
		if !ok {
			continue
		}
		pkg := ws.Packages[instance.PackageDid]
		for _, expr := range instance.InputExpressions() {
			for _, traversal := range expr.Variables() {
				dep, _, found := ws.ResolveTraversal(pkg, traversal)
				if !found {
					continue
				}
				if _, isInput := ws.TopLevelInputs[dep]; isInput {
					// top-level inputs are genesis results, never graph nodes
					continue
				}
				addEdge(constructDid, dep)
				if _, isSigner := ctx.SignersInstances[dep]; isSigner {
					appendUnique(ctx.SignedCommandsUpstreamDependencies, constructDid, dep)
				}
			}
		}
	}

	for _, signerDid := range ws.SignerOrder() {
		instance, ok := ctx.SignersInstances[signerDid]
		if !ok {
			continue
		}
		pkg := ws.Packages[instance.PackageDid]
		for _, expr := range instance.InputExpressions() {
			for _, traversal := range expr.Variables() {
				dep, _, found := ws.ResolveTraversal(pkg, traversal)
				if !found {
					continue
				}
				if _, isInput := ws.TopLevelInputs[dep]; isInput {
					continue
				}
				addEdge(signerDid, dep)
			}
		}
	}

	if d := detectCycle(ws, upstream); d != nil {
		return d
	}

	ctx.OrderForCommandsExecution = topologicalOrder(ws.CommandOrder(), upstream, func(d did.ConstructDid) bool {
		_, ok := ctx.CommandsInstances[d]
		return ok
	})
	ctx.OrderForSignersInitialization = topologicalOrder(ws.SignerOrder(), upstream, func(d did.ConstructDid) bool {
		_, ok := ctx.SignersInstances[d]
		return ok
	})

	ctx.CommandsDependencies = make(map[did.ConstructDid][]did.ConstructDid)
	for dependent, deps := range upstream {
		for _, dep := range deps {
			appendUnique(ctx.CommandsDependencies, dep, dependent)
		}
	}

	return nil
}

func appendUnique(m map[did.ConstructDid][]did.ConstructDid, key, item did.ConstructDid) {
	for _, existing := range m[key] {
		if existing == item {
			return
		}
	}
	m[key] = append(m[key], item)
}

// detectCycle runs a DFS over the upstream edges; any back edge fails the
// runbook with a circular diagnostic enumerating every construct on the
// cycle so humans can break it.
func detectCycle(ws *WorkspaceContext, upstream map[did.ConstructDid][]did.ConstructDid) *diag.Diagnostic {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[did.ConstructDid]int)
	var path []did.ConstructDid

	var visit func(node did.ConstructDid) *diag.Diagnostic
	visit = func(node did.ConstructDid) *diag.Diagnostic {
		state[node] = visiting
		path = append(path, node)
		for _, dep := range upstream[node] {
			switch state[dep] {
			case visiting:
				return cycleDiagnostic(ws, path, dep)
			case unvisited:
				if d := visit(dep); d != nil {
					return d
				}
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return nil
	}

	roots := append(ws.CommandOrder(), ws.SignerOrder()...)
	for _, node := range roots {
		if state[node] == unvisited {
			if d := visit(node); d != nil {
				return d
			}
		}
	}
	return nil
}

func cycleDiagnostic(ws *WorkspaceContext, path []did.ConstructDid, entry did.ConstructDid) *diag.Diagnostic {
	start := 0
	for i, node := range path {
		if node == entry {
			start = i
			break
		}
	}
	names := make([]string, 0, len(path)-start+1)
	for _, node := range path[start:] {
		names = append(names, ws.ConstructName(node))
	}
	names = append(names, ws.ConstructName(entry))
	return diag.Errorf(diag.ClassCircular, "circular dependency detected: %s", strings.Join(names, " -> "))
}

// topologicalOrder sorts the given nodes so dependencies precede
// dependents; ties break on the parser insertion order of the input slice.
func topologicalOrder(insertion []did.ConstructDid, upstream map[did.ConstructDid][]did.ConstructDid, include func(did.ConstructDid) bool) []did.ConstructDid {
	visited := make(map[did.ConstructDid]bool)
	var order []did.ConstructDid

	var visit func(node did.ConstructDid)
	visit = func(node did.ConstructDid) {
		if visited[node] || !include(node) {
			return
		}
		visited[node] = true
		for _, dep := range upstream[node] {
			visit(dep)
		}
		order = append(order, node)
	}

	for _, node := range insertion {
		visit(node)
	}
	return order
}
