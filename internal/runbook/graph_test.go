package runbook

import (
	"strings"
	"testing"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/addons/core"
)

func loadGraph(t *testing.T, src string) (*WorkspaceContext, *ExecutionContext, error) {
	t.Helper()
	registry := addon.NewRegistry()
	if err := registry.Register(core.New()); err != nil {
		t.Fatal(err)
	}
	rt := &RuntimeContext{Registry: registry, Authorization: &addon.AuthorizationContext{}}
	ws, ctx, d := Load("test", []Source{{Filename: "main.tx", Content: []byte(src)}}, nil, rt)
	if d != nil {
		return nil, nil, d
	}
	return ws, ctx, nil
}

func TestTopologicalOrder_DependenciesFirst(t *testing.T) {
	src := `
output "last" {
  value = variable.first
}

variable "first" {
  value = 1
}
`
	ws, ctx, err := loadGraph(t, src)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	order := make(map[string]int)
	for i, d := range ctx.OrderForCommandsExecution {
		order[ws.ConstructName(d)] = i
	}
	if order["variable.first"] >= order["output.last"] {
		t.Error("variable.first should come before output.last despite lexical order")
	}
}

func TestCycleDetection_SelfReference(t *testing.T) {
	src := `
variable "loop" {
  value = variable.loop
}
`
	_, _, err := loadGraph(t, src)
	if err == nil {
		t.Fatal("expected error for self-reference, got nil")
	}
	if !strings.Contains(err.Error(), "variable.loop") {
		t.Errorf("cycle diagnostic should name the construct: %v", err)
	}
}

func TestCycleDetection_LongCycle(t *testing.T) {
	src := `
variable "a" { value = variable.c }
variable "b" { value = variable.a }
variable "c" { value = variable.b }
`
	_, _, err := loadGraph(t, src)
	if err == nil {
		t.Fatal("expected error for cycle, got nil")
	}
	for _, name := range []string{"variable.a", "variable.b", "variable.c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("cycle diagnostic should enumerate %s: %v", name, err)
		}
	}
}

func TestDependentsMap(t *testing.T) {
	src := `
variable "root" { value = 1 }
variable "mid" { value = variable.root }
output "leaf" { value = variable.mid }
`
	ws, ctx, err := loadGraph(t, src)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	var rootDid, midDid string
	for d, loc := range ws.Constructs {
		switch loc.Name {
		case "root":
			rootDid = d.String()
		case "mid":
			midDid = d.String()
		}
	}

	found := false
	for upstream, dependents := range ctx.CommandsDependencies {
		if upstream.String() == rootDid {
			for _, dep := range dependents {
				if dep.String() == midDid {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("variable.mid should be recorded as a dependent of variable.root")
	}
}

func TestUnknownActionKindFailsLoad(t *testing.T) {
	src := `
action "x" "nosuch::thing" {
}
`
	_, _, err := loadGraph(t, src)
	if err == nil {
		t.Fatal("expected error for unknown action kind, got nil")
	}
	if !strings.Contains(err.Error(), "nosuch::thing") {
		t.Errorf("error should name the unknown kind: %v", err)
	}
}
