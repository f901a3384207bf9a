// Package addon is the registration surface chain integrations plug into:
// namespaced pure functions, command specifications, signer specifications
// and addon-typed opaque value ids.
package addon

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/diag"
	"github.com/recinq/quill/internal/value"
)

// AuthorizationContext gives addon callbacks controlled access to the
// workspace: the root location and a file resolver. Addons never reach the
// filesystem another way.
type AuthorizationContext struct {
	WorkspaceRoot string
}

// ResolvePath keeps relative paths inside the workspace root.
func (a *AuthorizationContext) ResolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	resolved := filepath.Join(a.WorkspaceRoot, path)
	rel, err := filepath.Rel(a.WorkspaceRoot, resolved)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return resolved, nil
}

// FunctionSpecification is a pure function callable from expressions.
type FunctionSpecification struct {
	Name          string
	Documentation string
	Run           func(args []*value.Value, auth *AuthorizationContext) (*value.Value, *diag.Diagnostic)
}

// Addon bundles everything one namespace registers.
type Addon interface {
	Namespace() string
	Functions() []FunctionSpecification
	Commands() []*construct.CommandSpecification
	Signers() []*construct.SignerSpecification
	// TypeIDs lists the addon-typed opaque value identifiers the addon
	// owns, e.g. "evm::init_code".
	TypeIDs() []string
}

// Registry indexes registered addons for runtime dispatch.
type Registry struct {
	addons     map[string]Addon
	functions  map[string]FunctionSpecification
	commands   map[string]*construct.CommandSpecification
	signers    map[string]*construct.SignerSpecification
	typeIDs    map[string]string
	namespaces []string
}

func NewRegistry() *Registry {
	return &Registry{
		addons:    make(map[string]Addon),
		functions: make(map[string]FunctionSpecification),
		commands:  make(map[string]*construct.CommandSpecification),
		signers:   make(map[string]*construct.SignerSpecification),
		typeIDs:   make(map[string]string),
	}
}

// Register indexes an addon's functions, commands, signers and type ids.
// Core functions register under the empty namespace and dispatch by bare
// name (binary operators resolve there).
func (r *Registry) Register(a Addon) error {
	ns := a.Namespace()
	if _, ok := r.addons[ns]; ok {
		return fmt.Errorf("addon namespace %q already registered", ns)
	}
	r.addons[ns] = a
	r.namespaces = append(r.namespaces, ns)
	for _, fn := range a.Functions() {
		r.functions[qualify(ns, fn.Name)] = fn
	}
	for _, cmd := range a.Commands() {
		r.commands[qualify(ns, cmd.Matcher)] = cmd
	}
	for _, signer := range a.Signers() {
		r.signers[qualify(ns, signer.Matcher)] = signer
	}
	for _, id := range a.TypeIDs() {
		r.typeIDs[id] = ns
	}
	return nil
}

func qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "::" + name
}

// ExecuteFunction dispatches a namespace-qualified function call.
func (r *Registry) ExecuteFunction(namespace, name string, args []*value.Value, auth *AuthorizationContext) (*value.Value, *diag.Diagnostic) {
	fn, ok := r.functions[qualify(namespace, name)]
	if !ok {
		return nil, diag.Errorf(diag.ClassEvaluation, "unknown function %q", qualify(namespace, name))
	}
	return fn.Run(args, auth)
}

// LookupCommand resolves an action kind such as "evm::send_eth".
func (r *Registry) LookupCommand(kind string) (*construct.CommandSpecification, string, bool) {
	spec, ok := r.commands[kind]
	if !ok {
		return nil, "", false
	}
	return spec, namespaceOf(kind), true
}

// LookupSigner resolves a signer kind such as "evm::secret_key".
func (r *Registry) LookupSigner(kind string) (*construct.SignerSpecification, string, bool) {
	spec, ok := r.signers[kind]
	if !ok {
		return nil, "", false
	}
	return spec, namespaceOf(kind), true
}

// HasTypeID reports whether an addon registered the opaque value id.
func (r *Registry) HasTypeID(id string) bool {
	_, ok := r.typeIDs[id]
	return ok
}

func (r *Registry) Namespaces() []string {
	out := make([]string, len(r.namespaces))
	copy(out, r.namespaces)
	return out
}

func namespaceOf(kind string) string {
	if idx := strings.Index(kind, "::"); idx >= 0 {
		return kind[:idx]
	}
	return ""
}
