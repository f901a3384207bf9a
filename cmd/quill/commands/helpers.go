package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/recinq/quill/internal/addon"
	"github.com/recinq/quill/internal/addons/core"
	"github.com/recinq/quill/internal/addons/evm"
	"github.com/recinq/quill/internal/construct"
	"github.com/recinq/quill/internal/manifest"
	"github.com/recinq/quill/internal/runbook"
)

// loadedRunbook bundles what every command needs after loading.
type loadedRunbook struct {
	Manifest  *manifest.Manifest
	Ref       *manifest.RunbookRef
	Workspace *runbook.WorkspaceContext
	Execution *runbook.ExecutionContext
	Runtime   *runbook.RuntimeContext
}

// loadRunbook resolves the manifest, registers addons, applies input
// precedence and parses the runbook sources.
func loadRunbook(manifestPath, runbookName, environment, rpcURL string, cliInputs []string) (*loadedRunbook, error) {
	loader := &manifest.YAMLManifestLoader{}
	m, err := loader.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	ref := m.GetRunbook(runbookName)
	if ref == nil {
		return nil, fmt.Errorf("runbook %q is not declared in %s", runbookName, manifestPath)
	}

	var rpc evm.RPC
	chainID := m.Runtime.ChainID
	if rpcURL != "" {
		client, err := evm.Dial(rpcURL)
		if err != nil {
			return nil, err
		}
		if chainID == 0 {
			if id, err := client.ChainID(); err == nil {
				chainID = id
			}
		}
		rpc = client
	}

	registry := addon.NewRegistry()
	if err := registry.Register(core.New()); err != nil {
		return nil, err
	}
	networkID := m.Runtime.NetworkID
	if environment != "" {
		networkID = environment
	}
	if err := registry.Register(evm.New(rpc, networkID, chainID)); err != nil {
		return nil, err
	}

	workspaceRoot, err := filepath.Abs(filepath.Dir(manifestPath))
	if err != nil {
		return nil, err
	}
	rt := &runbook.RuntimeContext{
		Registry:      registry,
		Authorization: &addon.AuthorizationContext{WorkspaceRoot: workspaceRoot},
		NetworkID:     networkID,
	}

	inputs, err := m.ResolveInputs(environment, cliInputs)
	if err != nil {
		return nil, err
	}

	sources, err := readSources(m.RunbookLocation(ref))
	if err != nil {
		return nil, err
	}

	ws, execCtx, d := runbook.Load(ref.Name, sources, inputs, rt)
	if d != nil {
		return nil, d
	}

	return &loadedRunbook{
		Manifest:  m,
		Ref:       ref,
		Workspace: ws,
		Execution: execCtx,
		Runtime:   rt,
	}, nil
}

// readSources accepts a single file or a directory of *.tx files.
func readSources(location string) ([]runbook.Source, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("failed to locate runbook at %s: %w", location, err)
	}
	if !info.IsDir() {
		content, err := os.ReadFile(location)
		if err != nil {
			return nil, err
		}
		return []runbook.Source{{Filename: location, Content: content}}, nil
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return nil, err
	}
	var sources []runbook.Source
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".tx" {
			continue
		}
		path := filepath.Join(location, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, runbook.Source{Filename: path, Content: content})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no .tx runbook files found in %s", location)
	}
	return sources, nil
}

func supervisionFromManifest(m *manifest.Manifest, unsupervised bool) *construct.SupervisionContext {
	supervised := !m.Runtime.Unsupervised && !unsupervised
	return &construct.SupervisionContext{IsSupervised: supervised}
}

// renderOutputs prints the cached outputs of every output construct.
func renderOutputs(loaded *loadedRunbook) {
	for _, constructDid := range loaded.Execution.OrderForCommandsExecution {
		loc := loaded.Workspace.Constructs[constructDid]
		if loc == nil || loc.Kind != runbook.KindOutput {
			continue
		}
		result, ok := loaded.Execution.CommandsExecutionResults[constructDid]
		if !ok {
			continue
		}
		if v, ok := result.Outputs.Get("value"); ok {
			fmt.Printf("%s = %s\n", loc.Name, v.String())
		}
	}
}
