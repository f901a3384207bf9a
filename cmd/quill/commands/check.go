package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recinq/quill/internal/did"
	"github.com/recinq/quill/internal/eval"
)

type CheckOptions struct {
	ManifestPath string
	Environment  string
	Inputs       []string
}

func NewCheckCmd() *cobra.Command {
	var opts CheckOptions

	cmd := &cobra.Command{
		Use:   "check <runbook>",
		Short: "Validate a runbook without executing it",
		Long: `Parse the runbook, build the dependency graph, reject cycles and
simulate input evaluation. No addon callback runs; signer inputs stay
unresolved by design.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "quill.yml", "Path to workspace manifest")
	cmd.Flags().StringVarP(&opts.Environment, "env", "e", "", "Environment scope for input resolution")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "Top-level input override (NAME=value, repeatable)")

	return cmd
}

func runCheck(runbookName string, opts CheckOptions) error {
	loaded, err := loadRunbook(opts.ManifestPath, runbookName, opts.Environment, "", opts.Inputs)
	if err != nil {
		return err
	}

	// simulate each construct's inputs against an empty result cache; the
	// goal is surfacing reference and typing problems before execution
	problems := 0
	for _, constructDid := range loaded.Execution.OrderForCommandsExecution {
		instance, ok := loaded.Execution.CommandsInstances[constructDid]
		if !ok {
			continue
		}
		pkg := loaded.Workspace.Packages[instance.PackageDid]
		ec := &eval.EvalContext{
			Deps:      map[did.ConstructDid]*eval.DependencyResult{},
			Package:   pkg,
			Workspace: loaded.Workspace,
			Execution: loaded.Execution,
			Runtime:   loaded.Runtime,
		}
		defaults := loaded.Workspace.GetAddonDefaults(instance.PackageDid, instance.Namespace)
		status, _, diags := eval.PerformInputsEvaluation(ec, instance, nil, defaults, nil, true)
		if status == eval.InputsAborted {
			for _, d := range diags {
				if d.IsError() {
					problems++
					fmt.Printf("✗ %s: %s\n", loaded.Workspace.ConstructName(constructDid), d.Message)
				}
			}
		}
	}

	if problems > 0 {
		return fmt.Errorf("runbook check failed with %d problems", problems)
	}
	fmt.Printf("✓ runbook %q is valid: %d constructs, %d signers\n",
		runbookName,
		len(loaded.Execution.OrderForCommandsExecution),
		len(loaded.Execution.OrderForSignersInitialization))
	return nil
}
