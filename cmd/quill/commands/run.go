package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/recinq/quill/internal/audit"
	"github.com/recinq/quill/internal/display"
	"github.com/recinq/quill/internal/frontend"
	"github.com/recinq/quill/internal/runner"
	"github.com/recinq/quill/internal/snapshot"
	"github.com/recinq/quill/internal/state"
)

type RunOptions struct {
	ManifestPath  string
	Environment   string
	Inputs        []string
	RPCURL        string
	Unsupervised  bool
	JSONOutput    bool
	ResponsesPath string
	Replay        bool
	MaxPasses     int
}

func NewRunCmd() *cobra.Command {
	var opts RunOptions

	cmd := &cobra.Command{
		Use:   "run <runbook>",
		Short: "Execute a runbook",
		Long: `Execute a runbook end to end. Supervised runs suspend whenever a
construct needs user interaction; provide collected responses with
--responses, or run against a web front end that drives the pass loop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunbook(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "quill.yml", "Path to workspace manifest")
	cmd.Flags().StringVarP(&opts.Environment, "env", "e", "", "Environment scope for input resolution")
	cmd.Flags().StringArrayVar(&opts.Inputs, "input", nil, "Top-level input override (NAME=value, repeatable)")
	cmd.Flags().StringVar(&opts.RPCURL, "rpc-url", "", "Chain RPC endpoint for the evm addon")
	cmd.Flags().BoolVar(&opts.Unsupervised, "unsupervised", false, "Skip review items; only signatures can block")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "Emit NDJSON block events instead of human-readable output")
	cmd.Flags().StringVar(&opts.ResponsesPath, "responses", "", "JSON file with pre-collected action item responses")
	cmd.Flags().BoolVar(&opts.Replay, "replay", false, "Replay from the stored snapshot, re-executing only changed constructs")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 16, "Abort after this many passes")

	return cmd
}

func runRunbook(ctx context.Context, runbookName string, opts RunOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := loadRunbook(opts.ManifestPath, runbookName, opts.Environment, opts.RPCURL, opts.Inputs)
	if err != nil {
		return err
	}

	store, err := openStateStore(loaded)
	if err != nil {
		return err
	}
	defer store.Close()

	trace, err := audit.NewTraceLogger(filepath.Dir(opts.ManifestPath))
	if err != nil {
		return fmt.Errorf("failed to open trace log: %w", err)
	}
	defer trace.Close()

	supervision := supervisionFromManifest(loaded.Manifest, opts.Unsupervised)
	engine := runner.New(loaded.Workspace, loaded.Execution, loaded.Runtime, supervision)

	if opts.Replay {
		if err := applyReplay(engine, store, loaded, opts.Environment); err != nil {
			return err
		}
	}

	runID, err := store.CreateRun(runbookName, opts.Environment)
	if err != nil {
		return err
	}

	var emitter display.EventEmitter
	if opts.JSONOutput {
		emitter = display.NewNDJSONEmitter()
	} else {
		emitter = display.NewHumanReadableEmitter(os.Stderr)
	}
	go display.Drain(engine.ProgressChannel(), emitter)

	responses, err := loadResponses(opts.ResponsesPath)
	if err != nil {
		return err
	}

	for pass := 1; ; pass++ {
		if pass > opts.MaxPasses {
			store.UpdateRunStatus(runID, state.StatusAborted)
			return fmt.Errorf("runbook did not settle after %d passes", opts.MaxPasses)
		}

		outcome, err := engine.RunPass(ctx)
		if err != nil {
			store.UpdateRunStatus(runID, state.StatusFailed)
			return err
		}
		detail := fmt.Sprintf("pass %d: pending=%d progressed=%t",
			pass, outcome.PendingActions, outcome.Progressed)
		store.LogEvent(runID, "pass", "", detail)
		trace.LogPass(runID, "evaluation", detail)

		if outcome.Completed {
			break
		}

		applied := 0
		remaining := responses[:0]
		for _, response := range responses {
			if err := engine.ProcessResponse(response); err != nil {
				remaining = append(remaining, response)
				continue
			}
			applied++
		}
		responses = remaining

		if applied == 0 && !outcome.Progressed && outcome.ExecutedBackgroundTasks == 0 {
			store.UpdateRunStatus(runID, state.StatusBlocked)
			return fmt.Errorf("runbook is blocked on %d pending action items; collect responses and re-run with --responses",
				outcome.PendingActions)
		}
	}

	snap := snapshot.NewExecutionSnapshot(
		loaded.Manifest.Metadata.Org, loaded.Manifest.Metadata.Workspace, runbookName)
	snap.AddRun(snapshot.CaptureRun(runIDForSnapshot(opts.Environment), loaded.Workspace, loaded.Execution))
	normalized, err := snap.Normalize()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	if err := store.SaveSnapshot(runbookName, opts.Environment, encoded); err != nil {
		return err
	}

	if err := store.UpdateRunStatus(runID, state.StatusCompleted); err != nil {
		return err
	}

	renderOutputs(loaded)
	return nil
}

func openStateStore(loaded *loadedRunbook) (state.StateStore, error) {
	statePath := loaded.Manifest.StatePath()
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return state.NewStateStore(statePath)
}

// applyReplay loads the stored snapshot and promotes unchanged constructs
// so only the changed set and its descendants invoke addon callbacks.
func applyReplay(engine *runner.Runner, store state.StateStore, loaded *loadedRunbook, environment string) error {
	raw, err := store.GetSnapshot(loaded.Ref.Name, environment)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("no stored snapshot for runbook %q in environment %q", loaded.Ref.Name, environment)
	}
	var prior snapshot.ExecutionSnapshot
	if err := json.Unmarshal(raw, &prior); err != nil {
		return fmt.Errorf("failed to decode stored snapshot: %w", err)
	}
	runID := runIDForSnapshot(environment)
	run := prior.Run(runID)
	if run == nil {
		return fmt.Errorf("stored snapshot has no run %q", runID)
	}
	changed := snapshot.SelectChangedConstructs(run, loaded.Workspace, loaded.Execution)
	return engine.ApplySnapshotForPartialReplay(&prior, runID, changed)
}

func runIDForSnapshot(environment string) string {
	if environment == "" {
		return "default"
	}
	return environment
}

func loadResponses(path string) ([]frontend.ActionItemResponse, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses file: %w", err)
	}
	var responses []frontend.ActionItemResponse
	if err := json.Unmarshal(raw, &responses); err != nil {
		return nil, fmt.Errorf("failed to parse responses file: %w", err)
	}
	return responses, nil
}
