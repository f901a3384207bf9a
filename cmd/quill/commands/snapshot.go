package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recinq/quill/internal/snapshot"
)

func NewSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and diff execution snapshots",
	}
	cmd.AddCommand(newSnapshotDiffCmd())
	return cmd
}

func newSnapshotDiffCmd() *cobra.Command {
	var criticalOnly bool

	cmd := &cobra.Command{
		Use:   "diff <old.json> <new.json>",
		Short: "Diff two execution snapshots",
		Long: `Compare two snapshots and report every change; critical changes are
the ones that force re-execution on replay. Removed constructs are
reported but never auto-deleted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotDiff(args[0], args[1], criticalOnly)
		},
	}
	cmd.Flags().BoolVar(&criticalOnly, "critical", false, "Show only critical changes")
	return cmd
}

func runSnapshotDiff(oldPath, newPath string, criticalOnly bool) error {
	oldSnap, err := readSnapshot(oldPath)
	if err != nil {
		return err
	}
	newSnap, err := readSnapshot(newPath)
	if err != nil {
		return err
	}

	changes := snapshot.Diff(oldSnap, newSnap)
	if changes.IsEmpty() {
		fmt.Println("snapshots are identical")
		return nil
	}

	for _, change := range changes.Changes {
		if criticalOnly && !change.Critical {
			continue
		}
		marker := " "
		if change.Critical {
			marker = "!"
		}
		fmt.Printf("%s %s %s: %s -> %s\n", marker, change.Construct, change.Field, change.OldValue, change.NewValue)
	}
	for _, added := range changes.NewConstructs {
		fmt.Printf("+ construct %s added\n", added)
	}
	for _, removed := range changes.ConstructsToRemove {
		fmt.Printf("- construct %s to remove (confirm before replay)\n", removed)
	}
	for _, run := range changes.NewRuns {
		fmt.Printf("+ run %s added\n", run)
	}
	for _, run := range changes.RemovedRuns {
		fmt.Printf("- run %s removed\n", run)
	}
	return nil
}

func readSnapshot(path string) (*snapshot.ExecutionSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	var snap snapshot.ExecutionSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	// normalize before diffing so representation differences never count
	return snap.Normalize()
}
