package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/recinq/quill/internal/manifest"
	"github.com/recinq/quill/internal/state"
)

type ListOptions struct {
	ManifestPath string
	Runs         bool
	Limit        int
}

func NewListCmd() *cobra.Command {
	var opts ListOptions

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List runbooks or recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ManifestPath, "manifest", "m", "quill.yml", "Path to workspace manifest")
	cmd.Flags().BoolVar(&opts.Runs, "runs", false, "List recent runs instead of runbooks")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum runs to list")

	return cmd
}

func runList(opts ListOptions) error {
	loader := &manifest.YAMLManifestLoader{}
	m, err := loader.Load(opts.ManifestPath)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if !opts.Runs {
		fmt.Fprintln(w, "NAME\tLOCATION\tDESCRIPTION")
		for _, ref := range m.Runbooks {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ref.Name, ref.Location, ref.Description)
		}
		return nil
	}

	store, err := state.NewStateStore(m.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRecentRuns(opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "RUN\tRUNBOOK\tENV\tSTATUS\tSTARTED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			run.RunID, run.Runbook, run.Environment, run.Status,
			run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
