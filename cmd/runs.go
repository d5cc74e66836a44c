package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect suspended and completed runs",
	Long:  "Commands for listing, viewing, and pruning pipeline and dispatch run snapshots.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List run snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		stage, _ := cmd.Flags().GetString("stage")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.List(ctx, store.RunFilter{
			Kind:  model.RunKind(kind),
			Stage: model.Stage(stage),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full snapshot of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		pipeline, err := st.GetPipeline(ctx, args[0])
		if err == nil {
			return enc.Encode(pipeline)
		}
		if !eris.Is(err, store.ErrNotFound) {
			return eris.Wrap(err, "runs show")
		}

		dispatch, err := st.GetDispatch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return enc.Encode(dispatch)
	},
}

// -- runs purge --

var runsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired run snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpired(ctx)
		if err != nil {
			return eris.Wrap(err, "runs purge")
		}

		out.Fprintf(os.Stdout, "Deleted %d expired runs.\n", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("kind", "", "filter by run kind (pipeline, dispatch)")
	runsListCmd.Flags().String("stage", "", "filter by stage (awaiting_schema, awaiting_plan, awaiting_preview, complete, failed, ...)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsPurgeCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(w io.Writer, runs []store.RunInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tKIND\tSTAGE\tCREATED\tEXPIRES")
	_, _ = fmt.Fprintln(tw, "--\t----\t-----\t-------\t-------")
	for _, r := range runs {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID), r.Kind, r.Stage, r.CreatedAt, r.ExpiresAt)
	}
	_ = tw.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
