package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	dispatchSheet      string
	dispatchFilter     string
	dispatchThreshold  int
	dispatchMin        int
	dispatchMax        int
	dispatchKeyword    string
	dispatchSubject    string
	dispatchYes        bool
	dispatchResume     string
	dispatchEnforceCap bool
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Filter scored leads and send outreach email in batches",
	Long: `Reads previously scored rows, selects targets matching the filter,
previews sample messages, then sends in staggered batches and writes delivery
status back to the sheet.

The run suspends at the preview checkpoint; --yes confirms it without
stopping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := initDispatchEngine(st, dispatchSheet)
		if err != nil {
			return err
		}

		var snap *model.DispatchSnapshot
		if dispatchResume != "" {
			snap, err = st.GetDispatch(ctx, dispatchResume)
			if err != nil {
				return eris.Wrap(err, "dispatch: load run")
			}
		} else {
			criterion, err := buildCriterion()
			if err != nil {
				return err
			}
			snap, err = engine.Start(ctx, criterion)
			if err != nil {
				return err
			}
		}

		if snap.Stage != model.StageAwaitingPreview {
			return eris.Errorf("dispatch: run %s is at stage %s, nothing to resume", snap.ID, snap.Stage)
		}

		printPreview(os.Stdout, snap)

		// A fresh run without --yes stops at the preview; a --resume
		// invocation is itself the confirmation.
		if !dispatchYes && dispatchResume == "" {
			fmt.Fprintf(os.Stderr, "\nRun suspended. Confirm and send with:\n  outreach-cli dispatch --resume %s [--subject ...]\n", snap.ID)
			return nil
		}

		summary, err := engine.Send(ctx, snap, dispatch.PreviewInput{
			Subject:    dispatchSubject,
			EnforceCap: dispatchEnforceCap,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		printDispatchSummary(os.Stdout, summary)
		return nil
	},
}

// buildCriterion assembles the target filter from flags. The custom filter
// takes its range and keyword from dedicated flags.
func buildCriterion() (dispatch.Criterion, error) {
	if dispatchFilter == string(dispatch.KindCustom) {
		return dispatch.Criterion{
			Kind:    dispatch.KindCustom,
			Min:     dispatchMin,
			Max:     dispatchMax,
			Keyword: dispatchKeyword,
		}, nil
	}
	return dispatch.ParseCriterion(dispatchFilter, dispatchThreshold)
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchSheet, "sheet", "", "spreadsheet ID or path to an .xlsx file")
	dispatchCmd.Flags().StringVar(&dispatchFilter, "filter", "qualified", "target filter: all, qualified, score_above, enterprise, tech, custom")
	dispatchCmd.Flags().IntVar(&dispatchThreshold, "threshold", 70, "minimum score for the score_above filter")
	dispatchCmd.Flags().IntVar(&dispatchMin, "min", 0, "minimum score for the custom filter")
	dispatchCmd.Flags().IntVar(&dispatchMax, "max", 0, "maximum score for the custom filter (0 means 100)")
	dispatchCmd.Flags().StringVar(&dispatchKeyword, "keyword", "", "summary keyword for the custom filter")
	dispatchCmd.Flags().StringVar(&dispatchSubject, "subject", "", "subject template override, {company} is substituted per target")
	dispatchCmd.Flags().BoolVarP(&dispatchYes, "yes", "y", false, "auto-confirm the preview checkpoint")
	dispatchCmd.Flags().StringVar(&dispatchResume, "resume", "", "resume a suspended run by ID")
	dispatchCmd.Flags().BoolVar(&dispatchEnforceCap, "enforce-cap", false, "truncate the target list to the daily send cap")

	rootCmd.AddCommand(dispatchCmd)
}
