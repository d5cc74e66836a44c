package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var (
	enrichSheet     string
	enrichProfile   string
	enrichYes       bool
	enrichResume    string
	enrichMaps      []string
	enrichBatchSize int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Research, score, and annotate leads from a sheet",
	Long: `Reads lead rows from a spreadsheet, researches each company, scores it
against the target customer profile, and writes summary, score, qualification,
and a drafted outreach message back to the sheet.

The run suspends at two checkpoints (schema confirmation, plan approval);
--yes confirms both without stopping.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		overrides, err := parseOverrides(enrichMaps)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		engine, err := initPipelineEngine(st, enrichSheet, enrichProfile, pipeline.WithProgress(func(p model.ChunkProgress) {
			out.Fprintf(os.Stderr, "chunk %d/%d (%.0f%%): %d processed, %d failed\n",
				p.Chunk, p.TotalChunks, p.Percent, p.Counters.Processed, p.Counters.Failed)
		}))
		if err != nil {
			return err
		}

		var snap *model.PipelineSnapshot
		if enrichResume != "" {
			snap, err = st.GetPipeline(ctx, enrichResume)
			if err != nil {
				return eris.Wrap(err, "enrich: load run")
			}
		} else {
			snap, err = engine.Start(ctx)
			if err != nil {
				return err
			}
		}

		approve := func(snap *model.PipelineSnapshot) error {
			summary, err := engine.ApprovePlan(ctx, snap, pipeline.PlanInput{BatchSize: enrichBatchSize})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout)
			printPipelineSummary(os.Stdout, summary)
			return nil
		}

		switch snap.Stage {
		case model.StageAwaitingSchema:
			printProposal(os.Stdout, snap)

			// A fresh run without --yes stops at the first checkpoint; a
			// --resume invocation is itself the confirmation.
			if !enrichYes && enrichResume == "" {
				fmt.Fprintf(os.Stderr, "\nRun suspended. Confirm the schema with:\n  outreach-cli enrich --resume %s [--map role=Header]\n", snap.ID)
				return nil
			}

			snap, err = engine.ConfirmSchema(ctx, snap, pipeline.SchemaInput{Overrides: overrides})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout)
			printPlan(os.Stdout, snap)

			if !enrichYes {
				fmt.Fprintf(os.Stderr, "\nRun suspended. Approve the plan with:\n  outreach-cli enrich --resume %s\n", snap.ID)
				return nil
			}
			return approve(snap)

		case model.StageAwaitingPlan:
			printPlan(os.Stdout, snap)
			return approve(snap)

		default:
			return eris.Errorf("enrich: run %s is at stage %s, nothing to resume", snap.ID, snap.Stage)
		}
	},
}

// parseOverrides turns repeated --map role=Header flags into an override map.
func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		role, header, ok := strings.Cut(pair, "=")
		if !ok || role == "" || header == "" {
			return nil, eris.Errorf("invalid --map %q, expected role=Header", pair)
		}
		overrides[strings.ToLower(strings.TrimSpace(role))] = strings.TrimSpace(header)
	}
	zap.L().Debug("schema overrides parsed", zap.Int("count", len(overrides)))
	return overrides, nil
}

func init() {
	enrichCmd.Flags().StringVar(&enrichSheet, "sheet", "", "spreadsheet ID or path to an .xlsx file")
	enrichCmd.Flags().StringVar(&enrichProfile, "profile", "", "target customer profile (defaults to configured profile)")
	enrichCmd.Flags().BoolVarP(&enrichYes, "yes", "y", false, "auto-confirm the schema and plan checkpoints")
	enrichCmd.Flags().StringVar(&enrichResume, "resume", "", "resume a suspended run by ID")
	enrichCmd.Flags().StringArrayVar(&enrichMaps, "map", nil, "override a column role, e.g. --map company=Empresa (repeatable)")
	enrichCmd.Flags().IntVar(&enrichBatchSize, "batch-size", 0, "override the planned batch size")

	rootCmd.AddCommand(enrichCmd)
}
