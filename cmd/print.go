package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/outreach-cli/internal/model"
)

// out formats counts and rates with locale-aware grouping.
var out = message.NewPrinter(language.English)

// printProposal renders the schema checkpoint for operator review.
func printProposal(w io.Writer, snap *model.PipelineSnapshot) {
	fmt.Fprintf(w, "Sheet: %s (%s)\n", snap.SheetTitle, snap.SheetRef)
	out.Fprintf(w, "Rows:  %d\n\n", snap.RowCount)

	if snap.Proposal == nil {
		return
	}

	byCol := make(map[int]string, len(snap.Proposal.Mapping))
	for role, col := range snap.Proposal.Mapping {
		byCol[col] = role
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "COL\tHEADER\tROLE")
	for i, h := range snap.Proposal.Headers {
		role := byCol[i]
		if role == "" {
			role = "-"
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, h, role)
	}
	_ = tw.Flush()

	if len(snap.Proposal.SampleRows) > 0 {
		fmt.Fprintln(w, "\nSample rows:")
		for _, row := range snap.Proposal.SampleRows {
			fmt.Fprintf(w, "  %v\n", row)
		}
	}
}

// printPlan renders the execution plan checkpoint.
func printPlan(w io.Writer, snap *model.PipelineSnapshot) {
	if snap.Plan == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = out.Fprintf(tw, "Rows to process:\t%d\n", snap.Plan.RowCount)
	_, _ = fmt.Fprintf(tw, "Batch size:\t%d\n", snap.Plan.BatchSize)
	_, _ = fmt.Fprintf(tw, "Est. per row:\t%.1fs\n", snap.Plan.EstimatedSecsPerRow)
	_, _ = fmt.Fprintf(tw, "Est. total:\t%s\n",
		(time.Duration(snap.Plan.TotalEstimatedSeconds * float64(time.Second))).Round(time.Second))
	_ = tw.Flush()
}

// printPipelineSummary renders the final report of an enrichment run.
func printPipelineSummary(w io.Writer, s *model.PipelineSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = out.Fprintf(tw, "Processed:\t%d\n", s.Counters.Processed)
	_, _ = out.Fprintf(tw, "Succeeded:\t%d\n", s.Counters.Succeeded)
	_, _ = out.Fprintf(tw, "  Degraded:\t%d\n", s.Counters.Degraded)
	_, _ = out.Fprintf(tw, "Failed:\t%d\n", s.Counters.Failed)
	_, _ = out.Fprintf(tw, "Qualified:\t%d (%.0f%%)\n", s.Counters.Qualified, s.ConversionRate*100)
	_, _ = fmt.Fprintf(tw, "Avg score:\t%.1f\n", s.AverageScore)
	_, _ = fmt.Fprintf(tw, "Duration:\t%s\n", s.Duration.Round(time.Second))
	_ = tw.Flush()

	if len(s.TopLeads) > 0 {
		fmt.Fprintln(w, "\nTop leads:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ROW\tCOMPANY\tSCORE")
		for _, l := range s.TopLeads {
			_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\n", l.RowIndex, l.Company, l.Score)
		}
		_ = tw.Flush()
	}

	printFailures(w, s.Failures, s.FailureOverflow)
}

// printPreview renders the dispatch preview checkpoint.
func printPreview(w io.Writer, snap *model.DispatchSnapshot) {
	p := snap.Preview
	if p == nil {
		return
	}

	out.Fprintf(w, "Filter %s matched %d targets (daily cap %d).\n", snap.Criterion, p.TotalTargets, p.DailySendCap)
	if p.OverCap {
		out.Fprintf(w, "WARNING: %d targets over the daily send cap.\n", p.OverCapAmount)
	}

	for i, sample := range p.Samples {
		fmt.Fprintf(w, "\n--- Sample %d ---\n", i+1)
		fmt.Fprintf(w, "To:      %s\n", sample.Recipient)
		fmt.Fprintf(w, "Subject: %s\n", sample.Subject)
		fmt.Fprintf(w, "%s\n", sample.Body)
	}
}

// printDispatchSummary renders the final report of a send run.
func printDispatchSummary(w io.Writer, s *model.DispatchSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = out.Fprintf(tw, "Sent:\t%d\n", s.Sent)
	_, _ = out.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	if s.SkippedOverCap > 0 {
		_, _ = out.Fprintf(tw, "Skipped (over cap):\t%d\n", s.SkippedOverCap)
	}
	_, _ = fmt.Fprintf(tw, "Success rate:\t%.0f%%\n", s.SuccessRate*100)
	_ = tw.Flush()

	printFailures(w, s.Failures, s.FailureOverflow)
}

func printFailures(w io.Writer, failures []model.FailureDetail, overflow int) {
	if len(failures) == 0 {
		return
	}
	sorted := append([]model.FailureDetail(nil), failures...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RowIndex < sorted[j].RowIndex })

	fmt.Fprintln(w, "\nFailures:")
	for _, f := range sorted {
		fmt.Fprintf(w, "  row %d: %s\n", f.RowIndex, f.Reason)
	}
	if overflow > 0 {
		out.Fprintf(w, "  ... and %d more\n", overflow)
	}
}
