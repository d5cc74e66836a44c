package pipeline

import (
	"sort"
	"time"

	"github.com/sells-group/outreach-cli/internal/model"
)

const (
	topLeadCount     = 10
	failureDetailCap = 5
)

// Summarize computes the final aggregates for a completed run: conversion
// rate, average score over scored rows, top leads by score with row order as
// the tie-break, and a capped failure listing.
func Summarize(counters model.Counters, scored []scoredRow, failures []model.FailureDetail, duration time.Duration) *model.PipelineSummary {
	summary := &model.PipelineSummary{
		Counters: counters,
		Duration: duration,
	}

	if counters.Processed > 0 {
		summary.ConversionRate = float64(counters.Qualified) / float64(counters.Processed)
	}

	if len(scored) > 0 {
		total := 0
		for _, s := range scored {
			total += s.result.Score
		}
		summary.AverageScore = float64(total) / float64(len(scored))
	}

	ranked := make([]scoredRow, len(scored))
	copy(ranked, scored)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].result.Score != ranked[j].result.Score {
			return ranked[i].result.Score > ranked[j].result.Score
		}
		return ranked[i].rowIndex < ranked[j].rowIndex
	})
	if len(ranked) > topLeadCount {
		ranked = ranked[:topLeadCount]
	}
	for _, s := range ranked {
		summary.TopLeads = append(summary.TopLeads, model.LeadScore{
			RowIndex: s.rowIndex,
			Company:  s.company,
			Score:    s.result.Score,
		})
	}

	if len(failures) > failureDetailCap {
		summary.Failures = append(summary.Failures, failures[:failureDetailCap]...)
		summary.FailureOverflow = len(failures) - failureDetailCap
	} else {
		summary.Failures = append(summary.Failures, failures...)
	}

	return summary
}
