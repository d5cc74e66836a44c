package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/schema"
)

func leadRows(n int) [][]string {
	rows := make([][]string, n)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("Company %02d", i+1), fmt.Sprintf("c%d@test.example", i+1), "Software"}
	}
	return rows
}

var testHeaders = []string{"Company Name", "Email", "Industry"}

func fastConfig() Config {
	return Config{
		ConcurrencyLimit: 10,
		FlushThreshold:   50,
		SecsPerRow:       12,
		ChunkCooldown:    time.Millisecond,
		MaxAttempts:      3,
		RetryBackoff:     time.Millisecond,
		TargetProfile:    "mid-market software companies",
		SheetRef:         "sheet-test",
		SuspensionTTL:    time.Hour,
	}
}

// runToPlan drives a fresh engine through both checkpoints.
func runToPlan(t *testing.T, e *Engine) *model.PipelineSnapshot {
	t.Helper()
	ctx := context.Background()

	snap, err := e.Start(ctx)
	require.NoError(t, err)
	require.Equal(t, model.StageAwaitingSchema, snap.Stage)

	snap, err = e.ConfirmSchema(ctx, snap, SchemaInput{})
	require.NoError(t, err)
	require.Equal(t, model.StageAwaitingPlan, snap.Stage)
	return snap
}

func TestPipeline_FullRunChunking(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(23), nil)
	oracle := &fakeOracle{scores: map[string]int{"Company 01": 95, "Company 02": 40}}
	runs := newMemRunStore()

	var progress []model.ChunkProgress
	e := New(source, &fakeEnricher{}, oracle, schema.Default(), runs, fastConfig(),
		WithProgress(func(p model.ChunkProgress) { progress = append(progress, p) }))

	snap := runToPlan(t, e)
	summary, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	// 23 rows at concurrency 10 means chunks of 10, 10, 3.
	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].TotalChunks)
	assert.InDelta(t, 100.0, progress[2].Percent, 0.01)

	assert.Equal(t, 23, summary.Counters.Processed)
	assert.Equal(t, summary.Counters.Processed, summary.Counters.Succeeded+summary.Counters.Failed)
	assert.Equal(t, 0, summary.Counters.Failed)
	assert.Equal(t, model.StageComplete, snap.Stage)
}

func TestPipeline_ResultHeadersAndWriteBack(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(3), nil)
	oracle := &fakeOracle{scores: map[string]int{"Company 01": 85}}
	e := New(source, &fakeEnricher{}, oracle, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	_, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	// Header row gains the four result columns after the last existing one.
	assert.Equal(t, "Summary", source.cellAt(1, 4))
	assert.Equal(t, "Score", source.cellAt(1, 5))
	assert.Equal(t, "Qualified", source.cellAt(1, 6))
	assert.Equal(t, "Outreach Message", source.cellAt(1, 7))

	assert.Equal(t, "summary for Company 01", source.cellAt(2, 4))
	assert.Equal(t, "85", source.cellAt(2, 5))
	assert.Equal(t, "true", source.cellAt(2, 6))
	assert.Equal(t, "hello Company 01", source.cellAt(2, 7))
}

func TestPipeline_ChunkWritesFlushBeforeNextChunk(t *testing.T) {
	log := &eventLog{}
	source := newFakeSource(testHeaders, leadRows(6), log)
	cfg := fastConfig()
	cfg.ConcurrencyLimit = 3
	cfg.FlushThreshold = 1

	e := New(source, &fakeEnricher{log: log}, &fakeOracle{log: log}, schema.Default(), newMemRunStore(), cfg)

	snap := runToPlan(t, e)
	_, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	// With two chunks of three, every result write of chunk 1 must precede
	// every enrichment call of chunk 2.
	events := log.snapshot()
	lastChunk1Write := -1
	firstChunk2Enrich := len(events)
	enrichSeen := 0
	for i, ev := range events {
		switch ev.kind {
		case "enrich":
			enrichSeen++
			if enrichSeen == 4 && i < firstChunk2Enrich {
				firstChunk2Enrich = i
			}
		case "write":
			if ev.row >= 2 && ev.row <= 4 && i > lastChunk1Write {
				lastChunk1Write = i
			}
		}
	}
	require.GreaterOrEqual(t, lastChunk1Write, 0, "chunk 1 rows were flushed")
	assert.Less(t, lastChunk1Write, firstChunk2Enrich,
		"chunk 1 writes must complete before chunk 2 external calls start")
}

func TestPipeline_EnrichmentFailureStillScores(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(2), nil)
	oracle := &fakeOracle{}
	enricher := &fakeEnricher{failAll: true, fallback: "no research data"}
	e := New(source, enricher, oracle, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	summary, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Counters.Succeeded)
	assert.Equal(t, 0, summary.Counters.Failed)
	assert.Equal(t, "no research data", oracle.lastText["Company 01"],
		"oracle still runs with the degraded placeholder")
}

func TestPipeline_DegradedCountedSeparatelyFromFailed(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(3), nil)
	oracle := &fakeOracle{degraded: map[string]bool{"Company 02": true}}
	e := New(source, &fakeEnricher{}, oracle, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	summary, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Counters.Succeeded)
	assert.Equal(t, 1, summary.Counters.Degraded)
	assert.Equal(t, 0, summary.Counters.Failed)
}

func TestPipeline_RowFailureAfterRetriesDoesNotAbortRun(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(4), nil)
	oracle := &fakeOracle{failFor: map[string]bool{"Company 03": true}}
	e := New(source, &fakeEnricher{}, oracle, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	summary, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Counters.Processed)
	assert.Equal(t, 3, summary.Counters.Succeeded)
	assert.Equal(t, 1, summary.Counters.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 4, summary.Failures[0].RowIndex)
	assert.Contains(t, summary.Failures[0].Reason, "oracle unavailable")
}

func TestPipeline_ReadFailureCountedLikeScoringFailure(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(3), nil)
	source.failRead = map[int]bool{3: true}
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	summary, err := e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Counters.Succeeded)
	assert.Equal(t, 1, summary.Counters.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 3, summary.Failures[0].RowIndex)
}

func TestPipeline_ProbeFailureFailsFast(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(1), nil)
	source.probeErr = fmt.Errorf("permission denied")
	runs := newMemRunStore()
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), runs, fastConfig())

	_, err := e.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect")
	assert.Zero(t, runs.saves, "no run is persisted on connection failure")
}

func TestPipeline_SchemaOverrideAndValidation(t *testing.T) {
	// Headers that defeat inference for the required company role.
	source := newFakeSource([]string{"Empresa", "Correo"}, [][]string{{"Acme", "a@b.test"}}, nil)
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), newMemRunStore(), fastConfig())
	ctx := context.Background()

	snap, err := e.Start(ctx)
	require.NoError(t, err)

	// Without the required role mapped, confirmation is a hard error.
	_, err = e.ConfirmSchema(ctx, snap, SchemaInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "company")

	// Unknown header names are rejected.
	_, err = e.ConfirmSchema(ctx, snap, SchemaInput{Overrides: map[string]string{"company": "Nope"}})
	require.Error(t, err)

	// Explicit override resolves it.
	snap2, err := e.ConfirmSchema(ctx, snap, SchemaInput{Overrides: map[string]string{
		"company": "Empresa",
		"email":   "Correo",
	}})
	require.NoError(t, err)
	assert.Equal(t, 0, snap2.Mapping["company"])
	assert.Equal(t, 1, snap2.Mapping["email"])
	assert.Equal(t, model.StageAwaitingPlan, snap2.Stage)
}

func TestPipeline_ResumeWrongStage(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(1), nil)
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), newMemRunStore(), fastConfig())

	snap, err := e.Start(context.Background())
	require.NoError(t, err)

	// Approving the plan while still awaiting schema confirmation is an error.
	_, err = e.ApprovePlan(context.Background(), snap, PlanInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "awaiting_schema")
}

func TestPipeline_ResumeExpiredSnapshot(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(1), nil)
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), newMemRunStore(), fastConfig())

	snap, err := e.Start(context.Background())
	require.NoError(t, err)

	snap.ExpiresAt = time.Now().Add(-time.Minute)
	_, err = e.ConfirmSchema(context.Background(), snap, SchemaInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestPipeline_PlanEstimates(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(40), nil)
	e := New(source, &fakeEnricher{}, &fakeOracle{}, schema.Default(), newMemRunStore(), fastConfig())

	snap := runToPlan(t, e)
	require.NotNil(t, snap.Plan)
	assert.Equal(t, 40, snap.Plan.RowCount)
	assert.Equal(t, 10, snap.Plan.BatchSize)
	assert.InDelta(t, 480.0, snap.Plan.TotalEstimatedSeconds, 0.01)
}

func TestPipeline_ResumeScoresWithPersistedProfile(t *testing.T) {
	source := newFakeSource(testHeaders, leadRows(2), nil)
	oracle := &fakeOracle{}
	runs := newMemRunStore()
	ctx := context.Background()

	cfg := fastConfig()
	cfg.TargetProfile = "fintech startups"
	first := New(source, &fakeEnricher{}, oracle, schema.Default(), runs, cfg)
	snap := runToPlan(t, first)

	// A later process resumes the run configured with a different profile;
	// scoring must still use the profile persisted in the snapshot.
	resumedCfg := fastConfig()
	resumedCfg.TargetProfile = "manufacturing enterprises"
	second := New(source, &fakeEnricher{}, oracle, schema.Default(), runs, resumedCfg)

	loaded, err := runs.GetPipeline(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, "fintech startups", loaded.TargetProfile)

	summary, err := second.ApprovePlan(ctx, loaded, PlanInput{})
	require.NoError(t, err)

	assert.Equal(t, "fintech startups", oracle.lastProfile)
	// The enrichment query carries the same profile.
	assert.Contains(t, oracle.lastText["Company 01"], "fintech startups")

	// Top leads resolve company names from the mapped column.
	require.Len(t, summary.TopLeads, 2)
	companies := []string{summary.TopLeads[0].Company, summary.TopLeads[1].Company}
	assert.ElementsMatch(t, []string{"Company 01", "Company 02"}, companies)
}

func TestSummarize_TopLeadsAndFailureCap(t *testing.T) {
	var scored []scoredRow
	scores := []int{50, 90, 90, 70, 95, 20, 88, 90, 61, 77, 84, 33}
	for i, s := range scores {
		scored = append(scored, scoredRow{
			rowIndex: i + 2,
			company:  fmt.Sprintf("C%d", i+2),
			result:   model.ScoreResult{Score: s, Qualifies: s >= 70},
		})
	}

	var failures []model.FailureDetail
	for i := 0; i < 8; i++ {
		failures = append(failures, model.FailureDetail{RowIndex: 100 + i, Reason: "boom"})
	}

	counters := model.Counters{Processed: 20, Succeeded: 12, Failed: 8, Qualified: 8}
	summary := Summarize(counters, scored, failures, time.Second)

	require.Len(t, summary.TopLeads, 10)
	assert.Equal(t, 95, summary.TopLeads[0].Score)
	// Equal scores keep original row order.
	assert.Equal(t, []int{6, 3, 4, 9}, []int{
		summary.TopLeads[0].RowIndex,
		summary.TopLeads[1].RowIndex,
		summary.TopLeads[2].RowIndex,
		summary.TopLeads[3].RowIndex,
	})

	assert.InDelta(t, 0.4, summary.ConversionRate, 0.001)
	require.Len(t, summary.Failures, 5)
	assert.Equal(t, 3, summary.FailureOverflow)
}
