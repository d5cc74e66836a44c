// Package pipeline drives the lead-enrichment pass: connect, inspect schema,
// plan, process with bounded concurrency, summarize. The engine is an explicit
// state machine; every transition takes the prior snapshot plus new input and
// returns the updated snapshot, so suspended runs resume from persisted state.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/schema"
	"github.com/sells-group/outreach-cli/internal/scorer"
	"github.com/sells-group/outreach-cli/internal/store"
)

// sampleRowCount is how many data rows the schema proposal shows.
const sampleRowCount = 5

// resultHeaders are the four output columns, written once after the last
// existing column.
var resultHeaders = []string{"Summary", "Score", "Qualified", "Outreach Message"}

// Config tunes the engine. Zero values fall back to working defaults.
type Config struct {
	ConcurrencyLimit int
	FlushThreshold   int
	SecsPerRow       float64
	ChunkCooldown    time.Duration
	MaxAttempts      int
	RetryBackoff     time.Duration
	TargetProfile    string
	SheetRef         string
	SuspensionTTL    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 10
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 50
	}
	if c.SecsPerRow <= 0 {
		c.SecsPerRow = 12.0
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.SuspensionTTL <= 0 {
		c.SuspensionTTL = 72 * time.Hour
	}
	return c
}

// Engine orchestrates one enrichment run over a single row source.
type Engine struct {
	source   rowstore.RowStore
	enricher enrich.Client
	oracle   scorer.Oracle
	strategy schema.Strategy
	runs     store.RunStore
	cfg      Config

	progress func(model.ChunkProgress)
}

// Option configures the engine.
type Option func(*Engine)

// WithProgress registers a callback fired after each completed chunk.
func WithProgress(fn func(model.ChunkProgress)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// New creates a pipeline engine.
func New(source rowstore.RowStore, enricher enrich.Client, oracle scorer.Oracle, strategy schema.Strategy, runs store.RunStore, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		source:   source,
		enricher: enricher,
		oracle:   oracle,
		strategy: strategy,
		runs:     runs,
		cfg:      cfg.withDefaults(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SchemaInput resumes the schema checkpoint. Overrides maps role names to
// header names and takes precedence over the inferred mapping.
type SchemaInput struct {
	Overrides map[string]string `json:"overrides,omitempty"`
}

// PlanInput resumes the plan checkpoint. A positive BatchSize overrides the
// planned one.
type PlanInput struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// Start probes the source and suspends at the schema checkpoint. A probe
// failure is a misconfiguration, not a transient fault: it fails fast with no
// retry and no persisted run.
func (e *Engine) Start(ctx context.Context) (*model.PipelineSnapshot, error) {
	if err := e.source.Probe(ctx); err != nil {
		return nil, eris.Wrap(err, "pipeline: connect")
	}
	title, err := e.source.Title(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read title")
	}
	headers, err := e.source.Headers(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read headers")
	}

	records, err := e.source.ReadAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read rows")
	}

	samples := make([][]string, 0, sampleRowCount)
	for _, rec := range records {
		if len(samples) == sampleRowCount {
			break
		}
		samples = append(samples, rec.Values)
	}

	mapping := e.strategy.Infer(headers)

	now := time.Now().UTC()
	snap := &model.PipelineSnapshot{
		ID:            uuid.New().String(),
		Stage:         model.StageAwaitingSchema,
		SheetRef:      e.cfg.SheetRef,
		SheetTitle:    title,
		TargetProfile: e.cfg.TargetProfile,
		Headers:       headers,
		RowCount:      len(records),
		Proposal: &model.SchemaProposal{
			Headers:    headers,
			SampleRows: samples,
			Mapping:    mapping,
		},
		Mapping:   mapping,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(e.cfg.SuspensionTTL),
	}
	if err := e.runs.SavePipeline(ctx, snap); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: suspended awaiting schema confirmation",
		zap.String("run_id", snap.ID),
		zap.String("sheet", title),
		zap.Int("rows", snap.RowCount),
	)
	return snap, nil
}

// ConfirmSchema applies overrides, validates the required roles, computes the
// execution plan and suspends at the plan checkpoint.
func (e *Engine) ConfirmSchema(ctx context.Context, snap *model.PipelineSnapshot, input SchemaInput) (*model.PipelineSnapshot, error) {
	if err := validateResume(snap, model.StageAwaitingSchema); err != nil {
		return nil, err
	}

	mapping := make(model.ColumnMapping, len(snap.Mapping))
	for role, col := range snap.Mapping {
		mapping[role] = col
	}
	for role, header := range input.Overrides {
		col, err := headerIndex(snap.Headers, header)
		if err != nil {
			return nil, err
		}
		mapping[role] = col
	}

	if err := e.strategy.Validate(mapping); err != nil {
		return nil, err
	}

	snap.Mapping = mapping
	snap.Plan = &model.ExecutionPlan{
		RowCount:              snap.RowCount,
		BatchSize:             e.cfg.ConcurrencyLimit,
		EstimatedSecsPerRow:   e.cfg.SecsPerRow,
		TotalEstimatedSeconds: float64(snap.RowCount) * e.cfg.SecsPerRow,
	}
	snap.Stage = model.StageAwaitingPlan
	snap.UpdatedAt = time.Now().UTC()
	if err := e.runs.SavePipeline(ctx, snap); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: suspended awaiting plan approval",
		zap.String("run_id", snap.ID),
		zap.Int("batch_size", snap.Plan.BatchSize),
		zap.Float64("estimated_seconds", snap.Plan.TotalEstimatedSeconds),
	)
	return snap, nil
}

// ApprovePlan runs the processing pass to completion and summarizes it. Unit
// failures never abort the run; only setup-level faults return an error.
func (e *Engine) ApprovePlan(ctx context.Context, snap *model.PipelineSnapshot, input PlanInput) (*model.PipelineSummary, error) {
	if err := validateResume(snap, model.StageAwaitingPlan); err != nil {
		return nil, err
	}
	if snap.Plan == nil {
		return nil, eris.Errorf("pipeline: run %s has no execution plan", snap.ID)
	}
	if input.BatchSize > 0 {
		snap.Plan.BatchSize = input.BatchSize
	}

	snap.Stage = model.StageProcessing
	snap.UpdatedAt = time.Now().UTC()
	if err := e.runs.SavePipeline(ctx, snap); err != nil {
		return nil, err
	}

	started := time.Now()
	outcome, err := e.processAll(ctx, snap)
	if err != nil {
		snap.Stage = model.StageFailed
		snap.Error = err.Error()
		snap.UpdatedAt = time.Now().UTC()
		if saveErr := e.runs.SavePipeline(ctx, snap); saveErr != nil {
			zap.L().Error("pipeline: persist failed state", zap.Error(saveErr))
		}
		return nil, err
	}

	snap.Stage = model.StageSummarizing
	summary := Summarize(snap.Counters, outcome.scored, outcome.failures, time.Since(started))

	snap.Stage = model.StageComplete
	snap.UpdatedAt = time.Now().UTC()
	if err := e.runs.SavePipeline(ctx, snap); err != nil {
		return nil, err
	}

	zap.L().Info("pipeline: run complete",
		zap.String("run_id", snap.ID),
		zap.Int("processed", summary.Counters.Processed),
		zap.Int("succeeded", summary.Counters.Succeeded),
		zap.Int("failed", summary.Counters.Failed),
		zap.Int("qualified", summary.Counters.Qualified),
	)
	return summary, nil
}

// validateResume enforces the resume contract: the snapshot must be at the
// expected stage and not expired.
func validateResume(snap *model.PipelineSnapshot, want model.Stage) error {
	if snap.Stage != want {
		return eris.Errorf("pipeline: run %s is at stage %s, expected %s", snap.ID, snap.Stage, want)
	}
	if !snap.ExpiresAt.IsZero() && time.Now().After(snap.ExpiresAt) {
		return eris.Errorf("pipeline: run %s expired at %s", snap.ID, snap.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func headerIndex(headers []string, name string) (int, error) {
	for i, h := range headers {
		if strings.EqualFold(h, name) {
			return i, nil
		}
	}
	return 0, eris.Errorf("pipeline: no header named %q", name)
}
