package pipeline

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/schema"
)

// rowOutcome is the result of one per-row task, folded into the snapshot only
// after the chunk barrier so counters stay chunk-granular.
type rowOutcome struct {
	rowIndex int
	company  string
	result   model.ScoreResult
	err      error
}

// runOutcome accumulates what summarize needs beyond the counters.
type runOutcome struct {
	scored   []scoredRow
	failures []model.FailureDetail
}

type scoredRow struct {
	rowIndex int
	company  string
	result   model.ScoreResult
}

// processAll is the core pass: write result headers, then process consecutive
// chunks of plan.BatchSize rows with a barrier between chunks. A chunk's
// buffered writes are flushed before the next chunk issues external calls.
func (e *Engine) processAll(ctx context.Context, snap *model.PipelineSnapshot) (*runOutcome, error) {
	resultStart := len(snap.Headers) + 1

	headerSpec := rowstore.RangeSpec{
		StartRow: 1,
		StartCol: resultStart,
		EndRow:   1,
		EndCol:   resultStart + len(resultHeaders) - 1,
	}
	if err := e.source.WriteRange(ctx, headerSpec, [][]string{resultHeaders}, rowstore.ModeOverwrite); err != nil {
		return nil, err
	}

	records, err := e.source.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	batchSize := snap.Plan.BatchSize
	totalChunks := (len(records) + batchSize - 1) / batchSize
	outcome := &runOutcome{}
	companyCol, hasCompany := snap.Mapping[schema.RoleCompany]
	if !hasCompany {
		companyCol = -1
	}

	// The persisted profile wins so a resumed run scores exactly as the run
	// that was suspended, whatever the resuming process is configured with.
	profile := snap.TargetProfile
	if profile == "" {
		profile = e.cfg.TargetProfile
	}

	for chunk := 0; chunk*batchSize < len(records); chunk++ {
		start := chunk * batchSize
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}

		outcomes := e.processChunk(ctx, records[start:end], companyCol, profile)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		for _, o := range outcomes {
			snap.Counters.Processed++
			if o.err != nil {
				snap.Counters.Failed++
				outcome.failures = append(outcome.failures, model.FailureDetail{
					RowIndex: o.rowIndex,
					Reason:   o.err.Error(),
				})
				continue
			}
			snap.Counters.Succeeded++
			if o.result.Degraded {
				snap.Counters.Degraded++
			}
			if o.result.Qualifies {
				snap.Counters.Qualified++
			}
			snap.PendingWrites = append(snap.PendingWrites, model.PendingWrite{
				RowIndex: o.rowIndex,
				Result:   o.result,
			})
			outcome.scored = append(outcome.scored, scoredRow{
				rowIndex: o.rowIndex,
				company:  o.company,
				result:   o.result,
			})
		}

		final := end == len(records)
		if final || len(snap.PendingWrites) >= e.cfg.FlushThreshold {
			e.flush(ctx, snap, resultStart, batchSize)
		}

		snap.UpdatedAt = time.Now().UTC()
		if err := e.runs.SavePipeline(ctx, snap); err != nil {
			zap.L().Error("pipeline: persist checkpoint", zap.Error(err))
		}

		progress := model.ChunkProgress{
			Chunk:       chunk + 1,
			TotalChunks: totalChunks,
			Percent:     float64(snap.Counters.Processed) / float64(len(records)) * 100,
			Counters:    snap.Counters,
		}
		zap.L().Info("pipeline: chunk complete",
			zap.Int("chunk", progress.Chunk),
			zap.Int("total_chunks", progress.TotalChunks),
			zap.Float64("percent", progress.Percent),
			zap.Int("succeeded", snap.Counters.Succeeded),
			zap.Int("failed", snap.Counters.Failed),
			zap.Int("qualified", snap.Counters.Qualified),
		)
		if e.progress != nil {
			e.progress(progress)
		}

		if !final {
			if err := resilience.Sleep(ctx, e.cfg.ChunkCooldown); err != nil {
				return nil, err
			}
		}
	}

	return outcome, nil
}

// processChunk runs the per-row tasks for one chunk and waits for all of them.
// Row errors are data, not failures of the chunk.
func (e *Engine) processChunk(ctx context.Context, chunk []model.LeadRecord, companyCol int, profile string) []rowOutcome {
	var mu sync.Mutex
	outcomes := make([]rowOutcome, 0, len(chunk))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(chunk))

	for _, rec := range chunk {
		rowIndex := rec.RowIndex
		company := entityOf(rec, companyCol)
		g.Go(func() error {
			result, err := e.processRow(gctx, rowIndex, companyCol, profile)
			mu.Lock()
			outcomes = append(outcomes, rowOutcome{rowIndex: rowIndex, company: company, result: result, err: err})
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return outcomes
}

// processRow is one per-row task: read, enrich, score. The whole sequence
// retries on error; enrichment degrades internally and never contributes an
// error here.
func (e *Engine) processRow(ctx context.Context, rowIndex, companyCol int, profile string) (model.ScoreResult, error) {
	return resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxAttempts,
		InitialBackoff: e.cfg.RetryBackoff,
		OnRetry:        resilience.RetryLogger("pipeline", "process_row"),
	}, func(ctx context.Context) (model.ScoreResult, error) {
		rec, err := e.source.ReadRow(ctx, rowIndex)
		if err != nil {
			return model.ScoreResult{}, err
		}

		entity := entityOf(rec, companyCol)
		research := e.enricher.Research(ctx, enrich.BuildQuery(entity, profile))

		return e.oracle.Score(ctx, rec, research.Text, profile)
	})
}

// flush writes all buffered results concurrently, one disjoint row range per
// write, then clears the buffer. A rejected write is logged and dropped: the
// row stays counted as succeeded and the run continues.
func (e *Engine) flush(ctx context.Context, snap *model.PipelineSnapshot, resultStart, limit int) {
	if len(snap.PendingWrites) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, pw := range snap.PendingWrites {
		pw := pw
		g.Go(func() error {
			spec := rowstore.RangeSpec{
				StartRow: pw.RowIndex,
				StartCol: resultStart,
				EndRow:   pw.RowIndex,
				EndCol:   resultStart + len(resultHeaders) - 1,
			}
			values := [][]string{resultRow(pw.Result)}
			if err := e.source.WriteRange(gctx, spec, values, rowstore.ModeOverwrite); err != nil {
				zap.L().Error("pipeline: write back row",
					zap.Int("row", pw.RowIndex),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	snap.PendingWrites = snap.PendingWrites[:0]
}

func resultRow(r model.ScoreResult) []string {
	qualified := "false"
	if r.Qualifies {
		qualified = "true"
	}
	return []string{r.Summary, strconv.Itoa(r.Score), qualified, r.Message}
}

// entityOf resolves the primary entity name for a record: the mapped company
// column when present and non-empty, otherwise the first non-empty cell.
func entityOf(rec model.LeadRecord, companyCol int) string {
	if companyCol >= 0 {
		if v := rec.At(companyCol); v != "" {
			return v
		}
	}
	for i := range rec.Columns {
		if v := rec.At(i); v != "" {
			return v
		}
	}
	return ""
}
