package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/schema"
	"github.com/sells-group/outreach-cli/pkg/resend"
)

// statusHeaders are the delivery-status columns written after sending.
var statusHeaders = []string{"Status", "Sent At"}

// Send resumes the preview checkpoint and runs the send pass: staggered
// concurrent sends in batches, bounded retries per send, then a status
// write-back whose failure never retracts already-sent mail.
func (e *Engine) Send(ctx context.Context, snap *model.DispatchSnapshot, input PreviewInput) (*model.DispatchSummary, error) {
	if err := validateResume(snap, model.StageAwaitingPreview); err != nil {
		return nil, err
	}

	subject := snap.Subject
	if input.Subject != "" {
		subject = input.Subject
	}
	snap.Subject = subject

	targets := snap.Targets
	skipped := 0
	if input.EnforceCap && len(targets) > e.cfg.DailySendCap {
		skipped = len(targets) - e.cfg.DailySendCap
		targets = targets[:e.cfg.DailySendCap]
	}

	snap.Stage = model.StageSending
	snap.UpdatedAt = time.Now().UTC()
	if err := e.runs.SaveDispatch(ctx, snap); err != nil {
		return nil, err
	}

	outcomes := make([]model.SendOutcome, 0, len(targets))
	batchSize := e.cfg.BatchSize
	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}

		outcomes = append(outcomes, e.sendBatch(ctx, targets[start:end], subject)...)

		zap.L().Info("dispatch: batch complete",
			zap.String("run_id", snap.ID),
			zap.Int("batch_end", end),
			zap.Int("total", len(targets)),
		)

		if end < len(targets) {
			if err := resilience.Sleep(ctx, e.cfg.BatchDelay); err != nil {
				return nil, err
			}
		}
	}

	e.writeStatus(ctx, targets, outcomes)

	summary := summarize(outcomes, skipped)
	snap.Stage = model.StageComplete
	snap.UpdatedAt = time.Now().UTC()
	if err := e.runs.SaveDispatch(ctx, snap); err != nil {
		return nil, err
	}

	zap.L().Info("dispatch: run complete",
		zap.String("run_id", snap.ID),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped_over_cap", summary.SkippedOverCap),
	)
	return summary, nil
}

// sendBatch launches every send in the batch concurrently, task i delayed by
// i times the stagger interval. The stagger is a soft rate limiter; the
// barrier at the end is what bounds peak concurrency.
func (e *Engine) sendBatch(ctx context.Context, batch []model.DispatchTarget, subject string) []model.SendOutcome {
	var mu sync.Mutex
	outcomes := make([]model.SendOutcome, 0, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range batch {
		stagger := time.Duration(i) * e.cfg.StaggerDelay
		g.Go(func() error {
			outcome := e.sendOne(gctx, target, subject, stagger)
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck

	return outcomes
}

func (e *Engine) sendOne(ctx context.Context, target model.DispatchTarget, subject string, stagger time.Duration) model.SendOutcome {
	outcome := model.SendOutcome{RowIndex: target.RowIndex}

	if err := resilience.Sleep(ctx, stagger); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    e.cfg.MaxAttempts,
		InitialBackoff: e.cfg.RetryBackoff,
		OnRetry:        resilience.RetryLogger("resend", "send"),
	}, func(ctx context.Context) (*resend.SendResponse, error) {
		return e.mailer.Send(ctx, resend.SendRequest{
			From:    e.cfg.From,
			To:      []string{target.Email},
			Subject: renderSubject(subject, target),
			Text:    target.Message,
		})
	})
	if err != nil {
		zap.L().Warn("dispatch: send failed",
			zap.Int("row", target.RowIndex),
			zap.String("to", target.Email),
			zap.Error(err),
		)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.DeliveryID = resp.ID
	outcome.SentAt = time.Now().UTC()
	return outcome
}

// writeStatus records delivery status and timestamp per row. Sent mail stays
// sent whatever happens here: failures are logged and dropped.
func (e *Engine) writeStatus(ctx context.Context, targets []model.DispatchTarget, outcomes []model.SendOutcome) {
	headers, err := e.source.Headers(ctx)
	if err != nil {
		zap.L().Error("dispatch: read headers for status write", zap.Error(err))
		return
	}

	statusCol := 0
	if col, ok := e.strategy.Infer(headers)[schema.RoleStatus]; ok {
		statusCol = col + 1
	} else {
		statusCol = len(headers) + 1
		spec := rowstore.RangeSpec{StartRow: 1, StartCol: statusCol, EndRow: 1, EndCol: statusCol + 1}
		if err := e.source.WriteRange(ctx, spec, [][]string{statusHeaders}, rowstore.ModeOverwrite); err != nil {
			zap.L().Error("dispatch: write status headers", zap.Error(err))
			return
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.BatchSize)
	for _, outcome := range outcomes {
		g.Go(func() error {
			status := "sent"
			sentAt := ""
			if outcome.Error != "" {
				status = "failed: " + outcome.Error
			} else {
				sentAt = outcome.SentAt.Format(time.RFC3339)
			}

			spec := rowstore.RangeSpec{
				StartRow: outcome.RowIndex,
				StartCol: statusCol,
				EndRow:   outcome.RowIndex,
				EndCol:   statusCol + 1,
			}
			if err := e.source.WriteRange(gctx, spec, [][]string{{status, sentAt}}, rowstore.ModeOverwrite); err != nil {
				zap.L().Error("dispatch: write delivery status",
					zap.Int("row", outcome.RowIndex),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

func summarize(outcomes []model.SendOutcome, skipped int) *model.DispatchSummary {
	summary := &model.DispatchSummary{SkippedOverCap: skipped}

	var failures []model.FailureDetail
	for _, o := range outcomes {
		if o.Error != "" {
			summary.Failed++
			failures = append(failures, model.FailureDetail{RowIndex: o.RowIndex, Reason: o.Error})
			continue
		}
		summary.Sent++
	}

	if total := summary.Sent + summary.Failed; total > 0 {
		summary.SuccessRate = float64(summary.Sent) / float64(total)
	}

	if len(failures) > failureDetailCap {
		summary.Failures = failures[:failureDetailCap]
		summary.FailureOverflow = len(failures) - failureDetailCap
	} else {
		summary.Failures = failures
	}
	return summary
}
