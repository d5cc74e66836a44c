// Package dispatch runs the send pass: load previously scored rows, filter
// them to sendable targets, preview a sample for confirmation, then send in
// staggered batches and write delivery status back.
package dispatch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/schema"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/resend"
)

const (
	previewSampleCount = 3
	previewBodyChars   = 200
	failureDetailCap   = 5
)

// DefaultSubject is the subject template used when none is configured.
// {company} is replaced per target.
const DefaultSubject = "Quick question about {company}"

// Config tunes the engine. Zero values fall back to working defaults.
type Config struct {
	BatchSize     int
	StaggerDelay  time.Duration
	BatchDelay    time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	DailySendCap  int
	Subject       string
	From          string
	SheetRef      string
	SuspensionTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.StaggerDelay <= 0 {
		c.StaggerDelay = 200 * time.Millisecond
	}
	if c.BatchDelay <= 0 {
		c.BatchDelay = 3 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 2 * time.Second
	}
	if c.DailySendCap <= 0 {
		c.DailySendCap = 500
	}
	if strings.TrimSpace(c.Subject) == "" {
		c.Subject = DefaultSubject
	}
	if c.SuspensionTTL <= 0 {
		c.SuspensionTTL = 72 * time.Hour
	}
	return c
}

// Engine orchestrates one dispatch run over a single row source.
type Engine struct {
	source   rowstore.RowStore
	mailer   resend.Client
	strategy schema.Strategy
	runs     store.RunStore
	cfg      Config
}

// New creates a dispatch engine.
func New(source rowstore.RowStore, mailer resend.Client, strategy schema.Strategy, runs store.RunStore, cfg Config) *Engine {
	return &Engine{
		source:   source,
		mailer:   mailer,
		strategy: strategy,
		runs:     runs,
		cfg:      cfg.withDefaults(),
	}
}

// PreviewInput resumes the preview checkpoint. A non-empty Subject overrides
// the default template. EnforceCap truncates the target list to the daily
// send cap instead of merely warning about it.
type PreviewInput struct {
	Subject    string `json:"subject,omitempty"`
	EnforceCap bool   `json:"enforce_cap,omitempty"`
}

// Load reads the full sheet and extracts dispatch targets by alias-matching
// the headers. This pass is independent of any pipeline run: it may execute
// much later, against a sheet whose columns were renamed or reordered.
func (e *Engine) Load(ctx context.Context) ([]model.DispatchTarget, error) {
	records, err := e.source.ReadAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "dispatch: read rows")
	}
	if len(records) == 0 {
		return nil, nil
	}

	mapping := e.strategy.Infer(records[0].Columns)

	targets := make([]model.DispatchTarget, 0, len(records))
	for _, rec := range records {
		targets = append(targets, model.DispatchTarget{
			RowIndex:  rec.RowIndex,
			Email:     roleValue(rec, mapping, schema.RoleEmail),
			Company:   roleValue(rec, mapping, schema.RoleCompany),
			Score:     parseScore(roleValue(rec, mapping, schema.RoleScore)),
			Qualifies: parseBool(roleValue(rec, mapping, schema.RoleQualified)),
			Message:   roleValue(rec, mapping, schema.RoleMessage),
			Summary:   roleValue(rec, mapping, schema.RoleSummary),
			Industry:  roleValue(rec, mapping, schema.RoleIndustry),
		})
	}
	return targets, nil
}

// Start probes the source, loads and filters targets, and suspends at the
// preview checkpoint. The over-cap warning is advisory: it never blocks the
// run by itself.
func (e *Engine) Start(ctx context.Context, criterion Criterion) (*model.DispatchSnapshot, error) {
	if err := e.source.Probe(ctx); err != nil {
		return nil, eris.Wrap(err, "dispatch: connect")
	}

	targets, err := e.Load(ctx)
	if err != nil {
		return nil, err
	}
	filtered := Filter(targets, criterion)

	preview := buildPreview(filtered, e.cfg.DailySendCap, e.cfg.Subject)

	now := time.Now().UTC()
	snap := &model.DispatchSnapshot{
		ID:        uuid.New().String(),
		Stage:     model.StageAwaitingPreview,
		SheetRef:  e.cfg.SheetRef,
		Criterion: criterion.String(),
		Targets:   filtered,
		Preview:   preview,
		Subject:   e.cfg.Subject,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(e.cfg.SuspensionTTL),
	}
	if err := e.runs.SaveDispatch(ctx, snap); err != nil {
		return nil, err
	}

	zap.L().Info("dispatch: suspended awaiting preview confirmation",
		zap.String("run_id", snap.ID),
		zap.String("criterion", snap.Criterion),
		zap.Int("targets", len(filtered)),
		zap.Bool("over_cap", preview.OverCap),
	)
	return snap, nil
}

func buildPreview(targets []model.DispatchTarget, sendCap int, subject string) *model.DispatchPreview {
	preview := &model.DispatchPreview{
		TotalTargets: len(targets),
		DailySendCap: sendCap,
	}
	if len(targets) > sendCap {
		preview.OverCap = true
		preview.OverCapAmount = len(targets) - sendCap
	}

	for i, t := range targets {
		if i == previewSampleCount {
			break
		}
		body := t.Message
		if runes := []rune(body); len(runes) > previewBodyChars {
			body = string(runes[:previewBodyChars]) + "..."
		}
		preview.Samples = append(preview.Samples, model.PreviewSample{
			Recipient: t.Email,
			Subject:   renderSubject(subject, t),
			Body:      body,
		})
	}
	return preview
}

func renderSubject(template string, t model.DispatchTarget) string {
	return strings.ReplaceAll(template, "{company}", t.Company)
}

func validateResume(snap *model.DispatchSnapshot, want model.Stage) error {
	if snap.Stage != want {
		return eris.Errorf("dispatch: run %s is at stage %s, expected %s", snap.ID, snap.Stage, want)
	}
	if !snap.ExpiresAt.IsZero() && time.Now().After(snap.ExpiresAt) {
		return eris.Errorf("dispatch: run %s expired at %s", snap.ID, snap.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func roleValue(rec model.LeadRecord, mapping model.ColumnMapping, role string) string {
	col, ok := mapping[role]
	if !ok {
		return ""
	}
	return rec.At(col)
}

// parseScore tolerates store-level type coercion: sheets may render integral
// scores as "85" or "85.0".
func parseScore(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}
