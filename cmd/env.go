package main

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/dispatch"
	"github.com/sells-group/outreach-cli/internal/enrich"
	"github.com/sells-group/outreach-cli/internal/pipeline"
	"github.com/sells-group/outreach-cli/internal/rowstore"
	"github.com/sells-group/outreach-cli/internal/schema"
	"github.com/sells-group/outreach-cli/internal/scorer"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/resend"
	"github.com/sells-group/outreach-cli/pkg/sheets"
	"github.com/sells-group/outreach-cli/pkg/tavily"
)

// initStore opens the run-snapshot store named by config and migrates it.
func initStore(ctx context.Context) (store.RunStore, error) {
	var st store.RunStore
	var err error

	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outreach.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initSource resolves a sheet reference to a row source. A path ending in
// .xlsx opens a local workbook; anything else is treated as a Google Sheets
// spreadsheet ID.
func initSource(ref string) (rowstore.RowStore, string, error) {
	if ref == "" {
		ref = cfg.Sheets.SpreadsheetID
	}
	if ref == "" {
		return nil, "", eris.New("no sheet given: pass --sheet or set OUTREACH_SHEETS_SPREADSHEET_ID")
	}

	if strings.HasSuffix(strings.ToLower(ref), ".xlsx") {
		src, err := rowstore.OpenXLSX(ref)
		return src, ref, err
	}

	if cfg.Sheets.Token == "" {
		return nil, "", eris.New("sheets token is required (OUTREACH_SHEETS_TOKEN)")
	}
	client := sheets.NewClient(sheets.StaticToken(cfg.Sheets.Token),
		sheets.WithBaseURL(cfg.Sheets.BaseURL),
		sheets.WithRequestsPerMinute(cfg.Sheets.RequestsPerMinute),
	)
	return rowstore.NewSheets(client, ref), ref, nil
}

func initStrategy() (schema.Strategy, error) {
	if cfg.Schema.AliasFile != "" {
		s, err := schema.Load(cfg.Schema.AliasFile)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return schema.Default(), nil
}

// initPipelineEngine wires a pipeline engine over the given sheet using the
// provided run store. The caller owns closing the store.
func initPipelineEngine(st store.RunStore, sheetRef, profile string, opts ...pipeline.Option) (*pipeline.Engine, error) {
	if cfg.Tavily.Key == "" {
		return nil, eris.New("tavily key is required (OUTREACH_TAVILY_KEY)")
	}
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic key is required (OUTREACH_ANTHROPIC_KEY)")
	}

	source, ref, err := initSource(sheetRef)
	if err != nil {
		return nil, err
	}
	strategy, err := initStrategy()
	if err != nil {
		return nil, err
	}

	enricher := enrich.NewTavily(
		tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL)),
		enrich.Config{
			MaxResults:  cfg.Tavily.MaxResults,
			MaxChars:    cfg.Pipeline.EnrichmentChars,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			Backoff:     cfg.Pipeline.RetryBackoff,
		},
	)

	oracle := scorer.New(
		anthropic.NewClient(cfg.Anthropic.Key),
		scorer.Config{
			Model:                  cfg.Anthropic.Model,
			MaxTokens:              cfg.Anthropic.MaxTokens,
			QualificationThreshold: cfg.Scorer.QualificationThreshold,
			DefaultScore:           cfg.Scorer.DefaultScore,
		},
	)

	if profile == "" {
		profile = cfg.Scorer.TargetProfile
	}

	return pipeline.New(source, enricher, oracle, strategy, st, pipeline.Config{
		ConcurrencyLimit: cfg.Pipeline.ConcurrencyLimit,
		FlushThreshold:   cfg.Pipeline.FlushThreshold,
		SecsPerRow:       cfg.Pipeline.SecsPerRow,
		ChunkCooldown:    cfg.Pipeline.ChunkCooldown,
		MaxAttempts:      cfg.Pipeline.MaxAttempts,
		RetryBackoff:     cfg.Pipeline.RetryBackoff,
		TargetProfile:    profile,
		SheetRef:         ref,
		SuspensionTTL:    cfg.Store.SuspensionTTL,
	}, opts...), nil
}

// initDispatchEngine wires a dispatch engine over the given sheet using the
// provided run store. The caller owns closing the store.
func initDispatchEngine(st store.RunStore, sheetRef string) (*dispatch.Engine, error) {
	if cfg.Resend.Key == "" {
		return nil, eris.New("resend key is required (OUTREACH_RESEND_KEY)")
	}
	if cfg.Resend.From == "" {
		return nil, eris.New("sender address is required (OUTREACH_RESEND_FROM)")
	}

	source, ref, err := initSource(sheetRef)
	if err != nil {
		return nil, err
	}
	strategy, err := initStrategy()
	if err != nil {
		return nil, err
	}

	mailer := resend.NewClient(cfg.Resend.Key, resend.WithBaseURL(cfg.Resend.BaseURL))

	return dispatch.New(source, mailer, strategy, st, dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		StaggerDelay:  cfg.Dispatch.StaggerDelay,
		BatchDelay:    cfg.Dispatch.BatchDelay,
		MaxAttempts:   cfg.Dispatch.MaxAttempts,
		RetryBackoff:  cfg.Dispatch.RetryBackoff,
		DailySendCap:  cfg.Dispatch.DailySendCap,
		Subject:       cfg.Dispatch.SubjectTemplate,
		From:          cfg.Resend.From,
		SheetRef:      ref,
		SuspensionTTL: cfg.Store.SuspensionTTL,
	}), nil
}
