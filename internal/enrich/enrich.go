// Package enrich produces research context text for a lead via an external
// search service. Failures degrade to a placeholder instead of propagating:
// a lead is always scorable, just with less context.
package enrich

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/tavily"
)

// FailureText is the degraded placeholder used when research fails. The
// scoring oracle sees it verbatim and scores on row fields alone.
const FailureText = "No external research data could be retrieved for this lead."

const maxQueryChars = 380

// Client produces consolidated research text for a query.
type Client interface {
	Research(ctx context.Context, query string) model.EnrichmentResult
}

// Config tunes the Tavily-backed client.
type Config struct {
	MaxResults  int
	MaxChars    int
	MaxAttempts int
	Backoff     time.Duration
}

// TavilyClient implements Client over the Tavily search API.
type TavilyClient struct {
	api tavily.Client
	cfg Config
}

// NewTavily creates an enrichment client backed by Tavily.
func NewTavily(api tavily.Client, cfg Config) *TavilyClient {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 3
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 2000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &TavilyClient{api: api, cfg: cfg}
}

// Research runs the search with bounded retries and consolidates the snippets.
// On exhausted retries it returns the degraded placeholder, never an error.
func (c *TavilyClient) Research(ctx context.Context, query string) model.EnrichmentResult {
	resp, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    c.cfg.MaxAttempts,
		InitialBackoff: c.cfg.Backoff,
		OnRetry:        resilience.RetryLogger("tavily", "search"),
	}, func(ctx context.Context) (*tavily.SearchResponse, error) {
		return c.api.Search(ctx, tavily.SearchRequest{
			Query:      query,
			MaxResults: c.cfg.MaxResults,
		})
	})
	if err != nil {
		zap.L().Warn("enrich: research failed, degrading",
			zap.String("query", query),
			zap.Error(err),
		)
		return model.EnrichmentResult{Text: FailureText, Succeeded: false}
	}

	text := Consolidate(resp, c.cfg.MaxChars)
	if text == "" {
		return model.EnrichmentResult{Text: FailureText, Succeeded: false}
	}
	return model.EnrichmentResult{Text: text, Succeeded: true}
}

// Consolidate merges the answer and result snippets into one bounded block.
func Consolidate(resp *tavily.SearchResponse, maxChars int) string {
	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString(resp.Answer)
		b.WriteString("\n\n")
	}
	for _, r := range resp.Results {
		if r.Content == "" {
			continue
		}
		if r.Title != "" {
			b.WriteString(r.Title)
			b.WriteString(": ")
		}
		b.WriteString(r.Content)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(b.String())
	runes := []rune(text)
	if len(runes) > maxChars {
		text = string(runes[:maxChars])
	}
	return text
}

// BuildQuery composes the research query from the lead's primary entity name
// and the target-profile keywords, bounded to the search API's query limit.
func BuildQuery(entity, targetProfile string) string {
	q := strings.TrimSpace(entity)
	if q == "" {
		return ""
	}
	q += " company overview"
	if kw := strings.TrimSpace(targetProfile); kw != "" {
		q += " " + kw
	}
	runes := []rune(q)
	if len(runes) > maxQueryChars {
		q = string(runes[:maxQueryChars])
	}
	return q
}
